// Package usage prices agent runs from their token counts.
package usage

import (
	"fmt"
	"math"
	"strconv"
)

// Usage is the token count of one run.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Cost is a model price in USD per million tokens.
type Cost struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Estimate returns the USD cost of u. Negative counts count as zero.
func (c Cost) Estimate(u Usage) float64 {
	in := float64(max(u.InputTokens, 0))
	out := float64(max(u.OutputTokens, 0))
	return (in*c.Input + out*c.Output) / 1_000_000
}

// FormatUSD renders amount for log lines: cents for amounts of a cent or
// more, four decimals below.
func FormatUSD(amount float64) string {
	switch {
	case amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0):
		return "$0"
	case amount < 0.01:
		return fmt.Sprintf("$%.4f", amount)
	default:
		return fmt.Sprintf("$%.2f", amount)
	}
}

// FormatUsage renders u as "13k tokens (in: 12k, out: 1.5k)".
func FormatUsage(u Usage) string {
	if u.Total() <= 0 {
		return "0 tokens"
	}
	return fmt.Sprintf("%s tokens (in: %s, out: %s)", tokens(u.Total()), tokens(u.InputTokens), tokens(u.OutputTokens))
}

func tokens(n int64) string {
	switch {
	case n <= 0:
		return "0"
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fm", float64(n)/1_000_000)
	case n >= 10_000:
		return strconv.FormatInt(n/1_000, 10) + "k"
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return strconv.FormatInt(n, 10)
	}
}
