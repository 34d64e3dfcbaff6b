package snapshots

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/internal/usage"
)

// PromptLabelChars is how much of a prompt is kept in snapshot labels.
const PromptLabelChars = 60

const summarySystemPrompt = "You write one-line change summaries for a website builder's history. " +
	"Reply with a single plain sentence of at most 80 characters describing what changed. " +
	"No quotes, no trailing period, no markdown."

// TruncatePrompt shortens prompt to PromptLabelChars characters, adding an
// ellipsis when anything was cut.
func TruncatePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if utf8.RuneCountInString(prompt) <= PromptLabelChars {
		return prompt
	}
	return string([]rune(prompt)[:PromptLabelChars]) + "..."
}

// BeforeLabel is the summary of the snapshot taken when a run starts.
func BeforeLabel(prompt string) string {
	return "Before: " + TruncatePrompt(prompt)
}

// Clamp cuts s to at most n characters.
func Clamp(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Summarizer writes the one-line summary of a finished run with the
// cheapest model the active provider offers.
type Summarizer struct {
	prices   *usage.Table
	timeout  time.Duration
	maxChars int
	logger   *slog.Logger
}

// NewSummarizer creates a summarizer. maxChars caps the assistant text sent
// to the model.
func NewSummarizer(prices *usage.Table, maxChars int, logger *slog.Logger) *Summarizer {
	if prices == nil {
		prices = usage.NewTable()
	}
	if maxChars <= 0 {
		maxChars = 2000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{prices: prices, timeout: 30 * time.Second, maxChars: maxChars, logger: logger}
}

// Summarize returns a summary of the change, or fallback when the provider
// call fails or returns nothing.
func (s *Summarizer) Summarize(ctx context.Context, provider agent.LLMProvider, text string, toolNames []string, fallback string) string {
	if provider == nil {
		return Clamp(fallback, MaxSummaryChars)
	}
	model, _ := s.prices.Cheapest(provider.Name())

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Assistant reply:\n%s\n\n", Clamp(strings.TrimSpace(text), s.maxChars))
	if len(toolNames) > 0 {
		fmt.Fprintf(&prompt, "Tools used: %s\n", strings.Join(toolNames, ", "))
	} else {
		prompt.WriteString("Tools used: none\n")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := provider.Generate(ctx, &agent.CompletionRequest{
		Model:     model,
		System:    summarySystemPrompt,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: prompt.String()}},
		MaxTokens: 60,
	})
	if err != nil {
		s.logger.Warn("summary generation failed, using prompt", "provider", provider.Name(), "model", model, "error", err)
		return Clamp(fallback, MaxSummaryChars)
	}

	summary := firstLine(resp.Text)
	if summary == "" {
		return Clamp(fallback, MaxSummaryChars)
	}
	return Clamp(summary, MaxSummaryChars)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(strings.TrimSpace(s), `"'`)
}
