package usage

import (
	"strings"
)

// Price is the per-million-token price of one provider model.
type Price struct {
	Provider string
	Model    string
	Cost     Cost
}

// DefaultPrices is the built-in price table in USD per million tokens.
// Entries are matched exactly first and then by the longest model prefix, so
// dated ids such as "gpt-4o-2024-08-06" resolve to "gpt-4o".
var DefaultPrices = []Price{
	{Provider: "openai", Model: "gpt-4o", Cost: Cost{Input: 2.5, Output: 10}},
	{Provider: "openai", Model: "gpt-4o-mini", Cost: Cost{Input: 0.15, Output: 0.6}},
	{Provider: "openai", Model: "gpt-4.1", Cost: Cost{Input: 2, Output: 8}},
	{Provider: "openai", Model: "gpt-4.1-mini", Cost: Cost{Input: 0.4, Output: 1.6}},
	{Provider: "openai", Model: "gpt-4.1-nano", Cost: Cost{Input: 0.1, Output: 0.4}},
	{Provider: "openai", Model: "o3-mini", Cost: Cost{Input: 1.1, Output: 4.4}},
	{Provider: "anthropic", Model: "claude-opus-4", Cost: Cost{Input: 15, Output: 75}},
	{Provider: "anthropic", Model: "claude-sonnet-4", Cost: Cost{Input: 3, Output: 15}},
	{Provider: "anthropic", Model: "claude-3-7-sonnet", Cost: Cost{Input: 3, Output: 15}},
	{Provider: "anthropic", Model: "claude-3-5-sonnet", Cost: Cost{Input: 3, Output: 15}},
	{Provider: "anthropic", Model: "claude-3-5-haiku", Cost: Cost{Input: 0.8, Output: 4}},
	{Provider: "anthropic", Model: "claude-3-haiku", Cost: Cost{Input: 0.25, Output: 1.25}},
	{Provider: "gemini", Model: "gemini-2.5-pro", Cost: Cost{Input: 1.25, Output: 10}},
	{Provider: "gemini", Model: "gemini-2.5-flash", Cost: Cost{Input: 0.3, Output: 2.5}},
	{Provider: "gemini", Model: "gemini-2.0-flash", Cost: Cost{Input: 0.1, Output: 0.4}},
	{Provider: "gemini", Model: "gemini-2.0-flash-lite", Cost: Cost{Input: 0.075, Output: 0.3}},
	{Provider: "deepseek", Model: "deepseek-chat", Cost: Cost{Input: 0.27, Output: 1.1}},
	{Provider: "deepseek", Model: "deepseek-reasoner", Cost: Cost{Input: 0.55, Output: 2.19}},
}

// Table resolves model prices. The zero value is not usable; use NewTable.
type Table struct {
	prices []Price
}

// NewTable builds a table from DefaultPrices with overrides applied. An
// override replaces the entry with the same provider and model, or is
// appended when no such entry exists.
func NewTable(overrides ...Price) *Table {
	prices := make([]Price, len(DefaultPrices))
	copy(prices, DefaultPrices)
	for _, o := range overrides {
		o.Provider = NormalizeProvider(o.Provider)
		o.Model = strings.ToLower(strings.TrimSpace(o.Model))
		replaced := false
		for i := range prices {
			if prices[i].Provider == o.Provider && prices[i].Model == o.Model {
				prices[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			prices = append(prices, o)
		}
	}
	return &Table{prices: prices}
}

// NormalizeProvider maps provider aliases onto the ids used in the table.
func NormalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "google" {
		return "gemini"
	}
	return provider
}

// Lookup returns the price for a provider model. Entries of the given
// provider are searched first, then the whole table, so a model served
// through a compatible endpoint still resolves.
func (t *Table) Lookup(provider, model string) (Cost, bool) {
	provider = NormalizeProvider(provider)
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return Cost{}, false
	}
	if p, ok := t.match(provider, model); ok {
		return p.Cost, true
	}
	if p, ok := t.match("", model); ok {
		return p.Cost, true
	}
	return Cost{}, false
}

func (t *Table) match(provider, model string) (Price, bool) {
	var best Price
	found := false
	for _, p := range t.prices {
		if provider != "" && p.Provider != provider {
			continue
		}
		if p.Model == model {
			return p, true
		}
		if strings.HasPrefix(model, p.Model) && len(p.Model) > len(best.Model) {
			best = p
			found = true
		}
	}
	return best, found
}

// Cost estimates the USD cost of usage on a provider model. Unknown models
// cost 0 since the figure is advisory.
func (t *Table) Cost(provider, model string, u Usage) float64 {
	c, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	return c.Estimate(u)
}

// Cheapest returns the model of provider with the lowest combined input and
// output price. Ties go to the entry listed first.
func (t *Table) Cheapest(provider string) (string, bool) {
	provider = NormalizeProvider(provider)
	var best Price
	found := false
	for _, p := range t.prices {
		if p.Provider != provider {
			continue
		}
		if !found || p.Cost.Input+p.Cost.Output < best.Cost.Input+best.Cost.Output {
			best = p
			found = true
		}
	}
	return best.Model, found
}
