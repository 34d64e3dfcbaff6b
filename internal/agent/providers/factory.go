package providers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/vibekit/internal/agent"
)

// ErrUnknownProvider is returned by New for provider names it cannot build.
var ErrUnknownProvider = errors.New("unknown provider")

// Default models used when neither settings nor config name one.
const (
	DefaultOpenAIModel    = "gpt-4o"
	DefaultDeepSeekModel  = "deepseek-chat"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultGeminiModel    = "gemini-2.5-flash"
)

// DefaultModel returns the model a provider uses when none is configured.
func DefaultModel(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "deepseek":
		return DefaultDeepSeekModel
	case "anthropic":
		return DefaultAnthropicModel
	case "gemini", "google":
		return DefaultGeminiModel
	default:
		return DefaultOpenAIModel
	}
}

// Config selects and configures one provider.
type Config struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// New builds the provider named by cfg.Provider. "google" is accepted as an
// alias for "gemini".
func New(cfg Config) (agent.LLMProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "deepseek":
		return NewDeepSeekProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "gemini", "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
