package config

import "strings"

// Environment variables consulted when the config file leaves the LLM
// section empty.
const (
	EnvLLMProvider = "LLM_PROVIDER"
	EnvLLMAPIKey   = "LLM_API_KEY"
	EnvLLMModel    = "LLM_MODEL"
	EnvLLMBaseURL  = "LLM_BASE_URL"

	DefaultLLMProvider = "openai"
	DefaultLLMModel    = "gpt-4o"
)

type lookupFunc func(key string) (string, bool)

func applyEnvFallbacks(cfg *Config, lookup lookupFunc) {
	env := func(key string) string {
		if lookup == nil {
			return ""
		}
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = env(EnvLLMProvider)
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = DefaultLLMProvider
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = env(EnvLLMAPIKey)
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = env(EnvLLMModel)
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultLLMModel
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = env(EnvLLMBaseURL)
	}
}
