// Package settings stores studio-wide key/value settings such as the LLM
// credentials entered in the UI.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/haasonsaas/vibekit/internal/config"
	"github.com/haasonsaas/vibekit/internal/store"
)

// Collection holds one record per settings key; the record id is the key.
const Collection = "_settings"

// KeyLLM is the settings key for LLM credentials.
const KeyLLM = "llm"

// ErrMissingKey is returned when a settings key is empty.
var ErrMissingKey = errors.New("missing key")

// Source says where the effective LLM configuration came from.
type Source string

const (
	SourceSettings Source = "settings"
	SourceEnv      Source = "env"
)

// LLM is the stored shape of the llm setting.
type LLM struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
}

// Resolved is the LLM configuration a run uses.
type Resolved struct {
	LLM
	MaxRetries int
	MaxTokens  int
	Source     Source
}

// Status reports whether any API key is available. Source is nil when
// neither settings nor the environment provide one.
type Status struct {
	Configured bool    `json:"configured"`
	Source     *Source `json:"source"`
}

// Service reads and writes settings. Environment-level defaults come from
// the llm config section and can be swapped at runtime on config reload.
type Service struct {
	store store.Store

	mu       sync.RWMutex
	fallback config.LLMConfig
}

// NewService creates a settings service.
func NewService(s store.Store, fallback config.LLMConfig) *Service {
	return &Service{store: s, fallback: fallback}
}

// SetFallback replaces the environment-level defaults.
func (s *Service) SetFallback(cfg config.LLMConfig) {
	s.mu.Lock()
	s.fallback = cfg
	s.mu.Unlock()
}

func (s *Service) fallbackLLM() config.LLMConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// Get returns the raw stored value for key, or nil when it is unset.
func (s *Service) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrMissingKey
	}
	rec, err := s.store.Get(ctx, Collection, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	raw, ok := rec.Fields["value"]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

// GetPublic returns the value for key as shown to clients. For the llm key
// the API key is masked and has_api_key is added.
func (s *Service) GetPublic(ctx context.Context, key string) (any, error) {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	var value map[string]any
	if key != KeyLLM || json.Unmarshal(raw, &value) != nil {
		return raw, nil
	}
	apiKey, _ := value["api_key"].(string)
	value["api_key"] = MaskAPIKey(apiKey)
	value["has_api_key"] = apiKey != ""
	return value, nil
}

// Save stores value under key. Saving llm settings without an api_key
// keeps the previously stored key.
func (s *Service) Save(ctx context.Context, key string, value json.RawMessage) error {
	if strings.TrimSpace(key) == "" {
		return ErrMissingKey
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	if !json.Valid(value) {
		return fmt.Errorf("setting %s: value is not valid JSON", key)
	}

	if key == KeyLLM {
		merged, err := s.mergeLLM(ctx, value)
		if err != nil {
			return err
		}
		value = merged
	}

	_, err := s.store.Update(ctx, Collection, key, map[string]any{"value": value})
	if errors.Is(err, store.ErrNotFound) {
		_, err = s.store.Create(ctx, Collection, map[string]any{"id": key, "value": value})
		if errors.Is(err, store.ErrAlreadyExists) {
			_, err = s.store.Update(ctx, Collection, key, map[string]any{"value": value})
		}
	}
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

func (s *Service) mergeLLM(ctx context.Context, value json.RawMessage) (json.RawMessage, error) {
	var incoming map[string]any
	if err := json.Unmarshal(value, &incoming); err != nil || incoming == nil {
		return value, nil
	}
	// has_api_key is derived on read; clients echo it back.
	delete(incoming, "has_api_key")
	if key, _ := incoming["api_key"].(string); key == "" {
		existing, err := s.storedLLM(ctx)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.APIKey != "" {
			incoming["api_key"] = existing.APIKey
		}
	}
	return json.Marshal(incoming)
}

func (s *Service) storedLLM(ctx context.Context) (*LLM, error) {
	raw, err := s.Get(ctx, KeyLLM)
	if err != nil || raw == nil {
		return nil, err
	}
	var llm LLM
	if err := json.Unmarshal(raw, &llm); err != nil {
		return nil, fmt.Errorf("decode llm settings: %w", err)
	}
	return &llm, nil
}

// Resolve returns the effective LLM configuration: stored settings when
// they carry an API key, otherwise the configured defaults.
func (s *Service) Resolve(ctx context.Context) (Resolved, error) {
	fb := s.fallbackLLM()
	stored, err := s.storedLLM(ctx)
	if err != nil {
		return Resolved{}, err
	}
	if stored != nil && stored.APIKey != "" {
		llm := *stored
		llm.Provider = strings.ToLower(strings.TrimSpace(llm.Provider))
		if llm.Provider == "" {
			llm.Provider = config.DefaultLLMProvider
		}
		return Resolved{LLM: llm, MaxRetries: fb.MaxRetries, MaxTokens: fb.MaxTokens, Source: SourceSettings}, nil
	}
	return Resolved{
		LLM: LLM{
			Provider: fb.Provider,
			APIKey:   fb.APIKey,
			Model:    fb.Model,
			BaseURL:  fb.BaseURL,
		},
		MaxRetries: fb.MaxRetries,
		MaxTokens:  fb.MaxTokens,
		Source:     SourceEnv,
	}, nil
}

// Status reports whether an API key is available and where it comes from.
func (s *Service) Status(ctx context.Context) (Status, error) {
	stored, err := s.storedLLM(ctx)
	if err != nil {
		return Status{}, err
	}
	var src Source
	switch {
	case stored != nil && stored.APIKey != "":
		src = SourceSettings
	case s.fallbackLLM().APIKey != "":
		src = SourceEnv
	default:
		return Status{}, nil
	}
	return Status{Configured: true, Source: &src}, nil
}

// MaskAPIKey hides all but the last four characters of key. Keys shorter
// than eight characters mask to the empty string.
func MaskAPIKey(key string) string {
	n := utf8.RuneCountInString(key)
	if n < 8 {
		return ""
	}
	runes := []rune(key)
	return strings.Repeat("•", min(n-4, 20)) + string(runes[n-4:])
}
