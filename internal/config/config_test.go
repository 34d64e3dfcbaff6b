package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  host: 0.0.0.0
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearLLMEnv(t)
	path := writeConfig(t, "config.yaml", `
server:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Agent.PersistInterval != 300*time.Millisecond {
		t.Fatalf("persist interval = %v", cfg.Agent.PersistInterval)
	}
	if cfg.RateLimit.Requests != 100 || cfg.RateLimit.Window != time.Minute {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.LLM.Provider != DefaultLLMProvider || cfg.LLM.Model != DefaultLLMModel {
		t.Fatalf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	clearLLMEnv(t)
	path := writeConfig(t, "config.yaml", `
agent:
  persist_interval: 150ms
  stale_run_ttl: 2m
rate_limit:
  requests: 5
  window: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.PersistInterval != 150*time.Millisecond {
		t.Fatalf("persist interval = %v", cfg.Agent.PersistInterval)
	}
	if cfg.Agent.StaleRunTTL != 2*time.Minute {
		t.Fatalf("stale ttl = %v", cfg.Agent.StaleRunTTL)
	}
	if cfg.RateLimit.Requests != 5 || cfg.RateLimit.Window != 10*time.Second {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestLoadUsesEnvFallbacks(t *testing.T) {
	t.Setenv(EnvLLMProvider, "Anthropic")
	t.Setenv(EnvLLMAPIKey, "sk-env-key")
	t.Setenv(EnvLLMModel, "claude-sonnet-4")
	t.Setenv(EnvLLMBaseURL, "")

	path := writeConfig(t, "config.yaml", "logging:\n  level: debug\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("provider = %q", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "sk-env-key" {
		t.Fatalf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "claude-sonnet-4" {
		t.Fatalf("model = %q", cfg.LLM.Model)
	}
}

func TestLoadFileValuesWinOverEnv(t *testing.T) {
	t.Setenv(EnvLLMProvider, "gemini")
	t.Setenv(EnvLLMAPIKey, "env-key")

	path := writeConfig(t, "config.yaml", `
llm:
  provider: deepseek
  api_key: file-key
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "deepseek" || cfg.LLM.APIKey != "file-key" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
}

func TestLoadValidatesProviderAndDriver(t *testing.T) {
	clearLLMEnv(t)
	path := writeConfig(t, "config.yaml", `
llm:
  provider: mystery
database:
  driver: postgres
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"llm.provider", "database.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s error, got %v", want, err)
		}
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := writeConfig(t, "config.yaml", "version: 7\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestLoadJSON5WithInclude(t *testing.T) {
	clearLLMEnv(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("server:\n  port: 7000\n  host: 127.0.0.1\n"), 0o600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	main := filepath.Join(dir, "main.json5")
	content := `{
  // comments are allowed
  "$include": "base.yaml",
  server: { port: 7100 },
}`
	if err := os.WriteFile(main, []byte(content), 0o600); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Fatalf("port = %d, want include to be overridden", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("host = %q, want value from include", cfg.Server.Host)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestJSONSchemaUsesYAMLNames(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	if !json.Valid(data) {
		t.Fatalf("schema is not valid JSON")
	}
	for _, field := range []string{"persist_interval", "rate_limit", "reconcile_schedule"} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("schema missing %q", field)
		}
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearLLMEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvLLMProvider, EnvLLMAPIKey, EnvLLMModel, EnvLLMBaseURL} {
		t.Setenv(key, "")
	}
}
