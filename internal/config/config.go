package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the main configuration structure for vibekit.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Pricing       []PriceConfig       `yaml:"pricing"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// TrustedProxies lists proxy addresses whose X-Forwarded-For header is
	// honored when deriving the client key for rate limiting.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// AllowedOrigins enables CORS for the listed browser origins. "*"
	// allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver selects the document store backend: memory, sqlite or postgres.
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// LLMConfig holds the environment-level LLM defaults. Settings saved through
// the API take precedence when they carry an API key.
type LLMConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	MaxRetries int    `yaml:"max_retries"`
	MaxTokens  int    `yaml:"max_tokens"`
}

type AgentConfig struct {
	PersistInterval   time.Duration `yaml:"persist_interval"`
	MaxIterations     int           `yaml:"max_iterations"`
	StaleRunTTL       time.Duration `yaml:"stale_run_ttl"`
	ReconcileSchedule string        `yaml:"reconcile_schedule"`
	SummaryMaxChars   int           `yaml:"summary_max_chars"`
}

type RateLimitConfig struct {
	Disabled bool          `yaml:"disabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	MaxKeys  int           `yaml:"max_keys"`
}

// PriceConfig overrides or extends the built-in price table. Prices are USD
// per million tokens.
type PriceConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	InputPrice  float64 `yaml:"input_price"`
	OutputPrice float64 `yaml:"output_price"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool          `yaml:"metrics_enabled"`
	Tracing        TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// KnownProviders lists the provider identifiers accepted in configuration
// and settings.
var KnownProviders = []string{"openai", "anthropic", "gemini", "google", "deepseek"}

// Load reads, merges and validates the configuration file at path. Includes
// are resolved and ${VAR} references are expanded before decoding.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnvFallbacks(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration built only from defaults and environment
// variables, used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvFallbacks(cfg, os.LookupEnv)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = "vibekit.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 8192
	}
	if cfg.Agent.PersistInterval == 0 {
		cfg.Agent.PersistInterval = 300 * time.Millisecond
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 25
	}
	if cfg.Agent.StaleRunTTL == 0 {
		cfg.Agent.StaleRunTTL = 15 * time.Minute
	}
	if cfg.Agent.ReconcileSchedule == "" {
		cfg.Agent.ReconcileSchedule = "@every 1m"
	}
	if cfg.Agent.SummaryMaxChars == 0 {
		cfg.Agent.SummaryMaxChars = 80
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 100
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.RateLimit.MaxKeys == 0 {
		cfg.RateLimit.MaxKeys = 10000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "vibekit"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be one of memory, sqlite, postgres", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.LLM.Provider != "" && !IsKnownProvider(c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider %q must be one of %s", c.LLM.Provider, strings.Join(KnownProviders, ", ")))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	if c.Agent.PersistInterval < 0 {
		errs = append(errs, errors.New("agent.persist_interval must be positive"))
	}
	if c.Agent.MaxIterations < 0 {
		errs = append(errs, errors.New("agent.max_iterations must be positive"))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, errors.New("rate_limit.requests must be positive"))
	}
	if c.RateLimit.Window < 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	for i, p := range c.Pricing {
		if strings.TrimSpace(p.Model) == "" {
			errs = append(errs, fmt.Errorf("pricing[%d].model is required", i))
		}
		if p.InputPrice < 0 || p.OutputPrice < 0 {
			errs = append(errs, fmt.Errorf("pricing[%d] prices must not be negative", i))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// IsKnownProvider reports whether name is a supported LLM provider id.
func IsKnownProvider(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, known := range KnownProviders {
		if name == known {
			return true
		}
	}
	return false
}
