package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/haasonsaas/vibekit/internal/config"
)

const (
	envConfigPath     = "VIBEKIT_CONFIG"
	defaultConfigPath = "vibekit.yaml"
)

// resolveConfigPath determines the configuration file path: the explicit
// flag, then VIBEKIT_CONFIG, then vibekit.yaml.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig loads path. A missing default config file is not an error:
// the server then runs on defaults and environment variables alone.
func loadConfig(path string) (*config.Config, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, false, err
		}
		return cfg, false, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, true, nil
}
