package store

import (
	"context"
	"fmt"
	"strings"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "memory":
		return NewMemoryStore(), nil
	case "", "sqlite", "sqlite3":
		cfg.Driver = "sqlite"
		if cfg.DSN == "" {
			cfg.DSN = DefaultConfig().DSN
		}
		return OpenSQL(ctx, cfg)
	case "postgres", "postgresql":
		cfg.Driver = "postgres"
		return OpenSQL(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
