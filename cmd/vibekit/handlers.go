package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/internal/config"
	"github.com/haasonsaas/vibekit/internal/coordinator"
	"github.com/haasonsaas/vibekit/internal/observability"
	"github.com/haasonsaas/vibekit/internal/projects"
	"github.com/haasonsaas/vibekit/internal/ratelimit"
	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/internal/settings"
	"github.com/haasonsaas/vibekit/internal/snapshots"
	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/internal/tools/project"
	"github.com/haasonsaas/vibekit/internal/usage"
	"github.com/haasonsaas/vibekit/internal/web"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe wires the server together and blocks until a shutdown signal.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	logger.Info("starting vibekit",
		"version", version,
		"commit", commit,
		"config", configPath,
		"config_file", fromFile,
		"store", cfg.Database.Driver,
		"llm_provider", cfg.LLM.Provider,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracer, shutdownTracer := observability.NewTracer(traceConfig(cfg))
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(reg)
		gatherer = reg
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	repo := projects.NewRepository(db)
	registry := runs.NewRegistry()
	settingsSvc := settings.NewService(db, cfg.LLM)
	snapshotSvc := snapshots.NewService(db, repo, registry)
	prices := usage.NewTable(priceOverrides(cfg)...)

	// Runs recorded as running by a previous process can never finish.
	reconciler := coordinator.NewReconciler(repo, registry, cfg.Agent.StaleRunTTL, logger)
	if n, err := reconciler.Sweep(ctx, 0); err != nil {
		logger.Error("startup reconcile failed", "error", err, "finalized", n)
	} else if n > 0 {
		logger.Info("finalized interrupted runs", "count", n)
	}
	if err := reconciler.Start(ctx, cfg.Agent.ReconcileSchedule); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	defer reconciler.Stop()

	coord, err := coordinator.New(coordinator.Config{
		PersistInterval: cfg.Agent.PersistInterval,
		MaxIterations:   cfg.Agent.MaxIterations,
		MaxTokens:       cfg.LLM.MaxTokens,
	}, coordinator.Deps{
		Projects:  repo,
		Snapshots: snapshotSvc,
		Settings:  settingsSvc,
		Registry:  registry,
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
			MaxKeys:  cfg.RateLimit.MaxKeys,
			Enabled:  !cfg.RateLimit.Disabled,
		}),
		Providers: coordinator.NewProvider,
		Tools: func(projectID string) *agent.ToolRegistry {
			return project.Registry(repo, projectID)
		},
		Prices:     prices,
		Summarizer: snapshots.NewSummarizer(prices, cfg.Agent.SummaryMaxChars, logger),
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	})
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	if fromFile {
		watcher, err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			settingsSvc.SetFallback(next.LLM)
			logger.Info("llm defaults reloaded", "provider", next.LLM.Provider, "model", next.LLM.Model)
		})
		if err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	handler, err := web.NewHandler(&web.Config{
		Agent:          coord,
		Projects:       repo,
		Snapshots:      snapshotSvc,
		Settings:       settingsSvc,
		Runs:           registry,
		TrustedProxies: cfg.Server.TrustedProxies,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        metrics,
		Gatherer:       gatherer,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("create http handler: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.Mount(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("vibekit started", "addr", server.Addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("agent shutdown: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("vibekit stopped gracefully")
	return nil
}

// =============================================================================
// Config and Maintenance Handlers
// =============================================================================

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s is valid (version %d, store %s, llm %s)\n",
		configPath, cfg.Version, cfg.Database.Driver, cfg.LLM.Provider)
	return nil
}

func runReconcile(ctx context.Context, out io.Writer, configPath, olderThan string) error {
	age, err := time.ParseDuration(olderThan)
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reconciler := coordinator.NewReconciler(projects.NewRepository(db), runs.NewRegistry(), age, slog.Default())
	n, err := reconciler.Sweep(ctx, age)
	fmt.Fprintf(out, "Finalized %d interrupted run(s)\n", n)
	return err
}

// =============================================================================
// Wiring Helpers
// =============================================================================

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	db, err := store.Open(ctx, store.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

func traceConfig(cfg *config.Config) observability.TraceConfig {
	tc := observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	}
	if cfg.Observability.Tracing.Enabled {
		tc.Endpoint = cfg.Observability.Tracing.Endpoint
	}
	return tc
}

func priceOverrides(cfg *config.Config) []usage.Price {
	out := make([]usage.Price, 0, len(cfg.Pricing))
	for _, p := range cfg.Pricing {
		out = append(out, usage.Price{
			Provider: p.Provider,
			Model:    p.Model,
			Cost:     usage.Cost{Input: p.InputPrice, Output: p.OutputPrice},
		})
	}
	return out
}
