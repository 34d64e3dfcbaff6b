// Package web serves the studio's JSON API and realtime subscriptions.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/vibekit/internal/coordinator"
	"github.com/haasonsaas/vibekit/internal/observability"
	"github.com/haasonsaas/vibekit/internal/projects"
	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/internal/settings"
	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// AgentStarter admits agent runs.
type AgentStarter interface {
	Start(ctx context.Context, req coordinator.StartRequest) (*coordinator.StartResult, error)
}

// ProjectService is the project persistence the API needs.
type ProjectService interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	Create(ctx context.Context, in projects.CreateInput) (*models.Project, error)
	UpdateChat(ctx context.Context, id string, chat []models.ChatEntry) error
	Subscribe(id string) (<-chan store.Event, func())
}

// SnapshotService lists and restores snapshots.
type SnapshotService interface {
	List(ctx context.Context, projectID string) ([]*models.Snapshot, error)
	Restore(ctx context.Context, projectID, snapshotID string) (*models.Snapshot, error)
}

// SettingsService reads and writes studio settings.
type SettingsService interface {
	GetPublic(ctx context.Context, key string) (any, error)
	Save(ctx context.Context, key string, value json.RawMessage) error
	Status(ctx context.Context) (settings.Status, error)
}

// RunSlots is the per-project single-flight table. Handlers that write a
// transcript outside the agent claim the slot for the duration of the write.
type RunSlots interface {
	TryAcquire(projectID string) (*runs.Permit, bool)
	Active() []string
}

// Config holds the API dependencies.
type Config struct {
	Agent     AgentStarter
	Projects  ProjectService
	Snapshots SnapshotService
	Settings  SettingsService
	Runs      RunSlots

	// TrustedProxies lists addresses or CIDRs whose forwarding headers are
	// believed when deriving the rate-limit client key.
	TrustedProxies []string

	// AllowedOrigins enables CORS for browser clients on other origins.
	AllowedOrigins []string

	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Handler is the HTTP API handler.
type Handler struct {
	config   *Config
	mux      *http.ServeMux
	clients  *clientKeyResolver
	upgrader websocket.Upgrader
}

// NewHandler creates the API handler.
func NewHandler(cfg *Config) (*Handler, error) {
	if cfg == nil {
		return nil, errors.New("web: config is required")
	}
	if cfg.Agent == nil || cfg.Projects == nil {
		return nil, errors.New("web: agent and project services are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	clients, err := newClientKeyResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		config:   cfg,
		mux:      http.NewServeMux(),
		clients:  clients,
		upgrader: newUpgrader(cfg.AllowedOrigins),
	}
	h.setupRoutes()
	return h, nil
}

// setupRoutes configures all HTTP routes.
func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.config.Gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.config.Gatherer, promhttp.HandlerOpts{}))
	}

	h.mux.HandleFunc("POST /api/projects", h.apiCreateProject)
	h.mux.HandleFunc("GET /api/projects/{id}", h.apiGetProject)
	h.mux.HandleFunc("GET /api/projects/{id}/subscribe", h.apiSubscribe)

	h.mux.HandleFunc("GET /api/projects/{id}/agent", h.apiGetAgent)
	h.mux.HandleFunc("POST /api/projects/{id}/agent", h.apiStartAgent)
	h.mux.HandleFunc("DELETE /api/projects/{id}/agent", h.apiClearAgent)

	if h.config.Snapshots != nil {
		h.mux.HandleFunc("GET /api/projects/{id}/snapshots", h.apiListSnapshots)
		h.mux.HandleFunc("POST /api/projects/{id}/snapshots/{sid}/restore", h.apiRestoreSnapshot)
	}

	if h.config.Settings != nil {
		h.mux.HandleFunc("GET /api/settings", h.apiGetSetting)
		h.mux.HandleFunc("POST /api/settings", h.apiSaveSetting)
		h.mux.HandleFunc("GET /api/settings/llm-status", h.apiLLMStatus)
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Mount returns the handler with middleware applied.
func (h *Handler) Mount() http.Handler {
	var handler http.Handler = h
	handler = MetricsMiddleware(h.config.Metrics)(handler)
	handler = LoggingMiddleware(h.config.Logger)(handler)
	if len(h.config.AllowedOrigins) > 0 {
		handler = CORSMiddleware(h.config.AllowedOrigins)(handler)
	}
	handler = RequestIDMiddleware()(handler)
	return handler
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := []string{}
	if h.config.Runs != nil {
		active = h.config.Runs.Active()
	}
	h.jsonResponse(w, map[string]any{"status": "ok", "active_runs": active})
}
