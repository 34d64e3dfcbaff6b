package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/vibekit/internal/config"
	"github.com/haasonsaas/vibekit/internal/coordinator"
	"github.com/haasonsaas/vibekit/internal/observability"
	"github.com/haasonsaas/vibekit/internal/projects"
	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/internal/settings"
	"github.com/haasonsaas/vibekit/internal/snapshots"
	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// fakeAgent records start requests and returns a canned outcome.
type fakeAgent struct {
	err  error
	reqs []coordinator.StartRequest
}

func (a *fakeAgent) Start(ctx context.Context, req coordinator.StartRequest) (*coordinator.StartResult, error) {
	a.reqs = append(a.reqs, req)
	if a.err != nil {
		return nil, a.err
	}
	return &coordinator.StartResult{Started: true, Status: "running", RunID: "r1"}, nil
}

type testEnv struct {
	handler  http.Handler
	agent    *fakeAgent
	repo     *projects.Repository
	snaps    *snapshots.Service
	registry *runs.Registry
	settings *settings.Service
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	repo := projects.NewRepository(s)
	registry := runs.NewRegistry()
	snaps := snapshots.NewService(s, repo, registry)
	set := settings.NewService(s, config.LLMConfig{Provider: "openai"})
	agent := &fakeAgent{}
	reg := prometheus.NewRegistry()

	h, err := NewHandler(&Config{
		Agent:          agent,
		Projects:       repo,
		Snapshots:      snaps,
		Settings:       set,
		Runs:           registry,
		TrustedProxies: []string{"10.0.0.0/8"},
		Metrics:        observability.NewMetrics(reg),
		Gatherer:       reg,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	return &testEnv{handler: h.Mount(), agent: agent, repo: repo, snaps: snaps, registry: registry, settings: set}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeResponse(t, rec, &body)
	return body["error"]
}

func TestStartAgentErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		retryAfter string
	}{
		{
			name:       "validation",
			err:        &coordinator.ValidationError{Message: "Prompt is required"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Prompt is required",
		},
		{
			name:       "conflict",
			err:        coordinator.ErrConflict,
			wantStatus: http.StatusConflict,
			wantError:  "Agent is already processing a request",
		},
		{
			name:       "rate limited",
			err:        &coordinator.RateLimitedError{RetryAfter: 42 * time.Second},
			wantStatus: http.StatusTooManyRequests,
			wantError:  "Rate limit exceeded. Try again in 42 seconds.",
			retryAfter: "42",
		},
		{
			name:       "not found",
			err:        coordinator.ErrProjectNotFound,
			wantStatus: http.StatusNotFound,
			wantError:  "Project not found",
		},
		{
			name:       "unconfigured",
			err:        coordinator.ErrUnconfigured,
			wantStatus: http.StatusInternalServerError,
			wantError:  "AI not configured. Add your API key in Settings.",
		},
		{
			name:       "shutting down",
			err:        coordinator.ErrShuttingDown,
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "Server is shutting down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.agent.err = tt.err

			rec := env.do(t, http.MethodPost, "/api/projects/p1/agent", `{"prompt":"hi"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := errorMessage(t, rec); got != tt.wantError {
				t.Fatalf("error = %q, want %q", got, tt.wantError)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Fatalf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

func TestStartAgentPassesRequest(t *testing.T) {
	env := newTestEnv(t)
	body := `{"messages":[{"role":"user","content":"make it pop"}],"spec":"bakery"}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p9/agent", strings.NewReader(body))
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.9.9.9")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var res map[string]any
	decodeResponse(t, rec, &res)
	if res["started"] != true || res["status"] != "running" {
		t.Fatalf("response = %v", res)
	}
	if _, ok := res["RunID"]; ok {
		t.Fatalf("run id leaked into response")
	}

	got := env.agent.reqs[0]
	if got.ProjectID != "p9" || got.Spec != "bakery" || len(got.Messages) != 1 {
		t.Fatalf("request = %+v", got)
	}
	if got.ClientKey != "203.0.113.7" {
		t.Fatalf("client key = %q", got.ClientKey)
	}
}

func TestStartAgentRejectsBadJSON(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/projects/p1/agent", `{"prompt":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(env.agent.reqs) != 0 {
		t.Fatalf("coordinator called for invalid body")
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/projects", `{"name":"Bakery","files":{"index.html":"<h1>Hi</h1>"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created models.Project
	decodeResponse(t, rec, &created)
	if created.ID == "" || created.AgentStatus != models.AgentStatusIdle {
		t.Fatalf("created = %+v", created)
	}

	rec = env.do(t, http.MethodGet, "/api/projects/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/projects/"+created.ID+"/agent", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"messages":[]}` {
		t.Fatalf("agent chat = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/projects", `{"name":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless create status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/projects/missing/agent", "")
	if rec.Code != http.StatusNotFound || errorMessage(t, rec) != "Project not found" {
		t.Fatalf("missing project = %d %s", rec.Code, rec.Body.String())
	}
}

func TestClearAgentChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.repo.Create(ctx, projects.CreateInput{ID: "p1", Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := env.repo.UpdateChat(ctx, "p1", []models.ChatEntry{{Role: models.RoleUser, Content: "hi"}}); err != nil {
		t.Fatal(err)
	}

	permit, _ := env.registry.TryAcquire("p1")
	rec := env.do(t, http.MethodDelete, "/api/projects/p1/agent", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status while running = %d", rec.Code)
	}
	permit.Release()

	rec = env.do(t, http.MethodDelete, "/api/projects/p1/agent", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Fatalf("clear = %d %s", rec.Code, rec.Body.String())
	}
	p, _ := env.repo.Get(ctx, "p1")
	if len(p.AgentChat) != 0 {
		t.Fatalf("chat = %+v", p.AgentChat)
	}
}

// slotCheckingProjects tries to claim the run slot from inside UpdateChat,
// as a run admitted mid-write would.
type slotCheckingProjects struct {
	*projects.Repository
	registry *runs.Registry
	admitted bool
}

func (s *slotCheckingProjects) UpdateChat(ctx context.Context, id string, chat []models.ChatEntry) error {
	if permit, ok := s.registry.TryAcquire(id); ok {
		s.admitted = true
		permit.Release()
	}
	return s.Repository.UpdateChat(ctx, id, chat)
}

func TestClearAgentChatHoldsRunSlot(t *testing.T) {
	ctx := context.Background()
	registry := runs.NewRegistry()
	repo := &slotCheckingProjects{Repository: projects.NewRepository(store.NewMemoryStore()), registry: registry}
	if _, err := repo.Create(ctx, projects.CreateInput{ID: "p1", Name: "x"}); err != nil {
		t.Fatal(err)
	}
	h, err := NewHandler(&Config{Agent: &fakeAgent{}, Projects: repo, Runs: registry, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.Mount().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/projects/p1/agent", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear = %d %s", rec.Code, rec.Body.String())
	}
	if repo.admitted {
		t.Fatal("a run was admitted while the chat was being cleared")
	}
	if permit, ok := registry.TryAcquire("p1"); !ok {
		t.Fatal("slot still held after clear")
	} else {
		permit.Release()
	}
}

func TestSnapshotRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.repo.Create(ctx, projects.CreateInput{ID: "p1", Name: "x", Files: map[string]string{"a.txt": "v1"}}); err != nil {
		t.Fatal(err)
	}
	snap, err := env.snaps.Create(ctx, "p1", "Before: change", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.repo.UpdateFiles(ctx, "p1", map[string]string{"a.txt": "v2"}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/api/projects/p1/snapshots", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list SnapshotListResponse
	decodeResponse(t, rec, &list)
	if len(list.Snapshots) != 1 || list.Snapshots[0].State != nil {
		t.Fatalf("snapshots = %+v", list.Snapshots)
	}

	rec = env.do(t, http.MethodPost, "/api/projects/p1/snapshots/nope/restore", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing snapshot status = %d", rec.Code)
	}

	permit, _ := env.registry.TryAcquire("p1")
	rec = env.do(t, http.MethodPost, "/api/projects/p1/snapshots/"+snap.ID+"/restore", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("restore while running status = %d", rec.Code)
	}
	permit.Release()

	rec = env.do(t, http.MethodPost, "/api/projects/p1/snapshots/"+snap.ID+"/restore", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("restore status = %d: %s", rec.Code, rec.Body.String())
	}
	p, _ := env.repo.Get(ctx, "p1")
	if p.Files["a.txt"] != "v1" {
		t.Fatalf("files = %v", p.Files)
	}
}

func TestSettingsRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings?key=llm", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"value":null}` {
		t.Fatalf("unset = %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/settings/llm-status", "")
	if strings.TrimSpace(rec.Body.String()) != `{"configured":false,"source":null}` {
		t.Fatalf("status = %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/settings", `{"key":"llm","value":{"provider":"anthropic","api_key":"sk-ant-1234567890","model":"claude-sonnet-4"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/settings?key=llm", "")
	var got struct {
		Value map[string]any `json:"value"`
	}
	decodeResponse(t, rec, &got)
	if got.Value["api_key"] != strings.Repeat("•", 13)+"7890" || got.Value["has_api_key"] != true {
		t.Fatalf("value = %v", got.Value)
	}

	rec = env.do(t, http.MethodGet, "/api/settings/llm-status", "")
	if strings.TrimSpace(rec.Body.String()) != `{"configured":true,"source":"settings"}` {
		t.Fatalf("status = %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/settings", `{"value":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing key status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/settings", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing key query status = %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	permit, _ := env.registry.TryAcquire("busy")
	rec := env.do(t, http.MethodGet, "/healthz", "")
	permit.Release()
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	var health struct {
		Status     string   `json:"status"`
		ActiveRuns []string `json:"active_runs"`
	}
	decodeResponse(t, rec, &health)
	if health.Status != "ok" || len(health.ActiveRuns) != 1 || health.ActiveRuns[0] != "busy" {
		t.Fatalf("healthz body = %s", rec.Body.String())
	}
	env.do(t, http.MethodGet, "/api/projects/missing", "")

	rec = env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "vibekit_http_request_duration_seconds") || !strings.Contains(body, `route="GET /api/projects/{id}"`) {
		t.Fatalf("metrics output missing request series:\n%s", body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("request id = %q", rec.Header().Get("X-Request-ID"))
	}

	rec = env.do(t, http.MethodGet, "/healthz", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id not generated")
	}
}
