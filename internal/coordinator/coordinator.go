// Package coordinator admits agent runs for projects and drives them to a
// terminal state in the background.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/internal/agent/providers"
	"github.com/haasonsaas/vibekit/internal/config"
	"github.com/haasonsaas/vibekit/internal/observability"
	"github.com/haasonsaas/vibekit/internal/ratelimit"
	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/internal/settings"
	"github.com/haasonsaas/vibekit/internal/snapshots"
	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/internal/usage"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// ErrShuttingDown is returned by Start once Shutdown has been called.
var ErrShuttingDown = errors.New("coordinator is shutting down")

const msgPromptRequired = "Prompt is required"

// ProjectStore is the project persistence the coordinator needs.
type ProjectStore interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	UpdateChat(ctx context.Context, id string, chat []models.ChatEntry) error
	UpdateChatAndStatus(ctx context.Context, id string, chat []models.ChatEntry, status models.AgentStatus) error
	ListByStatus(ctx context.Context, status models.AgentStatus) ([]*models.Project, error)
}

// Snapshotter records project state around a run.
type Snapshotter interface {
	Create(ctx context.Context, projectID, summary string, toolNames []string) (*models.Snapshot, error)
	CreateFromState(ctx context.Context, projectID, summary string, toolNames []string, state models.ProjectState) (*models.Snapshot, error)
}

// SettingsResolver returns the LLM configuration for the next run.
type SettingsResolver interface {
	Resolve(ctx context.Context) (settings.Resolved, error)
}

// ProviderFactory builds a provider for a resolved configuration.
type ProviderFactory func(settings.Resolved) (agent.LLMProvider, error)

// ToolFactory returns the tools bound to one project.
type ToolFactory func(projectID string) *agent.ToolRegistry

// NewProvider is the default ProviderFactory.
func NewProvider(r settings.Resolved) (agent.LLMProvider, error) {
	return providers.New(providers.Config{
		Provider:   r.Provider,
		APIKey:     r.APIKey,
		Model:      r.Model,
		BaseURL:    r.BaseURL,
		MaxRetries: r.MaxRetries,
	})
}

// Config tunes run execution.
type Config struct {
	// PersistInterval is the minimum spacing of throttled transcript writes.
	PersistInterval time.Duration

	MaxIterations int

	// MaxTokens is used when the resolved LLM configuration has none.
	MaxTokens int

	ToolTimeout time.Duration
}

// Deps are the collaborators of a Coordinator. Projects, Settings and
// Registry are required.
type Deps struct {
	Projects  ProjectStore
	Snapshots Snapshotter
	Settings  SettingsResolver
	Registry  *runs.Registry

	// Limiter is optional; nil admits every request.
	Limiter *ratelimit.Limiter

	Providers  ProviderFactory
	Tools      ToolFactory
	Prices     *usage.Table
	Summarizer *snapshots.Summarizer

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// StartRequest is the input of Start.
type StartRequest struct {
	ProjectID string
	Prompt    string
	Messages  []models.Message
	Spec      string
	ClientKey string
}

// StartResult is returned once a run has been admitted.
type StartResult struct {
	Started bool   `json:"started"`
	Status  string `json:"status"`
	RunID   string `json:"-"`
}

// Coordinator admits runs and owns their goroutines.
type Coordinator struct {
	config Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	// ctx outlives every request; runs derive their context from it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Projects == nil {
		return nil, errors.New("coordinator: project store is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("coordinator: settings resolver is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("coordinator: run registry is required")
	}
	if deps.Providers == nil {
		deps.Providers = NewProvider
	}
	if deps.Tools == nil {
		deps.Tools = func(string) *agent.ToolRegistry { return agent.NewToolRegistry() }
	}
	if deps.Prices == nil {
		deps.Prices = usage.NewTable()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Summarizer == nil {
		deps.Summarizer = snapshots.NewSummarizer(deps.Prices, 0, deps.Logger)
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultPersistInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config: cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "coordinator"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start validates and admits a run, persists its initial transcript and
// returns while the run continues in the background.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	prompt := resolvePrompt(req)
	if prompt == "" {
		return nil, &ValidationError{Message: msgPromptRequired}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrShuttingDown
	}
	// Counted before the slot is taken so Shutdown never misses a run.
	c.wg.Add(1)
	c.mu.Unlock()

	permit, ok := c.deps.Registry.TryAcquire(req.ProjectID)
	if !ok {
		c.wg.Done()
		return nil, ErrConflict
	}
	r, err := c.admit(ctx, permit, req, prompt)
	if err != nil {
		permit.Release()
		c.wg.Done()
		return nil, err
	}

	c.deps.Metrics.RunStarted()
	go c.execute(r)
	return &StartResult{Started: true, Status: string(models.AgentStatusRunning), RunID: permit.RunID()}, nil
}

// admit checks the remaining preconditions and persists the initial
// transcript. The caller holds the slot.
func (c *Coordinator) admit(ctx context.Context, permit *runs.Permit, req StartRequest, prompt string) (*run, error) {
	if c.deps.Limiter != nil {
		if d := c.deps.Limiter.Allow(req.ClientKey); !d.Allowed {
			c.deps.Metrics.RecordRateLimited()
			return nil, &RateLimitedError{RetryAfter: d.RetryAfter}
		}
	}

	project, err := c.deps.Projects.Get(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("load project: %w", err)
	}

	resolved, err := c.deps.Settings.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve llm settings: %w", err)
	}
	if strings.TrimSpace(resolved.APIKey) == "" || !config.IsKnownProvider(resolved.Provider) {
		return nil, ErrUnconfigured
	}
	provider, err := c.deps.Providers(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnconfigured, err)
	}
	model := resolved.Model
	if model == "" {
		model = providers.DefaultModel(resolved.Provider)
	}
	maxTokens := resolved.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}

	chat := interruptRunning(project.AgentChat, msgInterrupted, c.now())
	if !tailIsPrompt(chat, prompt) {
		chat = append(chat, models.ChatEntry{
			Role:      models.RoleUser,
			Content:   prompt,
			Timestamp: models.NowMillis(c.now()),
		})
	}
	history := models.ConversationHistory(chat)

	tr, err := newTranscript(permit, chat, c.now)
	if err != nil {
		return nil, err
	}
	err = c.deps.Projects.UpdateChatAndStatus(ctx, project.ID, tr.Chat(), models.AgentStatusRunning)
	c.deps.Metrics.RecordPersistence(writeInitial, err)
	if err != nil {
		return nil, fmt.Errorf("persist initial transcript: %w", err)
	}

	r := &run{
		c:          c,
		permit:     permit,
		projectID:  project.ID,
		prompt:     prompt,
		provider:   provider,
		model:      model,
		maxTokens:  maxTokens,
		system:     systemPrompt(req.Spec, project.Files),
		history:    history,
		before:     project.State(),
		beforeDone: make(chan struct{}),
		tr:         tr,
		startedAt:  c.now(),
		logger: c.logger.With(
			"project_id", project.ID,
			"run_id", permit.RunID(),
			"provider", provider.Name(),
			"model", model,
		),
	}
	r.throttle = NewThrottle(c.config.PersistInterval, r.persist)
	return r, nil
}

// Shutdown stops admitting runs and waits for in-flight ones. When ctx
// expires first, the remaining runs are cancelled and awaited so their
// terminal writes still happen.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// resolvePrompt returns the explicit prompt, else the last user message.
func resolvePrompt(req StartRequest) string {
	if p := strings.TrimSpace(req.Prompt); p != "" {
		return p
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == models.RoleUser {
			return strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return ""
}

// tailIsPrompt reports whether the client already appended the prompt.
func tailIsPrompt(chat []models.ChatEntry, prompt string) bool {
	if len(chat) == 0 {
		return false
	}
	tail := chat[len(chat)-1]
	return tail.Role == models.RoleUser && strings.TrimSpace(tail.Content) == prompt
}

func systemPrompt(spec string, files map[string]string) string {
	var b strings.Builder
	b.WriteString("You are the build agent of a web app studio. You change the project only through the tools you are given. ")
	b.WriteString("Read files before editing them, keep changes focused on the request, and finish with a short summary of what you changed.\n")

	if spec = strings.TrimSpace(spec); spec != "" {
		b.WriteString("\n## App specification\n")
		b.WriteString(spec)
		b.WriteString("\n")
	}

	b.WriteString("\n## Project files\n")
	if len(files) == 0 {
		b.WriteString("(none yet)\n")
		return b.String()
	}
	for _, path := range sortedKeys(files) {
		fmt.Fprintf(&b, "- %s (%d bytes)\n", path, len(files[path]))
	}
	return b.String()
}
