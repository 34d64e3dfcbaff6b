package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/internal/observability"
	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/internal/snapshots"
	"github.com/haasonsaas/vibekit/internal/usage"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// writeTimeout bounds each transcript write. Terminal writes use a context
// detached from the run so they still land after cancellation.
const writeTimeout = 10 * time.Second

// run is one admitted agent run.
type run struct {
	c      *Coordinator
	permit *runs.Permit
	logger *slog.Logger

	projectID string
	prompt    string
	provider  agent.LLMProvider
	model     string
	maxTokens int
	system    string
	history   []models.Message

	// before is the project state read at admission.
	before     models.ProjectState
	beforeDone chan struct{}

	tr        *transcript
	throttle  *Throttle
	startedAt time.Time
}

func (r *run) ctx() context.Context {
	ctx := observability.WithProjectID(r.c.ctx, r.projectID)
	return observability.WithRunID(ctx, r.permit.RunID())
}

// execute runs the tool loop and finalizes the transcript. It owns the
// permit and releases it on return.
func (c *Coordinator) execute(r *run) {
	defer c.wg.Done()
	defer r.permit.Release()

	ctx := r.ctx()
	go r.snapshotBefore(ctx)
	defer func() { <-r.beforeDone }()

	ctx, span := c.deps.Tracer.TraceRun(ctx, r.projectID, r.provider.Name(), r.model)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("run panicked: %v", p)
			observability.RecordError(span, err)
			r.fail(err)
		}
	}()

	loop := agent.NewLoop(r.provider, c.deps.Tools(r.projectID), agent.LoopConfig{
		MaxIterations: c.config.MaxIterations,
		MaxTokens:     r.maxTokens,
		ToolTimeout:   c.config.ToolTimeout,
		Logger:        r.logger,
		Tracer:        c.deps.Tracer,
		Metrics:       c.deps.Metrics,
	})
	result, err := loop.Run(ctx, agent.RunRequest{
		Model:    r.model,
		System:   r.system,
		Messages: completionHistory(r.history),
	}, r.handlers())
	if err != nil {
		observability.RecordError(span, err)
		r.fail(err)
		return
	}
	r.complete(ctx, result)
}

func (r *run) handlers() agent.Handlers {
	return agent.Handlers{
		OnText: func(delta string) {
			r.tr.AppendText(delta)
			r.throttle.Request(false)
		},
		OnToolCallStart: func(id, name string) {
			r.tr.StartTool(id, name)
			r.throttle.Request(false)
		},
		OnToolCall: func(id, name string, args json.RawMessage) {
			r.tr.SetToolArgs(id, name, args)
			r.throttle.Request(false)
		},
		OnToolResult: func(id, name string, result models.ToolResult) {
			r.tr.SetToolResult(id, name, result.Content, result.IsError)
			r.throttle.Request(true)
		},
	}
}

func (r *run) snapshotBefore(ctx context.Context) {
	defer close(r.beforeDone)
	if r.c.deps.Snapshots == nil {
		return
	}
	label := snapshots.BeforeLabel(r.prompt)
	if _, err := r.c.deps.Snapshots.CreateFromState(ctx, r.projectID, label, nil, r.before); err != nil {
		r.logger.Warn("before snapshot failed", "error", err)
	}
}

func (r *run) complete(ctx context.Context, result *agent.RunResult) {
	u := usage.Usage{InputTokens: int64(result.InputTokens), OutputTokens: int64(result.OutputTokens)}
	cost := r.c.deps.Prices.Cost(r.provider.Name(), r.model, u)
	r.tr.Complete(&models.RunUsage{
		PromptTokens:     result.InputTokens,
		CompletionTokens: result.OutputTokens,
		TotalTokens:      result.InputTokens + result.OutputTokens,
		Model:            r.model,
		Cost:             cost,
	})
	r.finish(models.AgentStatusIdle)

	metrics := r.c.deps.Metrics
	metrics.RecordLLMUsage(r.provider.Name(), r.model, result.InputTokens, result.OutputTokens, cost)
	metrics.RunFinished(string(models.RunStatusComplete), time.Since(r.startedAt))
	r.logger.Info("agent run complete",
		"iterations", result.Iterations,
		"tools", len(result.ToolNames),
		"prompt_tokens", result.InputTokens,
		"completion_tokens", result.OutputTokens,
		"cost_usd", cost,
		"summary", usage.FormatUsage(u)+" "+usage.FormatUSD(cost),
	)

	if r.c.deps.Snapshots == nil {
		return
	}
	toolNames := r.tr.ToolNames()
	summary := r.c.deps.Summarizer.Summarize(ctx, r.provider, result.Text, toolNames, snapshots.TruncatePrompt(r.prompt))
	// The after snapshot must follow the before snapshot in the list.
	<-r.beforeDone
	if _, err := r.c.deps.Snapshots.Create(ctx, r.projectID, summary, toolNames); err != nil {
		r.logger.Warn("after snapshot failed", "error", err)
	}
}

func (r *run) fail(err error) {
	if r.tr.Entry().Status != models.RunStatusRunning {
		// Already finalized; a panic after completion must not rewrite it.
		r.logger.Error("agent run failed after finalization", "error", err)
		return
	}
	message := FormatProviderError(err)
	r.tr.Fail(message)
	r.finish(models.AgentStatusError)

	r.c.deps.Metrics.RunFinished(string(models.RunStatusError), time.Since(r.startedAt))
	attrs := []any{"error", err, "message", message}
	var loopErr *agent.LoopError
	if errors.As(err, &loopErr) {
		attrs = append(attrs, "phase", loopErr.Phase, "iteration", loopErr.Iteration)
	}
	r.logger.Warn("agent run failed", attrs...)
}

// persist is the throttle's write function.
func (r *run) persist(kind string) {
	ctx, cancel := context.WithTimeout(r.ctx(), writeTimeout)
	defer cancel()
	err := r.c.deps.Projects.UpdateChat(ctx, r.projectID, r.tr.Chat())
	r.c.deps.Metrics.RecordPersistence(kind, err)
	if err != nil {
		r.logger.Warn("transcript write failed", "kind", kind, "error", err)
	}
}

// finish closes the throttle and writes the terminal transcript together
// with the project status.
func (r *run) finish(status models.AgentStatus) {
	r.throttle.Close(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx()), writeTimeout)
		defer cancel()
		err := r.c.deps.Projects.UpdateChatAndStatus(ctx, r.projectID, r.tr.Chat(), status)
		r.c.deps.Metrics.RecordPersistence(writeFinal, err)
		if err != nil {
			r.logger.Error("terminal transcript write failed", "status", status, "error", err)
		}
	})
}

func completionHistory(history []models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, agent.CompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
