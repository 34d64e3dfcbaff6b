package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/vibekit/internal/observability"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// MaxResponseTextSize bounds the text collected from one provider stream.
const MaxResponseTextSize = 4 << 20

// LoopConfig configures the tool loop.
type LoopConfig struct {
	// MaxIterations limits the number of provider round trips.
	// Default: 25
	MaxIterations int

	// MaxTokens is passed to every provider request.
	// Default: 8192
	MaxTokens int

	// ToolTimeout bounds each tool execution.
	// Default: 30s
	ToolTimeout time.Duration

	Logger  *slog.Logger
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 25,
		MaxTokens:     8192,
		ToolTimeout:   DefaultToolTimeout,
	}
}

// Handlers receive loop progress in provider wire order. Any of them may be
// nil. They are called from the goroutine running Loop.Run.
type Handlers struct {
	// OnText receives each streamed text delta.
	OnText func(delta string)

	// OnToolCallStart fires when the provider begins emitting a call, before
	// its arguments are complete.
	OnToolCallStart func(id, name string)

	// OnToolCall fires with the complete arguments of a call.
	OnToolCall func(id, name string, args json.RawMessage)

	// OnToolResult fires once per call after the tool has run.
	OnToolResult func(id, name string, result models.ToolResult)
}

// RunRequest is the input of one loop run.
type RunRequest struct {
	Model    string
	System   string
	Messages []CompletionMessage
}

// RunResult summarizes a finished run.
type RunResult struct {
	// Text is all assistant text across iterations, concatenated.
	Text string

	InputTokens  int
	OutputTokens int

	// ToolNames lists invoked tools in call order.
	ToolNames []string

	Iterations int
}

// Loop drives a provider through alternating stream and tool-execution
// phases until the model answers without calling a tool.
type Loop struct {
	provider LLMProvider
	registry *ToolRegistry
	config   LoopConfig
}

// NewLoop creates a loop. Zero config fields take their defaults.
func NewLoop(provider LLMProvider, registry *ToolRegistry, config LoopConfig) *Loop {
	defaults := DefaultLoopConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = defaults.ToolTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if registry == nil {
		registry = NewToolRegistry()
	}
	return &Loop{provider: provider, registry: registry, config: config}
}

// loopState carries the per-run bookkeeping shared across iterations.
type loopState struct {
	messages []CompletionMessage
	text     strings.Builder
	result   RunResult

	// usedIDs holds every call id handed to the handlers in this run.
	usedIDs map[string]bool
}

// Run executes the loop. It returns when the model stops calling tools, on
// the first provider error, or when MaxIterations is reached. Tools run
// sequentially in the order the model requested them.
func (l *Loop) Run(ctx context.Context, req RunRequest, h Handlers) (*RunResult, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}

	state := &loopState{
		messages: append([]CompletionMessage(nil), req.Messages...),
		usedIDs:  make(map[string]bool),
	}

	for iteration := 0; iteration < l.config.MaxIterations; iteration++ {
		state.result.Iterations = iteration + 1

		calls, err := l.streamPhase(ctx, req, state, h)
		if err != nil {
			return l.finish(state), &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
		}
		if len(calls) == 0 {
			return l.finish(state), nil
		}

		results := make([]models.ToolResult, 0, len(calls))
		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return l.finish(state), &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cause: err}
			}
			res := l.runTool(ctx, call)
			if h.OnToolResult != nil {
				h.OnToolResult(call.ID, call.Name, res)
			}
			results = append(results, res)
		}
		state.messages = append(state.messages, CompletionMessage{Role: "tool", ToolResults: results})
	}

	return l.finish(state), &LoopError{
		Phase:     PhaseExecuteTools,
		Iteration: l.config.MaxIterations,
		Cause:     fmt.Errorf("%w (%d)", ErrMaxIterations, l.config.MaxIterations),
	}
}

func (l *Loop) finish(state *loopState) *RunResult {
	res := state.result
	res.Text = state.text.String()
	return &res
}

// streamPhase runs one provider request and returns the tool calls it
// produced, with ids made unique within the run.
func (l *Loop) streamPhase(ctx context.Context, req RunRequest, state *loopState, h Handlers) ([]models.ToolCall, error) {
	model := req.Model
	ctx, span := l.config.Tracer.TraceLLMRequest(ctx, l.provider.Name(), model)
	defer span.End()
	started := time.Now()
	defer func() { l.config.Metrics.RecordLLMRequest(l.provider.Name(), model, time.Since(started)) }()

	completion, err := l.provider.Complete(ctx, &CompletionRequest{
		Model:     model,
		System:    req.System,
		Messages:  state.messages,
		Tools:     l.registry.AsLLMTools(),
		MaxTokens: l.config.MaxTokens,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	ids := newCallIDs(state.usedIDs)
	var calls []models.ToolCall
	var text strings.Builder

	for chunk := range completion {
		switch {
		case chunk.Error != nil:
			observability.RecordError(span, chunk.Error)
			drain(completion)
			return nil, chunk.Error

		case chunk.ToolCallStart != nil:
			id := ids.start(chunk.ToolCallStart.ID, chunk.ToolCallStart.Name)
			if h.OnToolCallStart != nil {
				h.OnToolCallStart(id, chunk.ToolCallStart.Name)
			}

		case chunk.ToolCall != nil:
			call := *chunk.ToolCall
			call.ID = ids.complete(call.ID, call.Name)
			if len(call.Input) == 0 {
				call.Input = json.RawMessage(`{}`)
			}
			calls = append(calls, call)
			state.result.ToolNames = append(state.result.ToolNames, call.Name)
			if h.OnToolCall != nil {
				h.OnToolCall(call.ID, call.Name, call.Input)
			}

		case chunk.Done:
			state.result.InputTokens += chunk.InputTokens
			state.result.OutputTokens += chunk.OutputTokens
		}

		if chunk.Text != "" {
			if text.Len()+len(chunk.Text) > MaxResponseTextSize {
				drain(completion)
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			text.WriteString(chunk.Text)
			state.text.WriteString(chunk.Text)
			if h.OnText != nil {
				h.OnText(chunk.Text)
			}
		}
	}

	state.messages = append(state.messages, CompletionMessage{
		Role:      "assistant",
		Content:   text.String(),
		ToolCalls: calls,
	})
	return calls, nil
}

func (l *Loop) runTool(ctx context.Context, call models.ToolCall) models.ToolResult {
	ctx, span := l.config.Tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	res := executeTool(ctx, l.registry, call, l.config.ToolTimeout, l.config.Logger)
	if res.IsError {
		span.AddEvent("tool_error")
	}
	l.config.Metrics.RecordToolExecution(call.Name, res.IsError)
	return res
}

// drain consumes the rest of a stream so the provider goroutine can exit.
func drain(ch <-chan *CompletionChunk) {
	go func() {
		for range ch {
		}
	}()
}

// callIDs maps provider call ids onto ids that are unique within a run.
// Providers that omit ids get generated ones; an id repeated by a later
// call is suffixed.
type callIDs struct {
	used    map[string]bool
	aliases map[string]string
	// anonymous holds generated ids for starts that carried no id, keyed by
	// tool name, until the matching complete call arrives.
	anonymous map[string][]string
}

func newCallIDs(used map[string]bool) *callIDs {
	return &callIDs{used: used, aliases: make(map[string]string), anonymous: make(map[string][]string)}
}

func (c *callIDs) start(providerID, name string) string {
	if providerID == "" {
		id := c.fresh("")
		c.anonymous[name] = append(c.anonymous[name], id)
		return id
	}
	if alias, ok := c.aliases[providerID]; ok {
		return alias
	}
	id := c.fresh(providerID)
	c.aliases[providerID] = id
	return id
}

func (c *callIDs) complete(providerID, name string) string {
	if providerID == "" {
		if pending := c.anonymous[name]; len(pending) > 0 {
			c.anonymous[name] = pending[1:]
			return pending[0]
		}
		return c.fresh("")
	}
	if alias, ok := c.aliases[providerID]; ok {
		// Each provider id names one call; a second complete call with
		// the same id is a new call.
		delete(c.aliases, providerID)
		return alias
	}
	return c.fresh(providerID)
}

func (c *callIDs) fresh(base string) string {
	if base == "" {
		base = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}
	id := base
	for n := 2; c.used[id]; n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	c.used[id] = true
	return id
}
