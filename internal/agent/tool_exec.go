package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/vibekit/pkg/models"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// executeTool runs one call through the registry with a timeout. Panics and
// Go errors are converted into error results so one bad tool never ends the
// run.
func executeTool(ctx context.Context, registry *ToolRegistry, call models.ToolCall, timeout time.Duration, logger *slog.Logger) models.ToolResult {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultChan := make(chan execResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("tool panicked", "tool", call.Name, "tool_call_id", call.ID, "panic", rec, "stack", string(debug.Stack()))
				resultChan <- execResult{err: fmt.Errorf("%w: %v", ErrToolPanic, rec)}
			}
		}()
		result, err := registry.Execute(toolCtx, call.Name, call.Input)
		resultChan <- execResult{result: result, err: err}
	}()

	select {
	case <-toolCtx.Done():
		content := "tool execution canceled"
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			content = fmt.Sprintf("tool execution timed out after %v", timeout)
		}
		return models.ToolResult{ToolCallID: call.ID, Content: content, IsError: true}
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolResult{ToolCallID: call.ID, Content: res.err.Error(), IsError: true}
		}
		if res.result == nil {
			return models.ToolResult{ToolCallID: call.ID}
		}
		return models.ToolResult{ToolCallID: call.ID, Content: res.result.Content, IsError: res.result.IsError}
	}
}
