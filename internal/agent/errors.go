package agent

import (
	"errors"
	"fmt"
)

var (
	ErrMaxIterations = errors.New("agent reached its tool iteration limit")
	ErrNoProvider    = errors.New("agent has no llm provider")
	ErrToolPanic     = errors.New("tool panicked")
)

// Phase names the step of an agent turn that failed.
type Phase string

const (
	PhaseStream       Phase = "stream"
	PhaseExecuteTools Phase = "execute_tools"
)

// LoopError wraps a failure of Loop.Run with the phase and iteration it
// happened in. Its message is the cause's so that it can be shown to users
// unchanged; use Phase and Iteration for logs.
type LoopError struct {
	Phase     Phase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("agent %s failed at iteration %d", e.Phase, e.Iteration)
	}
	return e.Cause.Error()
}

func (e *LoopError) Unwrap() error { return e.Cause }
