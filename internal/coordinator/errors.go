package coordinator

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/vibekit/internal/agent/providers"
)

var (
	// ErrConflict is returned when the project already has a run in flight.
	ErrConflict = errors.New("agent is already processing a request")

	// ErrProjectNotFound is returned when the project does not exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrUnconfigured is returned when no usable LLM configuration exists.
	ErrUnconfigured = errors.New("llm is not configured")
)

// ValidationError reports a bad start request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RateLimitedError is returned when the client exhausted its quota.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfterSeconds())
}

// RetryAfterSeconds is the whole-second value of the Retry-After header.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return int((e.RetryAfter + time.Second - 1) / time.Second)
}

// Messages persisted on failed runs.
const (
	msgRateLimited = "AI service rate limit reached. Please wait a moment and try again."
	msgAuth        = "AI service authentication failed. Please check your API key configuration."
	msgNetwork     = "Could not connect to AI service. Please check your network connection."
	msgOtherPrefix = "AI service error: "

	maxErrorDetail = 200
)

// FormatProviderError turns a run failure into the message shown to the
// user and stored on the transcript entry.
func FormatProviderError(err error) string {
	if err == nil {
		return msgOtherPrefix + "unknown error"
	}
	reason := providers.ClassifyError(err)
	switch {
	case reason == providers.FailoverRateLimit:
		return msgRateLimited
	case reason == providers.FailoverAuth:
		return msgAuth
	case reason.IsConnectivity():
		return msgNetwork
	}

	detail := err.Error()
	if pe, ok := providers.GetProviderError(err); ok && pe.Message != "" {
		detail = pe.Message
	}
	if utf8.RuneCountInString(detail) > maxErrorDetail {
		detail = string([]rune(detail)[:maxErrorDetail])
	}
	return msgOtherPrefix + detail
}
