package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// FailoverReason categorizes why a provider request failed. The coordinator
// turns it into the message persisted on the failed transcript entry.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverNetwork          FailoverReason = "network"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverContentFilter    FailoverReason = "content_filter"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether opening the stream again may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverNetwork, FailoverServerError:
		return true
	}
	return false
}

// IsConnectivity reports whether the service was unreachable, as opposed to
// reachable but refusing the request.
func (r FailoverReason) IsConnectivity() bool {
	return r == FailoverNetwork || r == FailoverTimeout
}

// ProviderError is the structured error every adapter returns, either from
// Complete/Generate directly or inside an Error chunk.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

// Error renders "[reason] provider model=m status=s code=c message".
func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Reason)
	if e.Provider != "" {
		b.WriteString(" " + e.Provider)
	}
	if e.Model != "" {
		b.WriteString(" model=" + e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(" code=" + e.Code)
	}
	switch {
	case e.Message != "":
		b.WriteString(" " + e.Message)
	case e.Cause != nil:
		b.WriteString(" " + e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError wraps and classifies cause. A cause that already carries
// a ProviderError is returned unchanged.
func NewProviderError(provider, model string, cause error) *ProviderError {
	if existing, ok := GetProviderError(cause); ok {
		return existing
	}
	e := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Reason = ClassifyError(cause)
	}
	return e
}

// WithStatus records the HTTP status and reclassifies when it is telling.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason, ok := statusReasons[status]; ok {
		e.Reason = reason
	} else if status >= 500 {
		e.Reason = FailoverServerError
	}
	return e
}

// WithCode records the provider error code; known codes override the
// status classification.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason, ok := codeReasons[strings.ToLower(code)]; ok {
		e.Reason = reason
	}
	return e
}

func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

var statusReasons = map[int]FailoverReason{
	http.StatusUnauthorized:    FailoverAuth,
	http.StatusForbidden:       FailoverAuth,
	http.StatusPaymentRequired: FailoverBilling,
	http.StatusTooManyRequests: FailoverRateLimit,
	http.StatusRequestTimeout:  FailoverTimeout,
	http.StatusGatewayTimeout:  FailoverTimeout,
	http.StatusBadRequest:      FailoverInvalidRequest,
	http.StatusNotFound:        FailoverModelUnavailable,
}

var codeReasons = map[string]FailoverReason{
	"rate_limit_error":         FailoverRateLimit,
	"rate_limit_exceeded":      FailoverRateLimit,
	"resource_exhausted":       FailoverRateLimit,
	"authentication_error":     FailoverAuth,
	"invalid_api_key":          FailoverAuth,
	"permission_error":         FailoverAuth,
	"unauthenticated":          FailoverAuth,
	"permission_denied":        FailoverAuth,
	"billing_error":            FailoverBilling,
	"insufficient_quota":       FailoverBilling,
	"model_not_found":          FailoverModelUnavailable,
	"model_not_available":      FailoverModelUnavailable,
	"not_found_error":          FailoverModelUnavailable,
	"content_policy_violation": FailoverContentFilter,
	"content_filter":           FailoverContentFilter,
	"server_error":             FailoverServerError,
	"internal_error":           FailoverServerError,
	"api_error":                FailoverServerError,
	"overloaded_error":         FailoverServerError,
	"unavailable":              FailoverServerError,
	"invalid_request_error":    FailoverInvalidRequest,
	"invalid_argument":         FailoverInvalidRequest,
}

// messagePatterns is checked in order; the first reason with a matching
// substring wins.
var messagePatterns = []struct {
	reason   FailoverReason
	patterns []string
}{
	{FailoverRateLimit, []string{"rate limit", "rate_limit", "too many requests", "429"}},
	{FailoverAuth, []string{"unauthorized", "invalid api key", "invalid_api_key", "incorrect api key", "authentication", "401", "403"}},
	{FailoverNetwork, []string{"econnrefused", "connection refused", "no such host", "connection reset", "network is unreachable"}},
	{FailoverTimeout, []string{"etimedout", "timeout", "timed out", "deadline exceeded"}},
	{FailoverBilling, []string{"billing", "payment", "quota", "insufficient", "402"}},
	{FailoverContentFilter, []string{"content_filter", "content policy", "safety", "blocked"}},
	{FailoverModelUnavailable, []string{"model not found", "model_not_found", "does not exist", "unavailable"}},
	{FailoverServerError, []string{"internal server", "server error", "overloaded", "500", "502", "503", "504", "529"}},
}

// ClassifyError maps err to a FailoverReason. ProviderErrors keep their
// reason; typed network errors are checked before message patterns.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	if pe, ok := GetProviderError(err); ok {
		return pe.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailoverTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return FailoverNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailoverNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailoverTimeout
		}
		return FailoverNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if containsAny(msg, p.patterns...) {
			return p.reason
		}
	}
	return FailoverUnknown
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	return ClassifyError(err).IsRetryable()
}
