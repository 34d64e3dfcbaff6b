package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryZeroMeansSingleAttempt(t *testing.T) {
	base := NewBaseProvider("test", 0, time.Millisecond)
	calls := 0
	err := base.Retry(context.Background(), IsRetryable, func() error {
		calls++
		return &ProviderError{Reason: FailoverServerError}
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d err = %v, want one failed attempt", calls, err)
	}
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	base := NewBaseProvider("test", 2, time.Millisecond)
	calls := 0
	err := base.Retry(context.Background(), IsRetryable, func() error {
		calls++
		if calls < 3 {
			return &ProviderError{Reason: FailoverRateLimit}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("calls = %d err = %v", calls, err)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	base := NewBaseProvider("test", 5, time.Millisecond)
	calls := 0
	authErr := &ProviderError{Reason: FailoverAuth}
	err := base.Retry(context.Background(), IsRetryable, func() error {
		calls++
		return authErr
	})
	if !errors.Is(err, authErr) || calls != 1 {
		t.Fatalf("calls = %d err = %v", calls, err)
	}
}

func TestRetryHonorsCancelledContext(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := base.Retry(ctx, IsRetryable, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err = %v called = %v", err, called)
	}
}
