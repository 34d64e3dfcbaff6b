package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRunLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RunStarted()
	m.RunStarted()
	m.RunFinished("complete", 2*time.Second)

	if got := testutil.ToFloat64(m.RunsStarted); got != 2 {
		t.Fatalf("runs started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ActiveRuns); got != 1 {
		t.Fatalf("active runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsFinished.WithLabelValues("complete")); got != 1 {
		t.Fatalf("runs finished = %v, want 1", got)
	}
}

func TestMetricsUsageAndPersistence(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLLMUsage("openai", "gpt-4o", 1000, 500, 0.0075)
	m.RecordPersistence("throttled", nil)
	m.RecordPersistence("final", errors.New("disk full"))
	m.RecordToolExecution("write_file", true)
	m.RecordRateLimited()

	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "completion")); got != 500 {
		t.Fatalf("completion tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMCost.WithLabelValues("openai", "gpt-4o")); got != 0.0075 {
		t.Fatalf("cost = %v", got)
	}
	if got := testutil.ToFloat64(m.PersistenceWrites.WithLabelValues("throttled")); got != 1 {
		t.Fatalf("throttled writes = %v", got)
	}
	if got := testutil.ToFloat64(m.PersistenceErrors); got != 1 {
		t.Fatalf("persistence errors = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("write_file", "error")); got != 1 {
		t.Fatalf("tool errors = %v", got)
	}
	if got := testutil.ToFloat64(m.RateLimitRejections); got != 1 {
		t.Fatalf("rejections = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RunStarted()
	m.RunFinished("error", time.Second)
	m.RecordLLMRequest("openai", "gpt-4o", time.Second)
	m.RecordLLMUsage("openai", "gpt-4o", 1, 1, 1)
	m.RecordToolExecution("read_file", false)
	m.RecordPersistence("final", nil)
	m.RecordRateLimited()
	m.RecordHTTPRequest("GET", "/healthz", "200", time.Millisecond)
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordHTTPRequest("POST", "/api/projects/{id}/agent", "200", 10*time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "vibekit_http_request_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("series = %d, want 1", count)
	}
}
