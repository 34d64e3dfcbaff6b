package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for agent runs, provider usage,
// persistence and the HTTP surface. A nil *Metrics is valid and records
// nothing, which keeps call sites free of nil checks in tests.
type Metrics struct {
	// RunsStarted counts runs admitted by the coordinator.
	RunsStarted prometheus.Counter

	// RunsFinished counts terminal runs.
	// Labels: status (complete|error)
	RunsFinished *prometheus.CounterVec

	// RunDuration measures wall time from admission to the terminal write.
	RunDuration prometheus.Histogram

	// ActiveRuns is the number of projects currently holding a run slot.
	ActiveRuns prometheus.Gauge

	// LLMRequestDuration measures provider latency per streamed request.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCost accumulates estimated spend in USD.
	// Labels: provider, model
	LLMCost *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// PersistenceWrites counts transcript writes.
	// Labels: kind (initial|throttled|forced|final)
	PersistenceWrites *prometheus.CounterVec

	// PersistenceErrors counts failed transcript writes.
	PersistenceErrors prometheus.Counter

	// RateLimitRejections counts requests refused by the limiter.
	RateLimitRejections prometheus.Counter

	// HTTPRequestDuration measures API latency.
	// Labels: method, route, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vibekit_agent_runs_started_total",
			Help: "Total number of agent runs admitted",
		}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vibekit_agent_runs_finished_total",
			Help: "Total number of agent runs finished by terminal status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vibekit_agent_run_duration_seconds",
			Help:    "Duration of agent runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vibekit_agent_active_runs",
			Help: "Number of projects with a run in progress",
		}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vibekit_llm_request_duration_seconds",
			Help:    "Duration of LLM requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vibekit_llm_tokens_total",
			Help: "Total number of tokens used by provider, model, and type",
		}, []string{"provider", "model", "type"}),
		LLMCost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vibekit_llm_cost_usd_total",
			Help: "Estimated LLM spend in USD",
		}, []string{"provider", "model"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vibekit_tool_executions_total",
			Help: "Total number of tool executions by tool and status",
		}, []string{"tool_name", "status"}),
		PersistenceWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vibekit_persistence_writes_total",
			Help: "Total number of transcript writes by kind",
		}, []string{"kind"}),
		PersistenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vibekit_persistence_errors_total",
			Help: "Total number of failed transcript writes",
		}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "vibekit_ratelimit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vibekit_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route", "status_code"}),
	}
}

// RunStarted records an admitted run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

// RunFinished records the terminal status and duration of a run.
func (m *Metrics) RunFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
	m.ActiveRuns.Dec()
}

// RecordLLMRequest records latency of a single provider request.
func (m *Metrics) RecordLLMRequest(provider, model string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// RecordLLMUsage records token counts and estimated cost for a run.
func (m *Metrics) RecordLLMUsage(provider, model string, promptTokens, completionTokens int, cost float64) {
	if m == nil {
		return
	}
	m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	if cost > 0 {
		m.LLMCost.WithLabelValues(provider, model).Add(cost)
	}
}

// RecordToolExecution records a tool outcome.
func (m *Metrics) RecordToolExecution(name string, isError bool) {
	if m == nil {
		return
	}
	status := "success"
	if isError {
		status = "error"
	}
	m.ToolExecutions.WithLabelValues(name, status).Inc()
}

// RecordPersistence records a transcript write attempt.
func (m *Metrics) RecordPersistence(kind string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistenceErrors.Inc()
		return
	}
	m.PersistenceWrites.WithLabelValues(kind).Inc()
}

// RecordRateLimited records a limiter rejection.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitRejections.Inc()
}

// RecordHTTPRequest records one served API request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, statusCode).Observe(d.Seconds())
}
