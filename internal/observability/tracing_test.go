package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerWithoutEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
	ctx, span := tracer.TraceRun(context.Background(), "p1", "openai", "gpt-4o")
	span.End()
	if ctx == nil {
		t.Fatal("nil context")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := &Tracer{provider: provider, tracer: provider.Tracer("test")}

	ctx, run := tracer.TraceRun(context.Background(), "p1", "anthropic", "claude-sonnet-4")
	_, llm := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4")
	llm.End()
	_, tool := tracer.TraceToolExecution(ctx, "write_file", "call_1")
	RecordError(tool, errors.New("boom"))
	tool.End()
	RecordError(run, nil)
	run.End()

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended spans = %d, want 3", len(spans))
	}
	if spans[0].Name() != "llm.anthropic" || spans[1].Name() != "tool.write_file" || spans[2].Name() != "agent.run" {
		t.Fatalf("unexpected span names: %s, %s, %s", spans[0].Name(), spans[1].Name(), spans[2].Name())
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("tool span status = %v", spans[1].Status().Code)
	}
	if spans[2].Status().Code == codes.Error {
		t.Fatal("run span should not be marked failed")
	}
	if spans[0].Parent().SpanID() != spans[2].SpanContext().SpanID() {
		t.Fatal("llm span is not a child of the run span")
	}
}
