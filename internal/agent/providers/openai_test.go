package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/pkg/models"
)

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	return p
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func collect(t *testing.T, ch <-chan *agent.CompletionChunk) []*agent.CompletionChunk {
	t.Helper()
	var out []*agent.CompletionChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestOpenAIStreamsTextAndToolCalls(t *testing.T) {
	var body map[string]any
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Addi"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"ng a form."}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"write_file","arguments":""}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"contact.html\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":120,"completion_tokens":45,"total_tokens":165}}`,
		)
	})

	ch, err := p.Complete(context.Background(), &agent.CompletionRequest{
		System:   "be helpful",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "add a contact form"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	chunks := collect(t, ch)

	var text strings.Builder
	var order []string
	var done *agent.CompletionChunk
	for _, c := range chunks {
		switch {
		case c.Error != nil:
			t.Fatalf("unexpected error chunk: %v", c.Error)
		case c.ToolCallStart != nil:
			order = append(order, "start:"+c.ToolCallStart.ID+":"+c.ToolCallStart.Name)
		case c.ToolCall != nil:
			order = append(order, "call:"+c.ToolCall.ID+":"+string(c.ToolCall.Input))
		case c.Done:
			done = c
		}
		text.WriteString(c.Text)
	}

	if text.String() != "Adding a form." {
		t.Fatalf("text = %q", text.String())
	}
	want := []string{"start:call_1:write_file", `call:call_1:{"path":"contact.html"}`}
	if strings.Join(order, "|") != strings.Join(want, "|") {
		t.Fatalf("tool events = %v, want %v", order, want)
	}
	if done == nil || done.InputTokens != 120 || done.OutputTokens != 45 {
		t.Fatalf("done chunk = %+v", done)
	}

	if body["model"] != "gpt-4o" {
		t.Fatalf("model = %v", body["model"])
	}
	if opts, _ := body["stream_options"].(map[string]any); opts["include_usage"] != true {
		t.Fatalf("stream_options = %v", body["stream_options"])
	}
	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %v", messages)
	}
	if first, _ := messages[0].(map[string]any); first["role"] != "system" {
		t.Fatalf("first message = %v", first)
	}
}

func TestOpenAIAuthErrorIsClassified(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})

	_, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if providerErr.Reason != FailoverAuth || providerErr.Status != http.StatusUnauthorized {
		t.Fatalf("provider error = %+v", providerErr)
	}
	if providerErr.Provider != "openai" {
		t.Fatalf("provider = %q", providerErr.Provider)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	p := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Added contact form"},"finish_reason":"stop"}],"usage":{"prompt_tokens":30,"completion_tokens":4,"total_tokens":34}}`)
	})

	resp, err := p.Generate(context.Background(), &agent.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "summarize"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "Added contact form" || resp.InputTokens != 30 || resp.OutputTokens != 4 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestToOpenAIMessagesExpandsToolResults(t *testing.T) {
	msgs := toOpenAIMessages([]agent.CompletionMessage{
		{Role: "user", Content: "go"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "a", Name: "read_file", Input: json.RawMessage(`{}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "a", Content: "one"}, {ToolCallID: "b", Content: "two"}}},
	}, "")
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[1].ToolCalls[0].Function.Name != "read_file" {
		t.Fatalf("assistant message = %+v", msgs[1])
	}
	if msgs[2].ToolCallID != "a" || msgs[3].ToolCallID != "b" {
		t.Fatalf("tool messages = %+v %+v", msgs[2], msgs[3])
	}
}
