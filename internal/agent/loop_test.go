package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/vibekit/pkg/models"
)

// scriptedProvider replays one chunk script per Complete call.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]*CompletionChunk
	calls    int
	requests []*CompletionRequest
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	ch := make(chan *CompletionChunk, 16)
	go func() {
		defer close(ch)
		if call >= len(p.scripts) {
			ch <- &CompletionChunk{Done: true}
			return
		}
		for _, chunk := range p.scripts[call] {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) Generate(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Text: "summary"}, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

type fakeWriteTool struct {
	mu    sync.Mutex
	paths []string
}

func (t *fakeWriteTool) Name() string            { return "write_file" }
func (t *fakeWriteTool) Description() string     { return "Write a file" }
func (t *fakeWriteTool) Schema() json.RawMessage { return SchemaFor[writeFileInput]() }
func (t *fakeWriteTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var in writeFileInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.paths = append(t.paths, in.Path)
	t.mu.Unlock()
	return &ToolResult{Content: "ok"}, nil
}

type recorder struct {
	events []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnText:          func(delta string) { r.events = append(r.events, "text:"+delta) },
		OnToolCallStart: func(id, name string) { r.events = append(r.events, "start:"+id+":"+name) },
		OnToolCall: func(id, name string, args json.RawMessage) {
			r.events = append(r.events, "call:"+id+":"+name+":"+string(args))
		},
		OnToolResult: func(id, name string, res models.ToolResult) {
			r.events = append(r.events, "result:"+id+":"+res.Content)
		},
	}
}

func TestLoopRunsToolsAndContinues(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{
			{Text: "Added"},
			{ToolCallStart: &models.ToolCall{ID: "t1", Name: "write_file"}},
			{ToolCall: &models.ToolCall{ID: "t1", Name: "write_file", Input: json.RawMessage(`{"path":"contact.html"}`)}},
			{Done: true, InputTokens: 100, OutputTokens: 20},
		},
		{
			{Text: " a contact form."},
			{Done: true, InputTokens: 150, OutputTokens: 10},
		},
	}}
	tool := &fakeWriteTool{}
	loop := NewLoop(provider, NewToolRegistry(tool), LoopConfig{})

	rec := &recorder{}
	result, err := loop.Run(context.Background(), RunRequest{
		Model:    "gpt-4o",
		Messages: []CompletionMessage{{Role: "user", Content: "add a contact form"}},
	}, rec.handlers())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		"text:Added",
		"start:t1:write_file",
		`call:t1:write_file:{"path":"contact.html"}`,
		"result:t1:ok",
		"text: a contact form.",
	}
	if strings.Join(rec.events, "|") != strings.Join(want, "|") {
		t.Fatalf("events = %v\nwant %v", rec.events, want)
	}
	if result.Text != "Added a contact form." {
		t.Fatalf("text = %q", result.Text)
	}
	if result.InputTokens != 250 || result.OutputTokens != 30 {
		t.Fatalf("usage = %d/%d", result.InputTokens, result.OutputTokens)
	}
	if len(result.ToolNames) != 1 || result.ToolNames[0] != "write_file" {
		t.Fatalf("tool names = %v", result.ToolNames)
	}
	if len(tool.paths) != 1 || tool.paths[0] != "contact.html" {
		t.Fatalf("tool saw %v", tool.paths)
	}

	second := provider.requests[1]
	if len(second.Messages) != 3 {
		t.Fatalf("second request messages = %d, want 3", len(second.Messages))
	}
	toolMsg := second.Messages[2]
	if toolMsg.Role != "tool" || len(toolMsg.ToolResults) != 1 || toolMsg.ToolResults[0].ToolCallID != "t1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
}

func TestLoopSurfacesProviderErrorAfterPartialText(t *testing.T) {
	authErr := errors.New("401 unauthorized")
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{Text: "Addi"}, {Error: authErr}},
	}}
	loop := NewLoop(provider, nil, LoopConfig{})

	rec := &recorder{}
	result, err := loop.Run(context.Background(), RunRequest{}, rec.handlers())
	if !errors.Is(err, authErr) {
		t.Fatalf("error = %v, want wrapped auth error", err)
	}
	var loopErr *LoopError
	if !errors.As(err, &loopErr) || loopErr.Phase != PhaseStream {
		t.Fatalf("expected stream LoopError, got %v", err)
	}
	if result.Text != "Addi" {
		t.Fatalf("partial text = %q", result.Text)
	}
}

func TestLoopGeneratesAndDisambiguatesToolIDs(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{
			{ToolCallStart: &models.ToolCall{Name: "write_file"}},
			{ToolCall: &models.ToolCall{Name: "write_file", Input: json.RawMessage(`{"path":"a.html"}`)}},
			{ToolCall: &models.ToolCall{ID: "dup", Name: "write_file", Input: json.RawMessage(`{"path":"b.html"}`)}},
			{Done: true},
		},
		{
			{ToolCall: &models.ToolCall{ID: "dup", Name: "write_file", Input: json.RawMessage(`{"path":"c.html"}`)}},
			{Done: true},
		},
	}}
	loop := NewLoop(provider, NewToolRegistry(&fakeWriteTool{}), LoopConfig{})

	var startIDs, callIDs []string
	_, err := loop.Run(context.Background(), RunRequest{}, Handlers{
		OnToolCallStart: func(id, name string) { startIDs = append(startIDs, id) },
		OnToolCall:      func(id, name string, args json.RawMessage) { callIDs = append(callIDs, id) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(startIDs) != 1 || startIDs[0] == "" {
		t.Fatalf("start ids = %v", startIDs)
	}
	if len(callIDs) != 3 {
		t.Fatalf("call ids = %v", callIDs)
	}
	if callIDs[0] != startIDs[0] {
		t.Fatalf("anonymous start and call not correlated: %v vs %v", startIDs, callIDs)
	}
	if callIDs[1] != "dup" || callIDs[2] != "dup_2" {
		t.Fatalf("duplicate ids not disambiguated: %v", callIDs)
	}
}

func TestLoopStopsAtMaxIterations(t *testing.T) {
	script := []*CompletionChunk{
		{ToolCall: &models.ToolCall{ID: "x", Name: "write_file", Input: json.RawMessage(`{"path":"a"}`)}},
		{Done: true},
	}
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{script, script, script}}
	loop := NewLoop(provider, NewToolRegistry(&fakeWriteTool{}), LoopConfig{MaxIterations: 2})

	_, err := loop.Run(context.Background(), RunRequest{}, Handlers{})
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("error = %v, want ErrMaxIterations", err)
	}
}

func TestLoopReportsUnknownToolAsErrorResult(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "t1", Name: "launch_rockets"}}, {Done: true}},
		{{Text: "sorry"}, {Done: true}},
	}}
	loop := NewLoop(provider, NewToolRegistry(), LoopConfig{})

	var got models.ToolResult
	_, err := loop.Run(context.Background(), RunRequest{}, Handlers{
		OnToolResult: func(id, name string, res models.ToolResult) { got = res },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !got.IsError || !strings.Contains(got.Content, "tool not found") {
		t.Fatalf("result = %+v", got)
	}
}

func TestLoopWithoutProvider(t *testing.T) {
	loop := NewLoop(nil, nil, LoopConfig{})
	if _, err := loop.Run(context.Background(), RunRequest{}, Handlers{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("error = %v", err)
	}
}
