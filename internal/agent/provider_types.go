package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/vibekit/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of one vendor API while presenting a
// unified streaming contract to the tool loop: text deltas, tool call
// starts, complete tool calls and one terminal chunk with token usage, all
// in wire order.
//
// Implementations must be safe for concurrent use. Different projects run
// their loops against the same provider value at the same time.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. Failures
	// after the stream is established arrive as a chunk with Error set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Generate sends a prompt and waits for the whole response. It is used
	// for short auxiliary calls such as change summaries.
	Generate(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which LLM model to use. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System is the system prompt. Most APIs carry it outside the message
	// list.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines the tools the model may call.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the length of the generated response. If 0, the
	// provider default is used.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool"
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Processing example:
//
//	for chunk := range chunks {
//	    switch {
//	    case chunk.Error != nil:
//	        return chunk.Error
//	    case chunk.ToolCallStart != nil:
//	        // the model began emitting a call; args are still streaming
//	    case chunk.ToolCall != nil:
//	        // complete call, ready to execute
//	    case chunk.Text != "":
//	        fmt.Print(chunk.Text)
//	    case chunk.Done:
//	        // InputTokens / OutputTokens are set
//	    }
//	}
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCallStart announces a tool call whose arguments are still being
	// streamed. Only ID and Name are set.
	ToolCallStart *models.ToolCall `json:"tool_call_start,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully.
	Done bool `json:"done,omitempty"`

	// Error contains any error that occurred; the stream ends after it.
	Error error `json:"-"`

	// InputTokens and OutputTokens are only populated on the Done chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// CompletionResponse is the result of a non-streaming Generate call.
type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier for the model (e.g., "gpt-4o").
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`
}

// Tool defines the interface for executable agent tools.
//
// Implementing a Tool:
//
//	type listFiles struct{ repo *projects.Repository }
//
//	func (t *listFiles) Name() string        { return "list_files" }
//	func (t *listFiles) Description() string { return "List the project's files" }
//	func (t *listFiles) Schema() json.RawMessage {
//	    return agent.SchemaFor[listFilesInput]()
//	}
//	func (t *listFiles) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
//	    ...
//	}
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with parameters that already passed Schema
	// validation.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution. Failures the model
// should see are reported with IsError rather than a Go error.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
