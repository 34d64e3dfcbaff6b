package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/internal/agent/toolconv"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// defaultAnthropicMaxTokens is sent when a request sets no limit; the
// Messages API requires one.
const defaultAnthropicMaxTokens = 4096

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements agent.LLMProvider for Claude models using the
// Messages API. Retries are handled by BaseProvider, so the SDK's own retry
// loop is disabled.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultAnthropicModel
	}

	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

// Models returns the Claude models the studio offers.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-3-7-sonnet-20250219", Name: "Claude 3.7 Sonnet", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

// SupportsTools returns true.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

func (p *AnthropicProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	tools, err := toolconv.ToAnthropicTools(req.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
		Tools:     tools,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params, nil
}

// Complete starts a streaming Messages request. The SDK opens the HTTP
// stream lazily, so the first event is read inside the retry loop to
// surface connection and status errors before chunks are handed out.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	params, err := p.buildParams(req)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	var first bool
	err = p.Retry(ctx, IsRetryable, func() error {
		stream = p.client.Messages.NewStreaming(ctx, params)
		first = stream.Next()
		if !first {
			if streamErr := stream.Err(); streamErr != nil {
				_ = stream.Close()
				return p.wrapError(streamErr, model)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(stream, first, chunks, model)
	return chunks, nil
}

type anthropicToolBlock struct {
	call  models.ToolCall
	input strings.Builder
}

// processStream converts SSE events into chunks. Tool-use blocks are keyed
// by content block index so interleaved blocks cannot mix their input.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], hasEvent bool, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	blocks := make(map[int64]*anthropicToolBlock)
	var inputTokens, outputTokens int

	for ok := hasEvent; ok; ok = stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			usage := event.AsMessageStart().Message.Usage
			inputTokens = int(usage.InputTokens)
			outputTokens = int(usage.OutputTokens)

		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type != "tool_use" {
				continue
			}
			block := &anthropicToolBlock{call: models.ToolCall{ID: start.ContentBlock.ID, Name: start.ContentBlock.Name}}
			blocks[start.Index] = block
			chunks <- &agent.CompletionChunk{ToolCallStart: &models.ToolCall{ID: block.call.ID, Name: block.call.Name}}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch delta.Delta.Type {
			case "text_delta":
				if delta.Delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Delta.Text}
				}
			case "input_json_delta":
				if block := blocks[delta.Index]; block != nil {
					block.input.WriteString(delta.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			stop := event.AsContentBlockStop()
			block := blocks[stop.Index]
			if block == nil {
				continue
			}
			delete(blocks, stop.Index)
			call := block.call
			call.Input = json.RawMessage(block.input.String())
			chunks <- &agent.CompletionChunk{ToolCall: &call}

		case "message_delta":
			if out := event.AsMessageDelta().Usage.OutputTokens; out > 0 {
				outputTokens = int(out)
			}

		case "message_stop":
			chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
		return
	}
	chunks <- &agent.CompletionChunk{Error: p.wrapError(errors.New("stream ended before message_stop"), model)}
}

// Generate sends a non-streaming Messages request.
func (p *AnthropicProvider) Generate(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := p.model(req.Model)
	params, err := p.buildParams(req)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	var msg *anthropic.Message
	err = p.Retry(ctx, IsRetryable, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			return p.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &agent.CompletionResponse{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// toAnthropicMessages maps the conversation onto content blocks. Tool
// results travel in user messages, as the Messages API requires.
func toAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			input := tc.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			if !json.Valid(input) {
				return nil, errors.New("invalid tool call input for " + tc.Name)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError(p.Name(), model, err)
	}

	providerErr := NewProviderError(p.Name(), model, err).WithStatus(apiErr.StatusCode)
	providerErr.Message = "anthropic request failed"
	requestID := apiErr.RequestID

	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		if payload.Error.Message != "" {
			providerErr = providerErr.WithMessage(payload.Error.Message)
		}
		if payload.Error.Type != "" {
			providerErr = providerErr.WithCode(payload.Error.Type)
		}
		if payload.RequestID != "" {
			requestID = payload.RequestID
		}
	}
	if requestID != "" {
		providerErr = providerErr.WithRequestID(requestID)
	}
	return providerErr
}
