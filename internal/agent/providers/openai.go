package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/internal/agent/toolconv"
	"github.com/haasonsaas/vibekit/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// DeepSeekBaseURL is the OpenAI-compatible endpoint used for the deepseek
// provider when no base URL is configured.
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	// Name overrides the provider name reported to metrics and errors.
	// Default: "openai"
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIProvider implements agent.LLMProvider on top of the chat completions
// API. It also serves DeepSeek, which speaks the same protocol.
//
// Tool calls arrive as indexed deltas: the first delta for an index carries
// the id and function name, later ones append argument fragments. A
// ToolCallStart chunk is emitted on that first delta and the complete call
// once the choice finishes.
type OpenAIProvider struct {
	BaseProvider
	client       *openai.Client
	defaultModel string
	models       []agent.Model
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.Name == "" {
		config.Name = "openai"
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(config.Name, config.MaxRetries, config.RetryDelay),
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		models:       openAIModels,
	}, nil
}

// NewDeepSeekProvider creates an OpenAI-compatible provider pointed at
// DeepSeek.
func NewDeepSeekProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("deepseek: API key is required")
	}
	config.Name = "deepseek"
	if config.BaseURL == "" {
		config.BaseURL = DeepSeekBaseURL
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultDeepSeekModel
	}
	p, err := NewOpenAIProvider(config)
	if err != nil {
		return nil, err
	}
	p.models = deepSeekModels
	return p, nil
}

var openAIModels = []agent.Model{
	{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000},
	{ID: "gpt-4.1", Name: "GPT-4.1", ContextSize: 1047576},
	{ID: "gpt-4.1-mini", Name: "GPT-4.1 mini", ContextSize: 1047576},
	{ID: "o3-mini", Name: "o3-mini", ContextSize: 200000},
}

var deepSeekModels = []agent.Model{
	{ID: "deepseek-chat", Name: "DeepSeek Chat", ContextSize: 64000},
	{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", ContextSize: 64000},
}

// Models returns the known chat models.
func (p *OpenAIProvider) Models() []agent.Model {
	return p.models
}

// SupportsTools returns true; function calling is available on every model
// listed.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

func (p *OpenAIProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest) (openai.ChatCompletionRequest, error) {
	tools, err := toolconv.ToOpenAITools(req.Tools)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: toOpenAIMessages(req.Messages, req.System),
		Tools:    tools,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	return chatReq, nil
}

// Complete starts a streaming chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	var stream *openai.ChatCompletionStream
	err = p.Retry(ctx, IsRetryable, func() error {
		var openErr error
		stream, openErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if openErr != nil {
			return p.wrapError(openErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

// pendingCall accumulates one indexed tool call across deltas.
type pendingCall struct {
	call    models.ToolCall
	args    strings.Builder
	started bool
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*pendingCall)
	var inputTokens, outputTokens int

	flushCalls := func() {
		indexes := make([]int, 0, len(pending))
		for idx := range pending {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			pc := pending[idx]
			if pc.call.Name == "" {
				continue
			}
			call := pc.call
			call.Input = json.RawMessage(pc.args.String())
			chunks <- &agent.CompletionChunk{ToolCall: &call}
		}
		pending = make(map[int]*pendingCall)
	}

	for {
		if err := ctx.Err(); err != nil {
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}

		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flushCalls()
			chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return
		}
		if err != nil {
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			pc := pending[index]
			if pc == nil {
				pc = &pendingCall{}
				pending[index] = pc
			}
			if tc.ID != "" {
				pc.call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				pc.call.Name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
			if !pc.started && pc.call.Name != "" {
				pc.started = true
				chunks <- &agent.CompletionChunk{ToolCallStart: &models.ToolCall{ID: pc.call.ID, Name: pc.call.Name}}
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls || choice.FinishReason == openai.FinishReasonStop {
			flushCalls()
		}
	}
}

// Generate runs a non-streaming chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := p.model(req.Model)
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	var resp openai.ChatCompletionResponse
	err = p.Retry(ctx, IsRetryable, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return p.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &agent.CompletionResponse{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}

// toOpenAIMessages converts the conversation, placing the system prompt
// first and expanding each tool result into its own "tool" message.
func toOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, out)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(p.Name(), model, err)
		if apiErr.HTTPStatusCode != 0 {
			providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return NewProviderError(p.Name(), model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return NewProviderError(p.Name(), model, err)
}
