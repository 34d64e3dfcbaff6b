package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/internal/agent/toolconv"
	"github.com/haasonsaas/vibekit/pkg/models"
	"google.golang.org/genai"
)

// GoogleConfig configures the Gemini provider.
type GoogleConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GoogleProvider implements agent.LLMProvider for Gemini models through the
// Gemini API backend of the genai SDK.
//
// Gemini delivers function calls whole, so each call produces a
// ToolCallStart chunk immediately followed by the complete ToolCall. Calls
// may come without an id; the tool loop assigns one.
type GoogleProvider struct {
	BaseProvider
	client       *genai.Client
	defaultModel string
}

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultGeminiModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.HTTPOptions.BaseURL = config.BaseURL
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GoogleProvider{
		BaseProvider: NewBaseProvider("gemini", config.MaxRetries, config.RetryDelay),
		client:       client,
		defaultModel: config.DefaultModel,
	}, nil
}

// Models returns the Gemini models the studio offers.
func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextSize: 1048576},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextSize: 1048576},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1048576},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash-Lite", ContextSize: 1048576},
	}
}

// SupportsTools returns true.
func (p *GoogleProvider) SupportsTools() bool {
	return true
}

func (p *GoogleProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) (*genai.GenerateContentConfig, error) {
	tools, err := toolconv.ToGeminiTools(req.Tools)
	if err != nil {
		return nil, err
	}
	config := &genai.GenerateContentConfig{Tools: tools}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	return config, nil
}

// Complete starts a streaming generation. The first response is pulled
// inside the retry loop so failures to connect can be retried.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	config, err := p.buildConfig(req)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	contents := toGeminiContents(req.Messages)

	var (
		next  func() (*genai.GenerateContentResponse, error, bool)
		stop  func()
		first *genai.GenerateContentResponse
		ok    bool
	)
	err = p.Retry(ctx, IsRetryable, func() error {
		next, stop = iter.Pull2(p.client.Models.GenerateContentStream(ctx, model, contents, config))
		var streamErr error
		first, streamErr, ok = next()
		if streamErr != nil {
			stop()
			return p.wrapError(streamErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		defer stop()

		var inputTokens, outputTokens int
		resp := first
		for ok {
			if resp != nil {
				if usage := resp.UsageMetadata; usage != nil {
					inputTokens = int(usage.PromptTokenCount)
					outputTokens = int(usage.CandidatesTokenCount)
				}
				emitGeminiParts(resp, chunks)
			}

			var streamErr error
			resp, streamErr, ok = next()
			if streamErr != nil {
				chunks <- &agent.CompletionChunk{Error: p.wrapError(streamErr, model)}
				return
			}
		}
		if err := ctx.Err(); err != nil {
			chunks <- &agent.CompletionChunk{Error: p.wrapError(err, model)}
			return
		}
		chunks <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	}()
	return chunks, nil
}

func emitGeminiParts(resp *genai.GenerateContentResponse, chunks chan<- *agent.CompletionChunk) {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			chunks <- &agent.CompletionChunk{Text: part.Text}
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil || fc.Args == nil {
				args = []byte("{}")
			}
			chunks <- &agent.CompletionChunk{ToolCallStart: &models.ToolCall{ID: fc.ID, Name: fc.Name}}
			chunks <- &agent.CompletionChunk{ToolCall: &models.ToolCall{ID: fc.ID, Name: fc.Name, Input: args}}
		}
	}
}

// Generate runs a non-streaming generation.
func (p *GoogleProvider) Generate(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	model := p.model(req.Model)
	config, err := p.buildConfig(req)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	contents := toGeminiContents(req.Messages)

	var resp *genai.GenerateContentResponse
	err = p.Retry(ctx, IsRetryable, func() error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(ctx, model, contents, config)
		if callErr != nil {
			return p.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &agent.CompletionResponse{Text: resp.Text(), Model: model}
	if usage := resp.UsageMetadata; usage != nil {
		out.InputTokens = int(usage.PromptTokenCount)
		out.OutputTokens = int(usage.CandidatesTokenCount)
	}
	return out, nil
}

// toGeminiContents maps the conversation onto Gemini contents. Function
// responses must name the function, so result ids are resolved against the
// calls seen earlier in the conversation.
func toGeminiContents(messages []agent.CompletionMessage) []*genai.Content {
	callNames := make(map[string]string)
	result := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == "assistant" {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			callNames[tc.ID] = tc.Name
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			response := map[string]any{"output": tr.Content}
			if tr.IsError {
				response = map[string]any{"error": tr.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       tr.ToolCallID,
					Name:     callNames[tr.ToolCallID],
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError(p.Name(), model, err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != 0 {
			providerErr = providerErr.WithStatus(apiErr.Code)
		}
		if apiErr.Status != "" {
			providerErr = providerErr.WithCode(apiErr.Status)
		}
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
	}
	return providerErr
}
