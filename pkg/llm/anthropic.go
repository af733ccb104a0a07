package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements the Provider interface for Claude using the
// official SDK client rather than a hand-rolled HTTP layer.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	models       []string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	p, _ := NewAnthropicProviderWithConfig(AnthropicConfig{APIKey: apiKey})
	return p
}

// NewAnthropicProviderWithConfig creates a provider from full configuration.
func NewAnthropicProviderWithConfig(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		models: []string{
			"claude-sonnet-4-20250514",
			"claude-opus-4-20250514",
			"claude-3-5-sonnet-20241022",
			"claude-3-5-haiku-20241022",
			"claude-3-opus-20240229",
		},
	}, nil
}

func (p *AnthropicProvider) Name() string     { return "anthropic" }
func (p *AnthropicProvider) Models() []string { return p.models }

func (p *AnthropicProvider) CountTokens(content string) (int, error) {
	return EstimateTokens(content), nil
}

// Complete generates a completion by draining Stream, since the SDK's
// non-streaming and streaming paths share the same event-accumulation logic.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &CompletionResponse{Model: p.modelOf(req)}
	var text strings.Builder
	toolsByID := map[string]*ToolCall{}
	var order []string

	for chunk := range ch {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Content != "" {
			text.WriteString(chunk.Content)
		}
		if chunk.ToolCall != nil {
			if _, ok := toolsByID[chunk.ToolCall.ID]; !ok {
				order = append(order, chunk.ToolCall.ID)
			}
			tc := *chunk.ToolCall
			toolsByID[chunk.ToolCall.ID] = &tc
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
	}

	resp.Content = text.String()
	for _, id := range order {
		resp.ToolCalls = append(resp.ToolCalls, *toolsByID[id])
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_use"
	} else {
		resp.FinishReason = "stop"
	}
	return resp, nil
}

// Stream generates a streaming completion via the SDK's SSE client.
func (p *AnthropicProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.toParams(req))

	ch := make(chan StreamChunk)
	go p.consumeStream(ctx, stream, p.modelOf(req), ch)
	return ch, nil
}

func (p *AnthropicProvider) consumeStream(ctx context.Context, stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, model string, ch chan<- StreamChunk) {
	defer close(ch)

	var currentTool *ToolCall
	var toolInput strings.Builder
	var usage TokenUsage

	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- StreamChunk{Error: ctx.Err()}
			return
		default:
		}

		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.PromptTokens = int(ms.Message.Usage.InputTokens)
		case "content_block_start":
			cb := event.AsContentBlockStart()
			if cb.ContentBlock.Type == "tool_use" {
				tu := cb.ContentBlock.AsToolUse()
				currentTool = &ToolCall{ID: tu.ID, Name: tu.Name}
				toolInput.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					ch <- StreamChunk{Content: delta.Text}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if currentTool != nil {
				currentTool.Arguments = toolInput.String()
				ch <- StreamChunk{ToolCall: currentTool}
				currentTool = nil
			}
		case "message_delta":
			md := event.AsMessageDelta()
			usage.CompletionTokens = int(md.Usage.OutputTokens)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		case "message_stop":
			ch <- StreamChunk{Done: true, Usage: &usage}
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- StreamChunk{Error: p.wrapError(err, model)}
		return
	}
	ch <- StreamChunk{Done: true, Usage: &usage}
}

func (p *AnthropicProvider) toParams(req *CompletionRequest) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" && msg.Role != "tool" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if msg.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelOf(req)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if len(req.Tools) > 0 && req.ToolChoice != "none" {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := t.Parameters
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			raw, _ := json.Marshal(schema)
			var inputSchema anthropic.ToolInputSchemaParam
			_ = json.Unmarshal(raw, &inputSchema)
			toolParam := anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
			if toolParam.OfTool != nil {
				toolParam.OfTool.Description = anthropic.String(t.Description)
			}
			tools = append(tools, toolParam)
		}
		params.Tools = tools
	}

	return params
}

func (p *AnthropicProvider) modelOf(req *CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

// wrapError classifies an SDK error into a *ProviderError the rest of the
// package can inspect with IsRateLimitError/IsAuthError/IsContextLengthError.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		code := fmt.Sprintf("http_%d", apiErr.StatusCode)
		switch apiErr.StatusCode {
		case 429:
			code = "rate_limit"
		case 401:
			code = "authentication_error"
		}
		return &ProviderError{Provider: "anthropic", Code: code, Message: apiErr.Error(), Err: err}
	}
	return &ProviderError{Provider: "anthropic", Code: "unknown", Message: err.Error(), Err: err}
}

// backoff computes the exponential delay base * 2^attempt. Nothing in
// this package calls it: AnthropicProvider sends each request once, and
// its maxRetries/retryDelay fields are stored but not read.
func backoff(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
}
