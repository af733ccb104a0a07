package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider against Google's Gemini API through
// the genai client, covering the full chat/tool-call surface.
type GeminiProvider struct {
	client *genai.Client
	models []string
}

// NewGeminiProvider creates a Gemini-backed provider. Returns an error if the
// client cannot be constructed (e.g. malformed configuration); a missing API
// key is a valid empty-string case left to the caller to guard against.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiProvider{
		client: client,
		models: []string{"gemini-3-flash-preview", "gemini-3-pro-preview", "gemini-2.5-flash"},
	}, nil
}

func (p *GeminiProvider) Name() string     { return "gemini" }
func (p *GeminiProvider) Models() []string { return p.models }

func (p *GeminiProvider) CountTokens(content string) (int, error) {
	return EstimateTokens(content), nil
}

func (p *GeminiProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" && len(p.models) > 0 {
		model = p.models[0]
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{toGeminiTool(req.Tools)}
	}

	contents := toGeminiContents(req.Messages)

	result, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Code: "request_failed", Message: err.Error(), Err: err}
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, &ProviderError{Provider: "gemini", Code: "empty_response", Message: "no candidates returned"}
	}

	resp := &CompletionResponse{Model: model, FinishReason: "stop"}
	for _, part := range result.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			resp.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        part.FunctionCall.Name,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_use"
	}
	if result.UsageMetadata != nil {
		resp.Usage = TokenUsage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

// Stream wraps a single non-streaming Complete call: the whole response
// text is emitted as one content chunk, followed by one chunk per tool
// call and a final Done chunk carrying usage.
func (p *GeminiProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		resp, err := p.Complete(ctx, req)
		if err != nil {
			ch <- StreamChunk{Error: err}
			return
		}
		if resp.Content != "" {
			ch <- StreamChunk{Content: resp.Content}
		}
		for i := range resp.ToolCalls {
			ch <- StreamChunk{ToolCall: &resp.ToolCalls[i]}
		}
		ch <- StreamChunk{Done: true, Usage: &resp.Usage}
	}()
	return ch, nil
}

func toGeminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		if msg.Content != "" {
			contents = append(contents, genai.NewContentFromText(msg.Content, role))
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
			contents = append(contents, &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: args,
				}}},
			})
		}
		if msg.Role == "tool" {
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					Name:     msg.ToolCallID,
					Response: map[string]any{"result": msg.Content},
				}}},
			})
		}
	}
	return contents
}

func toGeminiTool(tools []Tool) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.Parameters),
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

func toGeminiSchema(params map[string]any) *genai.Schema {
	if params == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	return &schema
}
