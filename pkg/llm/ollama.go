package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const ollamaDefaultURL = "http://localhost:11434"

// OllamaProvider implements Provider against a local (or any
// Ollama-compatible) REST endpoint. No ecosystem Go client exists for
// this API, so requests are plain net/http against /api/chat.
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	models     []string
}

// NewOllamaProvider creates an Ollama-backed provider. An empty baseURL
// targets the local daemon's default port.
func NewOllamaProvider(baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	return &OllamaProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// Models lists the endpoint's installed models, fetched lazily on first
// call. An unreachable daemon yields an empty list, not an error.
func (p *OllamaProvider) Models() []string {
	if len(p.models) == 0 {
		p.models = p.fetchInstalledModels()
	}
	return p.models
}

func (p *OllamaProvider) CountTokens(content string) (int, error) {
	return EstimateTokens(content), nil
}

// IsAvailable probes the endpoint with a short-deadline tags request.
func (p *OllamaProvider) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *OllamaProvider) fetchInstalledModels() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil
	}

	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names
}

// chatPayload is the request body for /api/chat.
type chatPayload struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// chatReply is one /api/chat response object; in streaming mode the
// body is a sequence of these, the last carrying Done and the counts.
type chatReply struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// buildPayload flattens a CompletionRequest into the chat API's shape:
// the system instruction becomes the leading message, and tool results
// degrade to tagged user messages since the API has no tool role.
func buildPayload(req *CompletionRequest) *chatPayload {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: RoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			// already carried as the leading message
		case RoleTool:
			messages = append(messages, chatMessage{
				Role:    RoleUser,
				Content: fmt.Sprintf("[Tool Result]: %s", msg.Content),
			})
		default:
			messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	payload := &chatPayload{Model: req.Model, Messages: messages}
	if req.Temperature > 0 || req.MaxTokens > 0 || len(req.StopSequences) > 0 {
		payload.Options = &chatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			Stop:        req.StopSequences,
		}
	}
	return payload
}

func (p *OllamaProvider) post(ctx context.Context, payload *chatPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ProviderError{
			Provider: "ollama",
			Code:     fmt.Sprintf("http_%d", resp.StatusCode),
			Message:  string(detail),
		}
	}
	return resp, nil
}

// Complete generates a single non-streaming completion.
func (p *OllamaProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	payload := buildPayload(req)
	payload.Stream = false

	resp, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reply chatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	finishReason := "stop"
	if reply.DoneReason == "length" {
		finishReason = "max_tokens"
	}
	return &CompletionResponse{
		Model:        reply.Model,
		Content:      reply.Message.Content,
		FinishReason: finishReason,
		Usage: TokenUsage{
			PromptTokens:     reply.PromptEvalCount,
			CompletionTokens: reply.EvalCount,
			TotalTokens:      reply.PromptEvalCount + reply.EvalCount,
		},
	}, nil
}

// Stream generates a streaming completion; the chat endpoint emits
// newline-delimited JSON objects until one carries done=true.
func (p *OllamaProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	payload := buildPayload(req)
	payload.Stream = true

	resp, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go p.drainStream(ctx, resp.Body, ch)
	return ch, nil
}

func (p *OllamaProvider) drainStream(ctx context.Context, body io.ReadCloser, ch chan<- StreamChunk) {
	defer body.Close()
	defer close(ch)

	decoder := json.NewDecoder(body)
	var usage TokenUsage
	for {
		select {
		case <-ctx.Done():
			ch <- StreamChunk{Error: ctx.Err()}
			return
		default:
		}

		var reply chatReply
		if err := decoder.Decode(&reply); err != nil {
			if err != io.EOF {
				ch <- StreamChunk{Error: err}
			}
			return
		}

		usage.PromptTokens = reply.PromptEvalCount
		usage.CompletionTokens = reply.EvalCount
		usage.TotalTokens = reply.PromptEvalCount + reply.EvalCount

		if reply.Message.Content != "" {
			ch <- StreamChunk{Content: reply.Message.Content}
		}
		if reply.Done {
			ch <- StreamChunk{Done: true, Usage: &usage}
			return
		}
	}
}
