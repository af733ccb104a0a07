// Package llm is the structured LLM client the graph's LLM-turn nodes
// drive: a provider abstraction over several backends (Anthropic,
// Gemini, Ollama), a completion surface that yields either an assistant
// message or a single tool-call request, and a structured-output path
// with bounded repair retries against a cheaper fixing model.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message roles. A turn's conversation history is user/assistant/tool
// messages; the system instruction travels separately on the request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one entry of a conversation. Assistant messages may carry
// ToolCalls; tool messages carry the result of exactly one call,
// linked back through ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolResult string     `json:"tool_result,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// UserMessage wraps content as a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage wraps content as an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage wraps one tool invocation's outcome as a tool turn.
func ToolResultMessage(callID, result string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		ToolCallID: callID,
		ToolResult: result,
		Content:    result,
		IsError:    isError,
	}
}

// Tool is one entry of the catalog handed to a turn: a name the model
// may call, what it does, and the JSON Schema its arguments must match.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is the model asking for one tool invocation. Arguments is
// the raw JSON the invoker validates against the tool's schema.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionRequest is one turn's input to a provider.
type CompletionRequest struct {
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []Message `json:"messages"`
	Tools         []Tool    `json:"tools,omitempty"`
	ToolChoice    string    `json:"tool_choice,omitempty"` // "auto", "none", or a tool name
	MaxTokens     int       `json:"max_tokens,omitempty"`
	Temperature   float64   `json:"temperature,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

// CompletionResponse is one turn's accumulated output: free text, tool
// calls, or both, plus why generation stopped and what it cost.
type CompletionResponse struct {
	Model        string     `json:"model"`
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "max_tokens", "tool_use"
	Usage        TokenUsage `json:"usage"`
}

// TokenUsage counts a call's prompt and completion tokens.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one fragment of a streaming response. Usage arrives on
// the final chunk; Error terminates the stream.
type StreamChunk struct {
	Content  string      `json:"content,omitempty"`
	ToolCall *ToolCall   `json:"tool_call,omitempty"`
	Done     bool        `json:"done"`
	Usage    *TokenUsage `json:"usage,omitempty"`
	Error    error       `json:"-"`
}

// Provider is one LLM backend. Implementations must honor ctx
// cancellation on both Complete and Stream.
type Provider interface {
	Name() string
	Models() []string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)
	CountTokens(content string) (int, error)
}

// ProviderError classifies a backend failure so call sites can decide
// between retry, fallback, and hard failure.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRateLimitError reports whether err is a backend rate limit.
func IsRateLimitError(err error) bool {
	code := providerErrorCode(err)
	return code == "rate_limit" || code == "rate_limit_exceeded"
}

// IsAuthError reports whether err is a credential failure. Auth errors
// are never retried and never fall through to another provider.
func IsAuthError(err error) bool {
	code := providerErrorCode(err)
	return code == "authentication_error" || code == "invalid_api_key"
}

// IsContextLengthError reports whether err means the prompt outgrew the
// model's context window.
func IsContextLengthError(err error) bool {
	return providerErrorCode(err) == "context_length_exceeded"
}
