package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Prompt is the input to a single LLM turn: a system instruction plus the
// conversation so far.
type Prompt struct {
	System   string
	Messages []Message
}

// Client wraps a Provider with the structured-output and tool-call-turn
// surface the rest of the system drives nodes through. A Client is stateless
// beyond its two providers and may be shared across runs.
type Client struct {
	provider Provider
	repair   Provider
}

// NewClient creates a Client backed by provider for both normal turns and,
// absent an explicit repair provider, JSON-repair retries.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider, repair: provider}
}

// WithRepairProvider sets a distinct, typically cheaper, provider used only
// for CompleteStructured's repair retries.
func (c *Client) WithRepairProvider(p Provider) *Client {
	c.repair = p
	return c
}

// Complete runs a single turn, forwarding every streamed chunk to onChunk
// (which may be nil) and returning the accumulated response. The caller
// inspects resp.ToolCalls to decide whether this was an assistant message or
// a tool-call request, the distinction the graph's OnToolCall/
// OnAssistantMessage predicates key off of.
func (c *Client) Complete(ctx context.Context, model string, prompt Prompt, tools []Tool, onChunk func(StreamChunk)) (*CompletionResponse, error) {
	req := &CompletionRequest{
		Model:    model,
		System:   prompt.System,
		Messages: prompt.Messages,
		Tools:    tools,
	}

	ch, err := c.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &CompletionResponse{Model: model}
	var text []byte
	toolsByID := map[string]*ToolCall{}
	var order []string

	for chunk := range ch {
		if onChunk != nil {
			onChunk(chunk)
		}
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Content != "" {
			text = append(text, chunk.Content...)
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

	resp.Content = string(text)
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

// RepairConfig controls CompleteStructured's retry behavior against
// malformed JSON output.
type RepairConfig struct {
	// Model is the (typically cheaper) model used for repair attempts. If
	// empty, the original completion's model is reused.
	Model string

	// MaxAttempts bounds the number of repair round-trips. Zero means one
	// initial attempt with no repair.
	MaxAttempts int

	// MaxContextTokens, when positive, trims the repair prompt's oldest
	// messages so its estimated token count fits the budget.
	MaxContextTokens int
}

// Parsed is the result of CompleteStructured: the decoded value plus the
// raw text it was parsed from, for logging or replay.
type Parsed[T any] struct {
	Value          T
	Raw            string
	RepairAttempts int
	Usage          TokenUsage
}

// CompleteStructured requests a completion and decodes its content as JSON
// matching schema into T, retrying with a repair prompt against a distinct
// (usually cheaper) model when the output fails to parse or validate.
//
// Go does not support generic methods, so this is a package-level function
// taking the Client explicitly rather than Client.CompleteStructured[T].
func CompleteStructured[T any](ctx context.Context, c *Client, model string, prompt Prompt, schema *jsonschema.Schema, repair RepairConfig) (Parsed[T], error) {
	if repair.Model == "" {
		repair.Model = model
	}

	resp, err := c.Complete(ctx, model, prompt, nil, nil)
	if err != nil {
		return Parsed[T]{}, err
	}

	usage := resp.Usage
	raw := resp.Content
	for attempt := 0; ; attempt++ {
		value, valErr := decodeAgainstSchema[T](raw, schema)
		if valErr == nil {
			return Parsed[T]{Value: value, Raw: raw, RepairAttempts: attempt, Usage: usage}, nil
		}
		if attempt >= repair.MaxAttempts {
			return Parsed[T]{}, fmt.Errorf("structured output invalid after %d repair attempts: %w", attempt, valErr)
		}

		history := NewConversation()
		for _, m := range prompt.Messages {
			history.Add(m)
		}
		history.AddAssistant(raw)
		history.AddUser(fmt.Sprintf("That output is invalid: %v. Return corrected JSON only.", valErr))
		history.TrimToBudget(repair.MaxContextTokens)

		repairPrompt := Prompt{
			System:   "You produce ONLY valid JSON matching the required schema. Fix the previous output; return JSON only, no commentary.",
			Messages: history.Messages(),
		}

		resp, err = c.repair.Complete(ctx, &CompletionRequest{
			Model:    repair.Model,
			System:   repairPrompt.System,
			Messages: repairPrompt.Messages,
		})
		if err != nil {
			return Parsed[T]{}, fmt.Errorf("repair attempt %d: %w", attempt+1, err)
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens
		raw = resp.Content
	}
}

func decodeAgainstSchema[T any](raw string, schema *jsonschema.Schema) (T, error) {
	var value T

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return value, fmt.Errorf("invalid JSON: %w", err)
	}

	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return value, fmt.Errorf("schema validation: %w", err)
		}
	}

	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, fmt.Errorf("decode into target type: %w", err)
	}
	return value, nil
}

// CompileSchema compiles a JSON schema document (as produced by
// encoding/json.Marshal of a map[string]any, or read from a skill's
// schema file) for use with CompleteStructured.
func CompileSchema(name string, schemaDoc any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
