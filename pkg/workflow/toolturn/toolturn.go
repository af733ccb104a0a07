// Package toolturn builds the pair of graph.NodeFunc bodies that drive
// one tool-call loop: an LLM-turn node that accumulates an
// llm.Conversation in the session store and emits either an
// *graph.AssistantMessage or a *graph.ToolCallRequest, and a tool-exec
// node that dispatches the request through pkg/tools and feeds the
// result back as the next turn's input.
//
// Shared between pkg/workflow/analyze and pkg/workflow/modify so both
// workflows' loops (repository analysis, code analysis, code
// modification, container verification) are built from one grounded
// implementation rather than four copies.
package toolturn

import (
	"fmt"

	"github.com/ternarybob/repoagent/pkg/events"
	"github.com/ternarybob/repoagent/pkg/graph"
	"github.com/ternarybob/repoagent/pkg/llm"
	"github.com/ternarybob/repoagent/pkg/session"
	"github.com/ternarybob/repoagent/pkg/tools"
)

// Deps configures one tool-call loop.
type Deps struct {
	Client        *llm.Client
	Invoker       *tools.Invoker
	Model         string
	System        string
	ToolCatalog   []llm.Tool
	MessagesKey   session.Key[*llm.Conversation]
	MaxToolCalls  int // prompt-level suggestion; the engine does not hard-enforce it
	ContextBudget int // token budget for the loop's history; 0 means unlimited
}

// toolCallCountKey tracks calls made against one loop's MessagesKey, so
// the soft cap can be logged without being engine-enforced.
func toolCallCountKey(d Deps) session.Key[int] {
	return session.NewKey[int]("toolturn-count:" + d.MessagesKey.Name())
}

// UsageKey accumulates token usage across every LLM turn of a run, for
// the workflow's terminal response.
var UsageKey = session.NewKey[llm.TokenUsage]("toolturn-usage")

// AddUsage folds u into the run's accumulated token usage.
func AddUsage(store *session.Store, u llm.TokenUsage) {
	total, _ := session.Get(store, UsageKey)
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
	session.Set(store, UsageKey, total)
}

// RequestNode builds the LLM-turn node. Its input is either the initial
// prompt (a string, used only on the loop's first invocation) or a
// *graph.ToolResult fed back from ExecuteNode.
func RequestNode(d Deps) graph.NodeFunc {
	return func(rc *graph.RunContext, input any) (any, error) {
		store := rc.Run.Store
		conv, ok := session.Get(store, d.MessagesKey)
		if !ok || conv == nil {
			conv = llm.NewConversation()
		}

		switch v := input.(type) {
		case *graph.ToolResult:
			conv.AddToolResult(v.CallID, v.Content, v.IsError)
		case string:
			if conv.Len() == 0 {
				conv.AddUser(v)
			}
		}
		conv.TrimToBudget(d.ContextBudget)

		resp, err := d.Client.Complete(rc.Context(), d.Model, llm.Prompt{System: d.System, Messages: conv.Messages()}, d.ToolCatalog,
			func(c llm.StreamChunk) {
				rc.Run.Bus.Emit(events.LLMStreamChunk(c.Content, c.Done))
			})
		if err != nil {
			return nil, fmt.Errorf("toolturn: llm turn: %w", err)
		}
		AddUsage(store, resp.Usage)

		if len(resp.ToolCalls) > 0 {
			tc := resp.ToolCalls[0]
			conv.Add(llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
			session.Set(store, d.MessagesKey, conv)

			count, _ := session.Get(store, toolCallCountKey(d))
			count++
			session.Set(store, toolCallCountKey(d), count)
			if d.MaxToolCalls > 0 && count > d.MaxToolCalls {
				rc.Run.Bus.Emit(events.StageUpdate(fmt.Sprintf("tool-call soft cap of %d exceeded (%d so far)", d.MaxToolCalls, count)))
			}

			rc.Run.Bus.Emit(events.ToolExecution(tc.Name, tc.Arguments))
			return &graph.ToolCallRequest{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}, nil
		}

		conv.AddAssistant(resp.Content)
		session.Set(store, d.MessagesKey, conv)
		return &graph.AssistantMessage{Content: resp.Content}, nil
	}
}

// ExecuteNode builds the tool-exec node: validates and dispatches the
// request through d.Invoker, logging it to the session's tool-call log
// (pkg/tools.ToolCallLogKey) regardless of success.
func ExecuteNode(d Deps) graph.NodeFunc {
	return func(rc *graph.RunContext, input any) (any, error) {
		call, ok := input.(*graph.ToolCallRequest)
		if !ok {
			return nil, fmt.Errorf("toolturn: execute node expected *graph.ToolCallRequest, got %T", input)
		}
		result := d.Invoker.Call(rc.Context(), rc.Run.Store, call)
		return result, nil
	}
}
