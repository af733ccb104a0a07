// Package tools implements the tool registry and invoker that graph nodes
// of kind KindToolExec dispatch through.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ternarybob/repoagent/pkg/graph"
	"github.com/ternarybob/repoagent/pkg/session"
)

// Handler executes a tool call's arguments and returns its result content.
// It must not panic; any error is surfaced as a ToolResult with IsError set
// rather than failing the enclosing run.
type Handler func(ctx context.Context, store *session.Store, args map[string]any) (string, error)

// Tool is a single callable tool: its name, description, JSON Schema for
// arguments, and handler.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler

	compiled *jsonschema.Schema
}

// ToolCallLogKey is the session key under which the invoker appends every
// dispatched call, in order, for the lifetime of the run.
var ToolCallLogKey = session.NewKey[[]LoggedCall]("tool-call-log")

// LoggedCall is one entry in the tool-call log.
type LoggedCall struct {
	CallID  string
	Name    string
	Args    map[string]any
	Result  string
	IsError bool
}

// Registry holds the set of tools available to a run, keyed by name.
// Registration order is preserved for listing (e.g. over MCP).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds t to the registry, compiling its schema. A duplicate name is
// rejected rather than silently overwriting the earlier registration.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.Name == "" {
		return fmt.Errorf("tools: tool name cannot be empty")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: %q already registered", t.Name)
	}

	schema := t.Schema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	compiler := jsonschema.NewCompiler()
	resourceName := t.Name + ".schema.json"
	if err := compiler.AddResource(resourceName, schema); err != nil {
		return fmt.Errorf("tools: add schema resource for %q: %w", t.Name, err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("tools: compile schema for %q: %w", t.Name, err)
	}
	t.compiled = compiled

	r.tools[t.Name] = &t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, len(r.order))
	for i, name := range r.order {
		out[i] = r.tools[name]
	}
	return out
}

// Invoker dispatches ToolCallRequests against a Registry.
type Invoker struct {
	registry *Registry
}

// NewInvoker creates an Invoker bound to registry.
func NewInvoker(registry *Registry) *Invoker {
	return &Invoker{registry: registry}
}

// Call validates call.Arguments against the tool's schema, dispatches to its
// handler, and appends an entry to the session's tool-call log. A missing
// tool, schema violation, or handler error all produce a ToolResult with
// IsError set; the run itself never fails because a tool failed.
func (inv *Invoker) Call(ctx context.Context, store *session.Store, call *graph.ToolCallRequest) *graph.ToolResult {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return inv.logAndReturn(store, call, nil, fmt.Sprintf("invalid arguments JSON: %v", err), true)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	tool, ok := inv.registry.Get(call.Name)
	if !ok {
		return inv.logAndReturn(store, call, args, fmt.Sprintf("unknown tool %q", call.Name), true)
	}

	if tool.compiled != nil {
		if err := tool.compiled.Validate(args); err != nil {
			return inv.logAndReturn(store, call, args, fmt.Sprintf("invalid arguments: %v", err), true)
		}
	}

	result, err := tool.Handler(ctx, store, args)
	if err != nil {
		return inv.logAndReturn(store, call, args, err.Error(), true)
	}
	return inv.logAndReturn(store, call, args, result, false)
}

func (inv *Invoker) logAndReturn(store *session.Store, call *graph.ToolCallRequest, args map[string]any, content string, isError bool) *graph.ToolResult {
	log, _ := session.Get(store, ToolCallLogKey)
	log = append(log, LoggedCall{
		CallID:  call.ID,
		Name:    call.Name,
		Args:    args,
		Result:  content,
		IsError: isError,
	})
	session.Set(store, ToolCallLogKey, log)

	return &graph.ToolResult{CallID: call.ID, Content: content, IsError: isError}
}
