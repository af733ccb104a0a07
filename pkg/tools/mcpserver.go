package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ternarybob/repoagent/pkg/session"
)

// MCPServer exposes a Registry's tools over the Model Context Protocol, so
// the same tool catalog an in-process Invoker drives can also be reached by
// an external MCP client (e.g. an editor) via stdio.
type MCPServer struct {
	registry *Registry
	store    *session.Store
	server   *server.MCPServer
}

// NewMCPServer wraps registry for MCP stdio exposure. store is the session
// the exposed tools operate against; callers that need per-connection
// isolation should construct one MCPServer per session.
func NewMCPServer(registry *Registry, store *session.Store) *MCPServer {
	s := &MCPServer{registry: registry, store: store}

	mcpServer := server.NewMCPServer(
		"repoagent-tools",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	for _, t := range registry.List() {
		mcpServer.AddTool(toMCPTool(t), s.handlerFor(t))
	}
	s.server = mcpServer
	return s
}

// ServeStdio starts the MCP server on stdio, blocking until the client
// disconnects or ctx-independent I/O fails.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server)
}

func toMCPTool(t *Tool) mcp.Tool {
	raw, err := json.Marshal(t.Schema)
	if err != nil || len(t.Schema) == 0 {
		return mcp.NewTool(t.Name, mcp.WithDescription(t.Description))
	}
	return mcp.NewToolWithRawSchema(t.Name, t.Description, raw)
}

func (s *MCPServer) handlerFor(t *Tool) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if t.compiled != nil {
			if err := t.compiled.Validate(args); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}

		result, err := t.Handler(ctx, s.store, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}
