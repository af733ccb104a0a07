package toolturn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/repoagent/pkg/events"
	"github.com/ternarybob/repoagent/pkg/graph"
	"github.com/ternarybob/repoagent/pkg/llm"
	"github.com/ternarybob/repoagent/pkg/session"
	"github.com/ternarybob/repoagent/pkg/tools"
)

type scriptedProvider struct {
	scripts [][]llm.StreamChunk
	calls   int
}

func (p *scriptedProvider) Name() string     { return "scripted" }
func (p *scriptedProvider) Models() []string { return []string{"scripted-model"} }
func (p *scriptedProvider) CountTokens(content string) (int, error) {
	return len(content), nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	script := p.scripts[p.calls]
	p.calls++
	ch := make(chan llm.StreamChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &llm.CompletionResponse{}
	for c := range ch {
		resp.Content += c.Content
	}
	return resp, nil
}

func buildLoop(t *testing.T, provider llm.Provider) (*graph.Graph, *graph.Run) {
	t.Helper()

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Tool{
		Name: "read-file",
		Handler: func(ctx context.Context, store *session.Store, args map[string]any) (string, error) {
			return "file contents", nil
		},
	}))
	invoker := tools.NewInvoker(registry)

	deps := Deps{
		Client:      llm.NewClient(provider),
		Invoker:     invoker,
		Model:       "scripted-model",
		System:      "system",
		MessagesKey: session.NewKey[*llm.Conversation]("messages"),
	}

	b := graph.NewBuilder()
	b.Subgraph("loop", graph.SubgraphOpts{Start: "request", Finish: "done"}).
		Node("request", graph.KindLLMTurn, RequestNode(deps)).
		Node("execute", graph.KindToolExec, ExecuteNode(deps)).
		Node("done", graph.KindPure, func(rc *graph.RunContext, input any) (any, error) { return input, nil }).
		Edge("request", "execute", graph.OnToolCall()).
		Edge("execute", "request", graph.Always()).
		Edge("request", "done", graph.OnAssistantMessage()).
		Done()
	g := b.Build()

	run := graph.NewRun(context.Background(), nil)
	return g, run
}

func TestLoop_ToolCallThenAssistantMessage(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llm.StreamChunk{
		{{ToolCall: &llm.ToolCall{ID: "1", Name: "read-file", Arguments: `{"path":"a.go"}`}}, {Done: true}},
		{{Content: "done analyzing"}, {Done: true}},
	}}
	g, run := buildLoop(t, provider)

	rt := graph.NewRuntime()
	out, err := rt.Run(run, g, "loop", "analyze this repo")
	require.NoError(t, err)

	msg, ok := out.(*graph.AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "done analyzing", msg.Content)

	log, _ := session.Get(run.Store, tools.ToolCallLogKey)
	require.Len(t, log, 1)
	assert.Equal(t, "read-file", log[0].Name)
	assert.Equal(t, "file contents", log[0].Result)
}

func TestLoop_ImmediateAssistantMessageSkipsTools(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llm.StreamChunk{
		{{Content: "no tools needed"}, {Done: true}},
	}}
	g, run := buildLoop(t, provider)

	rt := graph.NewRuntime()
	out, err := rt.Run(run, g, "loop", "summarize")
	require.NoError(t, err)

	msg := out.(*graph.AssistantMessage)
	assert.Equal(t, "no tools needed", msg.Content)

	log, _ := session.Get(run.Store, tools.ToolCallLogKey)
	assert.Empty(t, log)
}

func TestLoop_EmitsStreamChunks(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llm.StreamChunk{
		{{Content: "partial"}, {Done: true}},
	}}
	g, run := buildLoop(t, provider)

	sub := run.Bus.Subscribe()
	rt := graph.NewRuntime()
	_, err := rt.Run(run, g, "loop", "hi")
	require.NoError(t, err)
	run.Bus.Unsubscribe(sub)

	var sawStream bool
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				goto done
			}
			if ev.Kind == events.KindLLMStream {
				sawStream = true
			}
		default:
			goto done
		}
	}
done:
	assert.True(t, sawStream)
}
