package analyze

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/repoagent/pkg/container"
	"github.com/ternarybob/repoagent/pkg/forge"
	"github.com/ternarybob/repoagent/pkg/gitops"
	"github.com/ternarybob/repoagent/pkg/llm"
)

// scriptedProvider mirrors pkg/workflow/toolturn's test fake: each call
// to Stream consumes the next scripted response in order.
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

func testWorkflow(provider llm.Provider) *Workflow {
	return testWorkflowWithForge(provider, "")
}

func testWorkflowWithForge(provider llm.Provider, forgeBaseURL string) *Workflow {
	client := llm.NewClient(provider)
	fc := forge.New(forgeBaseURL, "")
	git := gitops.New(nil)
	coord := container.New(nil, "/tmp")
	return New(client, fc, git, coord, nil, nil, Config{
		Model:          "scripted-model",
		RepairModel:    "scripted-model",
		RepairAttempts: 1,
		MaxToolCalls:   15,
		MinSimilarity:  0.2,
		WorkspaceRoot:  "/tmp",
	})
}

func TestWorkflow_Run_HappyPath(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llm.StreamChunk{
		// 1. parse-request
		{{Content: `{"repoUrl":"https://github.com/acme/widget","userRequest":"explain the retry logic"}`}, {Done: true}},
		// 2. repository-analysis turn (no tool calls -- straight to synth)
		{{Content: "the retry logic lives in pkg/retry and uses exponential backoff"}, {Done: true}},
		// 3. synth structured report
		{{Content: `{"tldr":"widget retries with backoff","analysis":"pkg/retry implements exponential backoff with jitter"}`}, {Done: true}},
	}}

	w := testWorkflow(provider)
	resp, err := w.Run(context.Background(), Request{
		UserInput:          "explain the retry logic in github.com/acme/widget",
		ForceSkipContainer: true,
	})
	require.NoError(t, err)
	require.Empty(t, resp.FailureReason)
	assert.Equal(t, "widget retries with backoff", resp.TLDR)
	assert.Contains(t, resp.Analysis, "exponential backoff")
	assert.Nil(t, resp.ContainerInfo)
}

func TestWorkflow_Run_ParseFailureReturnsTypedValue(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]llm.StreamChunk{
		// not valid JSON, and every repair attempt also fails
		{{Content: `not json at all`}, {Done: true}},
		{{Content: `still not json`}, {Done: true}},
	}}

	w := testWorkflow(provider)
	w.Config.RepairAttempts = 1

	resp, err := w.Run(context.Background(), Request{UserInput: "do something"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.FailureReason)
	assert.Empty(t, resp.TLDR)
}

func TestWorkflow_Run_ToolCallLoopInAnalysis(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"main.go","path":"main.go","type":"file"}]`))
	}))
	defer server.Close()

	provider := &scriptedProvider{scripts: [][]llm.StreamChunk{
		// 1. parse-request
		{{Content: `{"repoUrl":"acme/widget","userRequest":"what does main.go do"}`}, {Done: true}},
		// 2. repository-analysis: first turn requests a tool call
		{{ToolCall: &llm.ToolCall{ID: "1", Name: "list-directory", Arguments: `{"path":"."}`}}, {Done: true}},
		// 3. repository-analysis: second turn, tool result consumed, answers directly
		{{Content: "workspace has a single main.go entrypoint"}, {Done: true}},
		// 4. synth
		{{Content: `{"tldr":"single entrypoint","analysis":"main.go is the only entrypoint"}`}, {Done: true}},
	}}

	w := testWorkflowWithForge(provider, server.URL)

	resp, err := w.Run(context.Background(), Request{
		UserInput:          "what does main.go do in acme/widget",
		ForceSkipContainer: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "single entrypoint", resp.TLDR)
	assert.Contains(t, resp.ToolCalls, "list-directory")
}

// TestWorkflow_Run_PerRequestCustomProvider routes a whole run through
// the request's own provider selection: an Ollama-compatible endpoint
// with a caller-chosen model, leaving the workflow's default client
// untouched.
func TestWorkflow_Run_PerRequestCustomProvider(t *testing.T) {
	replies := []string{
		`{"repoUrl":"acme/widget","userRequest":"explain the retry logic"}`,
		"the retry logic lives in pkg/retry and uses exponential backoff",
		`{"tldr":"custom-backed analysis","analysis":"pkg/retry implements backoff"}`,
	}
	calls := 0
	var seenModels []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		seenModels = append(seenModels, payload.Model)

		content := replies[calls]
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"model":             payload.Model,
			"message":           map[string]any{"role": "assistant", "content": content},
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 3,
			"eval_count":        5,
		})
	}))
	defer server.Close()

	// the default client's provider has no scripts: any call against it
	// would fail, proving the per-request selection took over
	w := testWorkflow(&scriptedProvider{})

	resp, err := w.Run(context.Background(), Request{
		UserInput:          "explain the retry logic in acme/widget",
		LLMProvider:        "custom",
		CustomBaseURL:      server.URL,
		CustomModel:        "workshop-coder-7b",
		FixingModel:        "workshop-fixer-1b",
		MaxContextTokens:   8192,
		ForceSkipContainer: true,
	})
	require.NoError(t, err)
	require.Empty(t, resp.FailureReason)

	assert.Equal(t, "custom-backed analysis", resp.TLDR)
	assert.Equal(t, "workshop-coder-7b", resp.Model)
	require.Len(t, seenModels, 3)
	for _, m := range seenModels {
		assert.Equal(t, "workshop-coder-7b", m)
	}
	require.NotNil(t, resp.Usage)
	assert.Greater(t, resp.Usage.TotalTokens, 0)
}
