package modify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/repoagent/pkg/container"
	"github.com/ternarybob/repoagent/pkg/forge"
	"github.com/ternarybob/repoagent/pkg/gitops"
	"github.com/ternarybob/repoagent/pkg/llm"
	"github.com/ternarybob/repoagent/pkg/procexec"
)

// scriptedProvider mirrors the fake used across pkg/llm, pkg/workflow/
// toolturn, and pkg/workflow/analyze tests.
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

// runGit shells a raw git command for test fixture setup -- gitops.Client
// deliberately does not expose arbitrary commands like "init --bare".
func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	runner := procexec.New()
	res, err := runner.Run(context.Background(), dir, append([]string{"git"}, args...), 30*time.Second, true)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode, args, res.Stdout)
}

// newOriginRepo creates a seed repository with one commit on "main" and a
// bare clone of it standing in as the remote forge would host, returning
// the bare repo's filesystem path.
func newOriginRepo(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()

	seed := filepath.Join(tmp, "seed")
	require.NoError(t, os.MkdirAll(seed, 0o755))
	runGit(t, seed, "init", "-b", "main")
	runGit(t, seed, "config", "user.email", "agent@example.com")
	runGit(t, seed, "config", "user.name", "agent")
	require.NoError(t, os.WriteFile(filepath.Join(seed, "README.md"), []byte("line1\nline2\nline3\n"), 0o644))
	runGit(t, seed, "add", "-A")
	runGit(t, seed, "commit", "-m", "initial")

	origin := filepath.Join(tmp, "origin.git")
	runGit(t, tmp, "clone", "--bare", seed, origin)
	return origin
}

func newForgeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"number":7,"html_url":"https://example.test/pr/7"}`))
		default:
			w.Write([]byte(`{"default_branch":"main"}`))
		}
	}))
}

func TestWorkflow_Run_HappyPathPushAndPullRequest(t *testing.T) {
	origin := newOriginRepo(t)
	forgeServer := newForgeServer(t)
	defer forgeServer.Close()

	provider := &scriptedProvider{scripts: [][]llm.StreamChunk{
		// 1. code-analysis turn: no tool call, straight to synth.
		{{Content: "README.md's second line should mention the project name."}, {Done: true}},
		// 2. synth modification plan.
		{{Content: `{"modificationPlan":"Update README line 2","filesToModify":["README.md"]}`}, {Done: true}},
		// 3. code-modification turn: one tool call.
		{{ToolCall: &llm.ToolCall{ID: "1", Name: "apply-patch", Arguments: `{"path":"README.md","startLine":2,"endLine":2,"content":"widget: a retrying client"}`}}, {Done: true}},
		// 4. code-modification turn: done.
		{{Content: "Updated README.md line 2 with the project description."}, {Done: true}},
		// 5. commit message synthesis.
		{{Content: `{"message":"docs: describe widget in README"}`}, {Done: true}},
	}}

	client := llm.NewClient(provider)
	fc := forge.New(forgeServer.URL, "")
	git := gitops.New(nil)
	coord := container.New(nil, t.TempDir())
	workspaceRoot := t.TempDir()

	w := New(client, fc, git, coord, nil, nil, Config{
		Model:          "scripted-model",
		RepairModel:    "scripted-model",
		RepairAttempts: 1,
		MaxToolCalls:   15,
		WorkspaceRoot:  workspaceRoot,
	})

	resp, err := w.Run(context.Background(), Request{
		RepoURL:     origin,
		UserRequest: "describe the project in the README",
	})
	require.NoError(t, err)

	assert.Empty(t, resp.FailureReason)
	assert.True(t, resp.VerificationStatus == VerificationSkipped)
	assert.NotEmpty(t, resp.CommitSha)
	assert.Contains(t, resp.BranchName, "ai/task-")
	assert.Contains(t, resp.FilesModified, "README.md")
	assert.Equal(t, "https://example.test/pr/7", resp.PullRequestURL)
	assert.Equal(t, 7, resp.PullRequestNumber)
	assert.Empty(t, resp.Diff, "a successful push should not fall back to a diff")
}

// installPreReceiveHook makes the bare origin reject pushes with a
// "rejected" refusal: every push when once is false, or only the first
// push when once is true.
func installPreReceiveHook(t *testing.T, origin string, once bool) {
	t.Helper()
	script := "#!/bin/sh\necho \"rejected by hook\" >&2\nexit 1\n"
	if once {
		script = "#!/bin/sh\n" +
			"marker=\"$PWD/reject-once-done\"\n" +
			"if [ ! -f \"$marker\" ]; then\n" +
			"\ttouch \"$marker\"\n" +
			"\techo \"rejected by hook\" >&2\n" +
			"\texit 1\n" +
			"fi\n" +
			"exit 0\n"
	}
	path := filepath.Join(origin, "hooks", "pre-receive")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

func happyPathScripts() [][]llm.StreamChunk {
	return [][]llm.StreamChunk{
		// 1. code-analysis turn: no tool call, straight to synth.
		{{Content: "README.md's second line should mention the project name."}, {Done: true}},
		// 2. synth modification plan.
		{{Content: `{"modificationPlan":"Update README line 2","filesToModify":["README.md"]}`}, {Done: true}},
		// 3. code-modification turn: one tool call.
		{{ToolCall: &llm.ToolCall{ID: "1", Name: "apply-patch", Arguments: `{"path":"README.md","startLine":2,"endLine":2,"content":"widget: a retrying client"}`}}, {Done: true}},
		// 4. code-modification turn: done.
		{{Content: "Updated README.md line 2 with the project description."}, {Done: true}},
		// 5. commit message synthesis.
		{{Content: `{"message":"docs: describe widget in README"}`}, {Done: true}},
	}
}

func newTestWorkflow(t *testing.T, provider llm.Provider, forgeURL string) *Workflow {
	t.Helper()
	return New(llm.NewClient(provider), forge.New(forgeURL, ""), gitops.New(nil), container.New(nil, t.TempDir()), nil, nil, Config{
		Model:          "scripted-model",
		RepairModel:    "scripted-model",
		RepairAttempts: 1,
		MaxToolCalls:   15,
		WorkspaceRoot:  t.TempDir(),
	})
}

func TestWorkflow_Run_PushRejectionRetriesOnNewBranch(t *testing.T) {
	origin := newOriginRepo(t)
	installPreReceiveHook(t, origin, true)
	forgeServer := newForgeServer(t)
	defer forgeServer.Close()

	provider := &scriptedProvider{scripts: happyPathScripts()}
	w := newTestWorkflow(t, provider, forgeServer.URL)

	resp, err := w.Run(context.Background(), Request{
		RepoURL:     origin,
		UserRequest: "describe the project in the README",
	})
	require.NoError(t, err)

	// first push rejected, exactly one retry on a fresh branch
	assert.Contains(t, resp.BranchName, "ai/task-")
	assert.Contains(t, resp.BranchName, "-retry-")
	assert.Equal(t, "https://example.test/pr/7", resp.PullRequestURL)
	assert.Empty(t, resp.Diff, "a successful retry push must not fall back to a diff")
}

func TestWorkflow_Run_SecondRejectionSurfacesFailedPushWithDiff(t *testing.T) {
	origin := newOriginRepo(t)
	installPreReceiveHook(t, origin, false)
	forgeServer := newForgeServer(t)
	defer forgeServer.Close()

	provider := &scriptedProvider{scripts: happyPathScripts()}
	w := newTestWorkflow(t, provider, forgeServer.URL)

	resp, err := w.Run(context.Background(), Request{
		RepoURL:     origin,
		UserRequest: "describe the project in the README",
	})
	require.NoError(t, err)

	assert.Equal(t, VerificationPushError, resp.VerificationStatus)
	assert.Empty(t, resp.PullRequestURL)
	assert.Contains(t, resp.BranchName, "-retry-")
	assert.NotEmpty(t, resp.Diff, "an unpushable change must surface as a diff")
	assert.Contains(t, resp.Diff, "widget: a retrying client")
}

func TestWorkflow_Run_ContainerVerificationFailure(t *testing.T) {
	origin := newOriginRepo(t)
	forgeServer := newForgeServer(t)
	defer forgeServer.Close()

	scripts := happyPathScripts()
	verificationScripts := [][]llm.StreamChunk{
		// container-verification turn: scripted narrative, no tool calls.
		{{Content: "Built the image and ran ./run-tests; the run exited 1."}, {Done: true}},
		// synth verification result.
		{{Content: `{"success":false,"commandExecuted":"./run-tests","exitCode":1,"logs":["Test failed"],"errorMessage":"Test failed"}`}, {Done: true}},
	}
	// verification runs between modification and git operations
	scripts = append(scripts[:4:4], append(verificationScripts, scripts[4])...)

	provider := &scriptedProvider{scripts: scripts}
	w := newTestWorkflow(t, provider, forgeServer.URL)

	resp, err := w.Run(context.Background(), Request{
		RepoURL:     origin,
		UserRequest: "describe the project in the README",
		ContainerEnv: &ContainerEnv{
			BaseImage:    "golang:1.24-bookworm",
			BuildCommand: "go build ./...",
			RunCommand:   "./run-tests",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, VerificationFailed, resp.VerificationStatus)
	assert.Contains(t, resp.FailureReason, "Test failed")
	assert.Equal(t, "https://example.test/pr/7", resp.PullRequestURL, "policy: a verification failure still pushes and opens the PR")
}
