package modify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/repoagent/pkg/container"
	"github.com/ternarybob/repoagent/pkg/events"
	"github.com/ternarybob/repoagent/pkg/forge"
	"github.com/ternarybob/repoagent/pkg/gitops"
	"github.com/ternarybob/repoagent/pkg/graph"
	"github.com/ternarybob/repoagent/pkg/llm"
	"github.com/ternarybob/repoagent/pkg/markdown"
	"github.com/ternarybob/repoagent/pkg/rag"
	"github.com/ternarybob/repoagent/pkg/session"
	"github.com/ternarybob/repoagent/pkg/tools"
	"github.com/ternarybob/repoagent/pkg/workflow/toolturn"
)

// Config carries the model and operational parameters the workflow
// itself needs, distinct from the per-request Request.
type Config struct {
	Model          string
	RepairModel    string
	RepairAttempts int
	MaxToolCalls   int
	WorkspaceRoot  string
	MinSimilarity  float64 // semantic search threshold, configuration-driven
	RAGTopK        int
}

// Workflow composes the Modify graph and its collaborators. Indexer
// and Embed may be nil when no request ever enables embeddings.
type Workflow struct {
	Client    *llm.Client
	Forge     *forge.Client
	Git       *gitops.Client
	Container *container.Coordinator
	Indexer   *rag.Indexer
	Embed     rag.EmbeddingFunc
	Config    Config

	analysisMessagesKey     session.Key[*llm.Conversation]
	modificationMessagesKey session.Key[*llm.Conversation]
	verificationMessagesKey session.Key[*llm.Conversation]
}

// New creates a Workflow.
func New(client *llm.Client, fc *forge.Client, git *gitops.Client, coord *container.Coordinator, idx *rag.Indexer, embed rag.EmbeddingFunc, cfg Config) *Workflow {
	return &Workflow{
		Client:    client,
		Forge:     fc,
		Git:       git,
		Container: coord,
		Indexer:   idx,
		Embed:     embed,
		Config:    cfg,

		analysisMessagesKey:     session.NewKey[*llm.Conversation]("modify-analysis-messages"),
		modificationMessagesKey: session.NewKey[*llm.Conversation]("modify-modification-messages"),
		verificationMessagesKey: session.NewKey[*llm.Conversation]("modify-verification-messages"),
	}
}

// Run executes the full Modify workflow against req, sequentially
// driving each composed subgraph.
func (w *Workflow) Run(ctx context.Context, req Request) (*Response, error) {
	run := graph.NewRun(ctx, events.NewMetrics())
	rt := graph.NewRuntime()

	run.Bus.Emit(events.Started())

	branch, workDir, err := w.setupRepository(ctx, run, req.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("modify: repository setup: %w", err)
	}

	registry := tools.NewRegistry()
	if err := RegisterAnalysisTools(registry); err != nil {
		return nil, fmt.Errorf("modify: register analysis tools: %w", err)
	}
	if err := RegisterMutationTools(registry); err != nil {
		return nil, fmt.Errorf("modify: register mutation tools: %w", err)
	}
	if err := RegisterVerificationTools(registry, w.Container); err != nil {
		return nil, fmt.Errorf("modify: register verification tools: %w", err)
	}

	// Optional semantic search over the working clone.
	semantic := false
	if req.EnableEmbeddings && w.Indexer != nil && w.Embed != nil {
		run.Bus.Emit(events.StageUpdate("indexing repository for semantic search"))
		if _, err := w.Indexer.IndexRepository(ctx, run.Bus, req.RepoURL, workDir, w.Embed); err != nil {
			run.Bus.Emit(events.Error(fmt.Sprintf("embedding indexing skipped: %v", err)))
		} else if err := RegisterSemanticSearchTool(registry, w.Indexer, w.Embed, req.RepoURL, w.Config.RAGTopK, w.Config.MinSimilarity); err != nil {
			return nil, fmt.Errorf("modify: register semantic search tool: %w", err)
		} else {
			semantic = true
		}
	}
	invoker := tools.NewInvoker(registry)

	// 2. Code analysis.
	run.Bus.Emit(events.StageUpdate("analyzing codebase"))
	planGraph := w.buildAnalysisGraph(invoker, semantic)
	planAny, err := rt.Run(run, planGraph, "code-analysis", fmt.Sprintf("Analyze the repository and propose a plan for: %s", req.UserRequest))
	if err != nil {
		return nil, err
	}
	plan := planAny.(*ModificationPlan)
	if req.ContainerEnv != nil {
		plan.ContainerEnv = req.ContainerEnv
	}

	// 3. Code modification.
	run.Bus.Emit(events.StageUpdate("applying modifications"))
	modGraph := w.buildModificationGraph(invoker)
	if _, err := rt.Run(run, modGraph, "code-modification", fmt.Sprintf("Apply this plan: %s\nFiles to modify: %s", plan.ModificationPlan, strings.Join(plan.FilesToModify, ", "))); err != nil {
		return nil, err
	}
	result, _ := session.Get(run.Store, ModificationResultKey)
	if result == nil {
		result = &ModificationResult{}
	}

	// 4. Container verification (optional).
	verification := VerificationSkipped
	var verificationErr string
	if plan.ContainerEnv != nil && w.Container != nil {
		run.Bus.Emit(events.StageUpdate("verifying in container"))
		vr, err := w.runVerification(ctx, run, invoker, plan.ContainerEnv)
		switch {
		case err != nil:
			run.Bus.Emit(events.Error(fmt.Sprintf("container verification failed: %v", err)))
			verification = VerificationFailed
			verificationErr = err.Error()
		case vr.Success:
			verification = VerificationPassed
		default:
			verification = VerificationFailed
			verificationErr = vr.ErrorMessage
			if verificationErr == "" {
				verificationErr = strings.Join(vr.Logs, "\n")
			}
		}
	}

	// 5. Git operations.
	run.Bus.Emit(events.StageUpdate("committing and pushing"))
	gitResult, err := w.runGitOperations(ctx, run, workDir, branch, req.UserRequest, result)
	if err != nil {
		return nil, fmt.Errorf("modify: git operations: %w", err)
	}

	resp := &Response{
		CommitSha:          gitResult.CommitSha,
		BranchName:         gitResult.BranchName,
		FilesModified:      result.FilesModified,
		VerificationStatus: verification,
		IterationsUsed:     1,
		Message:            gitResult.Message,
		FailureReason:      verificationErr,
	}

	// 6. Finalize.
	if gitResult.Pushed {
		pr, err := w.Forge.CreatePullRequest(ctx, req.RepoURL, fmt.Sprintf("ai: %s", req.UserRequest), pullRequestBody(plan, result), gitResult.BranchName, w.defaultBranchOrMain(ctx, req.RepoURL))
		if err != nil {
			run.Bus.Emit(events.Error(fmt.Sprintf("pull request creation failed: %v", err)))
			resp.Message = fmt.Sprintf("pushed to %s but pull request creation failed: %v", gitResult.BranchName, err)
		} else {
			resp.PullRequestURL = pr.URL
			resp.PullRequestNumber = pr.Number
		}
	} else {
		if gitResult.PushRejected {
			resp.VerificationStatus = VerificationPushError
		}
		base := w.defaultBranchOrMain(ctx, req.RepoURL)
		if diff, err := w.Git.Diff(ctx, workDir, base, gitResult.BranchName); err == nil {
			resp.Diff = diff.Diff
		}
	}

	if usage, ok := session.Get(run.Store, toolturn.UsageKey); ok {
		resp.Usage = &usage
	}

	run.Bus.Emit(events.Completed("modify complete"))
	return resp, nil
}

func (w *Workflow) setupRepository(ctx context.Context, run *graph.Run, repoURL string) (branch, workDir string, err error) {
	if existing, ok := session.Get(run.Store, WorkDirKey); ok {
		if info, statErr := os.Stat(existing); statErr == nil && info.IsDir() {
			workDir = existing
		}
	}

	if workDir == "" {
		workDir = filepath.Join(w.Config.WorkspaceRoot, "modify-"+uuid.NewString())
		if _, err := w.Git.Clone(ctx, repoURL, workDir); err != nil {
			return "", "", err
		}
	}
	session.Set(run.Store, WorkDirKey, workDir)

	base := w.defaultBranchOrMain(ctx, repoURL)
	if base == "" {
		if current, curErr := w.Git.CurrentBranch(ctx, workDir); curErr == nil && current != "" {
			base = current
		} else {
			base = "main"
		}
	}

	branch = fmt.Sprintf("ai/task-%d", time.Now().Unix())
	if err := w.Git.CreateBranch(ctx, workDir, branch, base); err != nil {
		return "", "", err
	}
	return branch, workDir, nil
}

func (w *Workflow) defaultBranchOrMain(ctx context.Context, repoURL string) string {
	if w.Forge == nil {
		return ""
	}
	branch, err := w.Forge.DefaultBranch(ctx, repoURL)
	if err != nil {
		return ""
	}
	return branch
}

func (w *Workflow) buildAnalysisGraph(invoker *tools.Invoker, semantic bool) *graph.Graph {
	catalog := []llm.Tool{
		{Name: "get-file-tree", Description: "List every file under the repository working directory.", Parameters: map[string]any{"type": "object", "properties": map[string]any{"path": map[string]any{"type": "string"}}}},
		{Name: "read-file-content", Description: "Read a file's full text content.", Parameters: map[string]any{"type": "object", "required": []any{"path"}, "properties": map[string]any{"path": map[string]any{"type": "string"}}}},
		{Name: "search-in-files", Description: "Search every file for a literal substring.", Parameters: map[string]any{"type": "object", "required": []any{"query"}, "properties": map[string]any{"query": map[string]any{"type": "string"}}}},
	}
	system := "You are a code-modification planner. Use get-file-tree, read-file-content, and search-in-files to understand the codebase, then respond in plain text describing the files that need to change and why. Recommend at most 15 tool calls."
	if semantic {
		catalog = append(catalog, llm.Tool{Name: "search-code", Description: "Semantically search indexed repository chunks.", Parameters: map[string]any{"type": "object", "required": []any{"query"}, "properties": map[string]any{"query": map[string]any{"type": "string"}, "topK": map[string]any{"type": "integer"}}}})
		system = "You are a code-modification planner. Use get-file-tree, read-file-content, search-in-files, and search-code to understand the codebase, then respond in plain text describing the files that need to change and why. Recommend at most 15 tool calls."
	}

	deps := toolturn.Deps{
		Client:       w.Client,
		Invoker:      invoker,
		Model:        w.Config.Model,
		System:       system,
		ToolCatalog:  catalog,
		MessagesKey:  w.analysisMessagesKey,
		MaxToolCalls: w.Config.MaxToolCalls,
	}

	b := graph.NewBuilder()
	sb := b.Subgraph("code-analysis", graph.SubgraphOpts{Start: "request", Finish: "synth"})
	graph.ToolCallLoop(sb, "request", "execute", toolturn.RequestNode(deps), toolturn.ExecuteNode(deps)).
		Node("synth", graph.KindPure, w.synthPlanNode()).
		Edge("request", "synth", graph.OnAssistantMessage()).
		Done()
	return b.Build()
}

func (w *Workflow) synthPlanNode() graph.NodeFunc {
	return func(rc *graph.RunContext, input any) (any, error) {
		msg := input.(*graph.AssistantMessage)
		prompt := llm.Prompt{
			System:   "Convert the preceding codebase analysis into a structured modification plan: modificationPlan (prose), filesToModify (paths), dependencies, and an optional containerEnv if build/run verification makes sense.",
			Messages: []llm.Message{llm.UserMessage(msg.Content)},
		}
		repair := llm.RepairConfig{Model: w.Config.RepairModel, MaxAttempts: w.Config.RepairAttempts}
		parsed, err := llm.CompleteStructured[ModificationPlan](rc.Context(), w.Client, w.Config.Model, prompt, modificationPlanSchema, repair)
		if err != nil {
			return nil, fmt.Errorf("modify: synthesize modification plan: %w", err)
		}
		toolturn.AddUsage(rc.Run.Store, parsed.Usage)
		return &parsed.Value, nil
	}
}

func (w *Workflow) buildModificationGraph(invoker *tools.Invoker) *graph.Graph {
	deps := toolturn.Deps{
		Client:  w.Client,
		Invoker: invoker,
		Model:   w.Config.Model,
		System:  "You are applying an agreed modification plan. Use apply-patch, apply-patches, create-file, and delete-file to make the changes, then respond in plain text summarizing what you changed. Patches are 1-indexed inclusive line ranges.",
		ToolCatalog: []llm.Tool{
			{Name: "apply-patch", Description: "Replace a 1-indexed inclusive line range in a file.", Parameters: map[string]any{"type": "object", "required": []any{"path", "startLine", "endLine", "content"}, "properties": map[string]any{"path": map[string]any{"type": "string"}, "startLine": map[string]any{"type": "integer"}, "endLine": map[string]any{"type": "integer"}, "content": map[string]any{"type": "string"}}}},
			{Name: "apply-patches", Description: "Apply a batch of line-range patches.", Parameters: map[string]any{"type": "object", "required": []any{"patches"}, "properties": map[string]any{"patches": map[string]any{"type": "array"}}}},
			{Name: "create-file", Description: "Create a new file.", Parameters: map[string]any{"type": "object", "required": []any{"path", "content"}, "properties": map[string]any{"path": map[string]any{"type": "string"}, "content": map[string]any{"type": "string"}}}},
			{Name: "delete-file", Description: "Delete a file.", Parameters: map[string]any{"type": "object", "required": []any{"path"}, "properties": map[string]any{"path": map[string]any{"type": "string"}}}},
		},
		MessagesKey:  w.modificationMessagesKey,
		MaxToolCalls: w.Config.MaxToolCalls,
	}

	b := graph.NewBuilder()
	sb := b.Subgraph("code-modification", graph.SubgraphOpts{Start: "request", Finish: "done"})
	graph.ToolCallLoop(sb, "request", "execute", toolturn.RequestNode(deps), toolturn.ExecuteNode(deps)).
		Node("done", graph.KindPure, func(rc *graph.RunContext, input any) (any, error) { return input, nil }).
		Edge("request", "done", graph.OnAssistantMessage()).
		Done()
	return b.Build()
}

func (w *Workflow) runVerification(ctx context.Context, run *graph.Run, invoker *tools.Invoker, env *ContainerEnv) (*VerificationResult, error) {
	deps := toolturn.Deps{
		Client:  w.Client,
		Invoker: invoker,
		Model:   w.Config.Model,
		System:  fmt.Sprintf("Verify the repository builds and runs. You MUST call these tools in this exact order: check-container-availability, generate-dockerfile (baseImage=%q, buildCommand=%q, runCommand=%q), build-container-image, run-container-image, cleanup-container-image. Then respond in plain text summarizing the outcome.", env.BaseImage, env.BuildCommand, env.RunCommand),
		ToolCatalog: []llm.Tool{
			{Name: "check-container-availability", Description: "Probe the container daemon.", Parameters: map[string]any{"type": "object"}},
			{Name: "generate-dockerfile", Description: "Generate a Dockerfile.", Parameters: map[string]any{"type": "object", "required": []any{"baseImage"}, "properties": map[string]any{"baseImage": map[string]any{"type": "string"}, "buildCommand": map[string]any{"type": "string"}, "runCommand": map[string]any{"type": "string"}, "port": map[string]any{"type": "integer"}}}},
			{Name: "build-container-image", Description: "Build the image.", Parameters: map[string]any{"type": "object"}},
			{Name: "run-container-image", Description: "Run a command in the built image.", Parameters: map[string]any{"type": "object", "required": []any{"image", "command"}, "properties": map[string]any{"image": map[string]any{"type": "string"}, "command": map[string]any{"type": "string"}, "timeoutSeconds": map[string]any{"type": "integer"}}}},
			{Name: "cleanup-container-image", Description: "Remove the built image.", Parameters: map[string]any{"type": "object", "required": []any{"image"}, "properties": map[string]any{"image": map[string]any{"type": "string"}}}},
		},
		MessagesKey:  w.verificationMessagesKey,
		MaxToolCalls: 10,
	}

	b := graph.NewBuilder()
	sb := b.Subgraph("container-verification", graph.SubgraphOpts{Start: "request", Finish: "synth"})
	graph.ToolCallLoop(sb, "request", "execute", toolturn.RequestNode(deps), toolturn.ExecuteNode(deps)).
		Node("synth", graph.KindPure, w.synthVerificationNode()).
		Edge("request", "synth", graph.OnAssistantMessage()).
		Done()
	g := b.Build()

	rt := graph.NewRuntime()
	out, err := rt.Run(run, g, "container-verification", fmt.Sprintf("Verify the build using base image %s.", env.BaseImage))
	if err != nil {
		return nil, err
	}
	return out.(*VerificationResult), nil
}

func (w *Workflow) synthVerificationNode() graph.NodeFunc {
	return func(rc *graph.RunContext, input any) (any, error) {
		msg := input.(*graph.AssistantMessage)
		prompt := llm.Prompt{
			System:   "Convert the preceding container verification narrative into a structured result: success, commandExecuted, exitCode, logs, and an optional errorMessage.",
			Messages: []llm.Message{llm.UserMessage(msg.Content)},
		}
		repair := llm.RepairConfig{Model: w.Config.RepairModel, MaxAttempts: w.Config.RepairAttempts}
		parsed, err := llm.CompleteStructured[VerificationResult](rc.Context(), w.Client, w.Config.Model, prompt, verificationResultSchema, repair)
		if err != nil {
			return nil, fmt.Errorf("modify: synthesize verification result: %w", err)
		}
		toolturn.AddUsage(rc.Run.Store, parsed.Usage)
		return &parsed.Value, nil
	}
}

func (w *Workflow) runGitOperations(ctx context.Context, run *graph.Run, workDir, branch, userRequest string, result *ModificationResult) (*GitResult, error) {
	message, err := w.synthesizeCommitMessage(ctx, userRequest, result)
	if err != nil {
		message = fmt.Sprintf("ai: %s", userRequest)
	}

	sha, err := w.Git.Commit(ctx, workDir, message, nil)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	push, err := w.Git.Push(ctx, workDir, branch, false)
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}

	if push.Rejected {
		// Retry-branch strategy: create a fresh branch off the same
		// commit and push that instead of force-pushing over diverged
		// remote history. One retry attempt per run.
		retryBranch := fmt.Sprintf("%s-retry-%d", branch, time.Now().Unix())
		if err := w.Git.CreateBranch(ctx, workDir, retryBranch, ""); err != nil {
			return nil, fmt.Errorf("retry branch: %w", err)
		}
		retryPush, err := w.Git.Push(ctx, workDir, retryBranch, false)
		if err != nil {
			return nil, fmt.Errorf("retry push: %w", err)
		}
		return &GitResult{
			CommitSha:    sha,
			Pushed:       retryPush.Pushed,
			BranchName:   retryBranch,
			PushRejected: !retryPush.Pushed,
			Message:      message,
		}, nil
	}

	return &GitResult{
		CommitSha:    sha,
		Pushed:       push.Pushed,
		BranchName:   branch,
		PushRejected: false,
		Message:      message,
	}, nil
}

func (w *Workflow) synthesizeCommitMessage(ctx context.Context, userRequest string, result *ModificationResult) (string, error) {
	prompt := llm.Prompt{
		System: "Write a single conventional-commit-style message (type(scope): summary) for the change described. Respond with JSON {\"message\": \"...\"} only.",
		Messages: []llm.Message{llm.UserMessage(fmt.Sprintf(
			"User request: %s\nFiles modified: %v\nFiles created: %v\nFiles deleted: %v",
			userRequest, result.FilesModified, result.FilesCreated, result.FilesDeleted,
		))},
	}
	repair := llm.RepairConfig{Model: w.Config.RepairModel, MaxAttempts: w.Config.RepairAttempts}
	parsed, err := llm.CompleteStructured[struct {
		Message string `json:"message"`
	}](ctx, w.Client, w.Config.Model, prompt, commitMessageSchema, repair)
	if err != nil {
		return "", err
	}
	return parsed.Value.Message, nil
}

// pullRequestBody renders the modification plan and the touched files
// into the PR description.
func pullRequestBody(plan *ModificationPlan, result *ModificationResult) string {
	blocks := []markdown.Block{
		markdown.Heading(2, markdown.Text("Summary")),
		markdown.Paragraph(markdown.Text(plan.ModificationPlan)),
	}

	files := result.FilesModified
	if len(files) == 0 {
		files = plan.FilesToModify
	}
	if len(files) > 0 {
		items := make([][]markdown.Span, len(files))
		for i, f := range files {
			items[i] = []markdown.Span{markdown.Code(f)}
		}
		blocks = append(blocks,
			markdown.Heading(2, markdown.Text("Files changed")),
			markdown.List(false, items...),
		)
	}
	return markdown.Render(blocks)
}
