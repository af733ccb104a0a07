package analyze

import (
	"context"
	"fmt"
	"os"

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
	MaxToolCalls   int     // prompt-level suggestion, not engine-enforced
	MinSimilarity  float64 // configuration-driven, no built-in default
	RAGTopK        int
	WorkspaceRoot  string
}

// Workflow composes the Analyze graph and its collaborators.
type Workflow struct {
	Client    *llm.Client
	Forge     *forge.Client
	Git       *gitops.Client
	Container *container.Coordinator
	Indexer   *rag.Indexer
	Embed     rag.EmbeddingFunc
	Config    Config

	requirementsMessagesKey session.Key[*llm.Conversation]
	analysisMessagesKey     session.Key[*llm.Conversation]
}

// New creates a Workflow. embed may be nil if RAG is never enabled for
// any request this Workflow serves.
func New(client *llm.Client, fc *forge.Client, git *gitops.Client, coord *container.Coordinator, idx *rag.Indexer, embed rag.EmbeddingFunc, cfg Config) *Workflow {
	return &Workflow{
		Client:    client,
		Forge:     fc,
		Git:       git,
		Container: coord,
		Indexer:   idx,
		Embed:     embed,
		Config:    cfg,

		requirementsMessagesKey: session.NewKey[*llm.Conversation]("analyze-load-requirements-messages"),
		analysisMessagesKey:     session.NewKey[*llm.Conversation]("analyze-repository-analysis-messages"),
	}
}

// llmSelection is the per-run resolution of a request's provider and
// model fields against the workflow's configured defaults: which client
// serves the run, which model drives ordinary turns, how repair calls
// are configured, and the history token budget for tool-call loops.
type llmSelection struct {
	client        *llm.Client
	model         string
	repair        llm.RepairConfig
	contextBudget int
}

// resolveLLM applies req's llmProvider/apiKey/selectedModel/customModel/
// fixingModel/useMainModelForFixing fields. A request that names a
// provider gets its own client routed through llm.Router; otherwise the
// workflow's default client serves the run with any model overrides
// applied.
func (w *Workflow) resolveLLM(ctx context.Context, req Request) (llmSelection, error) {
	model := w.Config.Model
	if req.SelectedModel != "" {
		model = req.SelectedModel
	}
	fixing := w.Config.RepairModel
	if req.FixingModel != "" {
		fixing = req.FixingModel
	}

	sel := llmSelection{client: w.Client, model: model, contextBudget: req.MaxContextTokens}

	if req.LLMProvider != "" {
		if req.LLMProvider == "custom" && req.CustomModel != "" {
			model = req.CustomModel
			sel.model = model
		}
		provider, err := llm.NewProvider(ctx, req.LLMProvider, req.APIKey, req.CustomBaseURL)
		if err != nil {
			return llmSelection{}, err
		}
		router := llm.NewRouter(provider).
			SetMainModel(model).
			SetFixingModel(fixing).
			SetUseMainForFixing(req.UseMainModelForFixing)
		sel.client = llm.NewClient(router.ForMain()).WithRepairProvider(router.ForFixing())
		fixing = router.FixingModel()
	} else if req.UseMainModelForFixing {
		fixing = model
	}

	sel.repair = llm.RepairConfig{
		Model:            fixing,
		MaxAttempts:      w.Config.RepairAttempts,
		MaxContextTokens: req.FixingMaxContextTokens,
	}
	return sel, nil
}

// Run executes the full Analyze workflow against req, sequentially
// driving each composed subgraph.
func (w *Workflow) Run(ctx context.Context, req Request) (*Response, error) {
	run := graph.NewRun(ctx, events.NewMetrics())
	rt := graph.NewRuntime()

	run.Bus.Emit(events.Started())

	sel, err := w.resolveLLM(ctx, req)
	if err != nil {
		return &Response{FailureReason: fmt.Sprintf("invalid llm selection: %v", err)}, nil
	}

	// 1. Parse initial request.
	parseGraph := w.buildParseGraph(sel)
	parsedAny, err := rt.Run(run, parseGraph, "parse-request", req)
	if err != nil {
		return nil, err
	}
	parsed := parsedAny.(*InitialAnalysis)
	if !parsed.Success {
		return &Response{FailureReason: parsed.Reason}, nil
	}

	registry := tools.NewRegistry()
	if err := RegisterTools(registry, w.Forge, w.Indexer, w.Embed, w.Config.MinSimilarity); err != nil {
		return nil, fmt.Errorf("analyze: register tools: %w", err)
	}
	invoker := tools.NewInvoker(registry)
	session.Set(run.Store, RepoRefKey, parsed.RepoURL)

	// 2. Load requirements from memory (optional).
	if req.AttachExternalDoc && parsed.ExternalDocsURL != "" && parsed.Requirements == nil {
		run.Bus.Emit(events.StageUpdate("loading requirements from external doc"))
		reqGraph := w.buildRequirementsGraph(invoker, sel)
		reqAny, err := rt.Run(run, reqGraph, "load-requirements", fmt.Sprintf("Fetch and extract structured requirements from %s", parsed.ExternalDocsURL))
		if err != nil {
			run.Bus.Emit(events.Error(fmt.Sprintf("requirements loading failed: %v", err)))
		} else if r, ok := reqAny.(*Requirements); ok {
			parsed.Requirements = r
		}
	}

	// 3. RAG indexing (optional).
	if req.EnableRAG && w.Indexer != nil && w.Embed != nil {
		if err := w.runRAGIndexing(ctx, run, parsed.RepoURL); err != nil {
			run.Bus.Emit(events.Error(fmt.Sprintf("rag indexing skipped: %v", err)))
		}
	}

	// 4. Repository analysis.
	analysisGraph := w.buildAnalysisGraph(invoker, sel)
	analysisAny, err := rt.Run(run, analysisGraph, "repository-analysis", fmt.Sprintf("Analyze repository %s. User request: %s", parsed.RepoURL, parsed.UserRequest))
	if err != nil {
		return nil, err
	}
	analysis := analysisAny.(*RepositoryAnalysis)

	toolLog, _ := session.Get(run.Store, tools.ToolCallLogKey)
	toolCalls := make([]string, len(toolLog))
	for i, l := range toolLog {
		toolCalls[i] = l.Name
	}

	resp := &Response{
		TLDR:                analysis.TLDR,
		Analysis:            markdown.Normalize(analysis.Analysis),
		Requirements:        parsed.Requirements,
		UserRequestAnalysis: analysis.UserRequestAnalysis,
		RepositoryReview:    analysis.RepositoryReview,
		ToolCalls:           toolCalls,
		Model:               sel.model,
	}
	if usage, ok := session.Get(run.Store, toolturn.UsageKey); ok {
		resp.Usage = &usage
	}

	// 5. Container build (optional).
	if !req.ForceSkipContainer && analysis.ContainerEnv != nil && w.Container != nil {
		info, err := w.runContainerBuild(ctx, run, parsed.RepoURL, analysis.ContainerEnv)
		if err != nil {
			run.Bus.Emit(events.Error(fmt.Sprintf("container build skipped: %v", err)))
		} else {
			resp.ContainerInfo = info
		}
	}

	run.Bus.Emit(events.Completed("analyze complete"))
	return resp, nil
}

func (w *Workflow) buildParseGraph(sel llmSelection) *graph.Graph {
	b := graph.NewBuilder()
	b.Subgraph("parse-request", graph.SubgraphOpts{Start: "parse", Finish: "parse"}).
		Node("parse", graph.KindPure, w.parseRequestNode(sel)).
		Done()
	return b.Build()
}

func (w *Workflow) parseRequestNode(sel llmSelection) graph.NodeFunc {
	return func(rc *graph.RunContext, input any) (any, error) {
		req := input.(Request)
		prompt := llm.Prompt{
			System:   "Extract the repository URL, the user's request, and (if present) an external requirements document URL from the user's input. Respond with JSON only.",
			Messages: []llm.Message{llm.UserMessage(req.UserInput)},
		}
		parsed, err := llm.CompleteStructured[InitialAnalysis](rc.Context(), sel.client, sel.model, prompt, initialAnalysisSchema, sel.repair)
		if err != nil {
			return &InitialAnalysis{Success: false, Reason: err.Error()}, nil
		}
		toolturn.AddUsage(rc.Run.Store, parsed.Usage)
		value := parsed.Value
		value.Success = true
		return &value, nil
	}
}

func (w *Workflow) buildRequirementsGraph(invoker *tools.Invoker, sel llmSelection) *graph.Graph {
	deps := toolturn.Deps{
		Client:        sel.client,
		Invoker:       invoker,
		Model:         sel.model,
		System:        "You extract structured requirements from an external document. Use fetch-external-doc, then respond with plain text summarizing what you found.",
		ToolCatalog:   []llm.Tool{{Name: "fetch-external-doc", Description: "Fetch an external document's raw text by URL.", Parameters: map[string]any{"type": "object", "required": []any{"url"}, "properties": map[string]any{"url": map[string]any{"type": "string"}}}}},
		MessagesKey:   w.requirementsMessagesKey,
		MaxToolCalls:  w.Config.MaxToolCalls,
		ContextBudget: sel.contextBudget,
	}

	b := graph.NewBuilder()
	sb := b.Subgraph("load-requirements", graph.SubgraphOpts{Start: "request", Finish: "synth"})
	graph.ToolCallLoop(sb, "request", "execute", toolturn.RequestNode(deps), toolturn.ExecuteNode(deps)).
		Node("synth", graph.KindPure, w.synthRequirementsNode(sel)).
		Edge("request", "synth", graph.OnAssistantMessage()).
		Done()
	return b.Build()
}

func (w *Workflow) synthRequirementsNode(sel llmSelection) graph.NodeFunc {
	return func(rc *graph.RunContext, input any) (any, error) {
		msg := input.(*graph.AssistantMessage)
		prompt := llm.Prompt{
			System:   "Convert the following analysis into structured requirements JSON with fields summary and items.",
			Messages: []llm.Message{llm.UserMessage(msg.Content)},
		}
		parsed, err := llm.CompleteStructured[Requirements](rc.Context(), sel.client, sel.model, prompt, requirementsSchema, sel.repair)
		if err != nil {
			return nil, fmt.Errorf("analyze: synthesize requirements: %w", err)
		}
		toolturn.AddUsage(rc.Run.Store, parsed.Usage)
		return &parsed.Value, nil
	}
}

func (w *Workflow) buildAnalysisGraph(invoker *tools.Invoker, sel llmSelection) *graph.Graph {
	deps := toolturn.Deps{
		Client:  sel.client,
		Invoker: invoker,
		Model:   sel.model,
		System:  "You are a repository analyst. Use list-directory, read-file, and search-code to understand the repository, then respond in plain text with your findings. Recommend at most 15 tool calls.",
		ToolCatalog: []llm.Tool{
			{Name: "list-directory", Description: "List a directory's immediate contents.", Parameters: map[string]any{"type": "object", "required": []any{"path"}, "properties": map[string]any{"path": map[string]any{"type": "string"}}}},
			{Name: "read-file", Description: "Read a file's full text content.", Parameters: map[string]any{"type": "object", "required": []any{"path"}, "properties": map[string]any{"path": map[string]any{"type": "string"}}}},
			{Name: "search-code", Description: "Semantically search indexed repository chunks.", Parameters: map[string]any{"type": "object", "required": []any{"query"}, "properties": map[string]any{"query": map[string]any{"type": "string"}, "topK": map[string]any{"type": "integer"}}}},
		},
		MessagesKey:   w.analysisMessagesKey,
		MaxToolCalls:  w.Config.MaxToolCalls,
		ContextBudget: sel.contextBudget,
	}

	b := graph.NewBuilder()
	sb := b.Subgraph("repository-analysis", graph.SubgraphOpts{Start: "request", Finish: "synth"})
	graph.ToolCallLoop(sb, "request", "execute", toolturn.RequestNode(deps), toolturn.ExecuteNode(deps)).
		Node("synth", graph.KindPure, w.synthAnalysisNode(sel)).
		Edge("request", "synth", graph.OnAssistantMessage()).
		Done()
	return b.Build()
}

func (w *Workflow) synthAnalysisNode(sel llmSelection) graph.NodeFunc {
	return func(rc *graph.RunContext, input any) (any, error) {
		msg := input.(*graph.AssistantMessage)
		prompt := llm.Prompt{
			System:   "Synthesize the preceding repository analysis into a structured report: tldr, analysis, userRequestAnalysis, repositoryReview, and an optional containerEnv if a build/run configuration was discovered.",
			Messages: []llm.Message{llm.UserMessage(msg.Content)},
		}
		parsed, err := llm.CompleteStructured[RepositoryAnalysis](rc.Context(), sel.client, sel.model, prompt, repositoryAnalysisSchema, sel.repair)
		if err != nil {
			return nil, fmt.Errorf("analyze: synthesize repository analysis: %w", err)
		}
		toolturn.AddUsage(rc.Run.Store, parsed.Usage)
		return &parsed.Value, nil
	}
}

func (w *Workflow) runRAGIndexing(ctx context.Context, run *graph.Run, repoURL string) error {
	tmpDir, err := os.MkdirTemp(w.Config.WorkspaceRoot, "rag-clone-")
	if err != nil {
		return fmt.Errorf("create temp clone dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if _, err := w.Git.Clone(ctx, repoURL, tmpDir); err != nil {
		return fmt.Errorf("clone for indexing: %w", err)
	}

	_, err = w.Indexer.IndexRepository(ctx, run.Bus, repoURL, tmpDir, w.Embed)
	return err
}

func (w *Workflow) runContainerBuild(ctx context.Context, run *graph.Run, repoURL string, env *ContainerEnv) (*ContainerInfo, error) {
	tmpDir, err := os.MkdirTemp(w.Config.WorkspaceRoot, "container-clone-")
	if err != nil {
		return nil, fmt.Errorf("create temp clone dir: %w", err)
	}
	defer w.Container.CleanupDirectory(tmpDir)

	if _, err := w.Git.Clone(ctx, repoURL, tmpDir); err != nil {
		return nil, fmt.Errorf("clone for container build: %w", err)
	}

	if _, err := w.Container.GenerateDockerfile(tmpDir, env.BaseImage, env.BuildCommand, env.RunCommand, env.Port); err != nil {
		return nil, err
	}

	build, err := w.Container.BuildImage(ctx, tmpDir, "")
	if err != nil {
		return nil, err
	}
	if build.Success {
		defer w.Container.RemoveImage(ctx, build.ImageName)
	}

	return &ContainerInfo{
		Success:         build.Success,
		ImageName:       build.ImageName,
		Logs:            build.Logs,
		DurationSeconds: build.DurationSeconds,
	}, nil
}
