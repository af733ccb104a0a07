// Command repoagent-service runs the HTTP surface that fronts the
// Analyze and Modify workflows. It wires together the
// LLM client, the external-process, git, container, forge, and RAG
// collaborators from a TOML config file and serves internal/api.
//
// Usage:
//
//	repoagent-service                    Start the service (default)
//	repoagent-service serve               Start the service
//	repoagent-service version             Show version
//	repoagent-service init-config         Write an example config file
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/repoagent/internal/api"
	"github.com/ternarybob/repoagent/internal/config"
	"github.com/ternarybob/repoagent/internal/logger"
	"github.com/ternarybob/repoagent/pkg/container"
	"github.com/ternarybob/repoagent/pkg/events"
	"github.com/ternarybob/repoagent/pkg/forge"
	"github.com/ternarybob/repoagent/pkg/gitops"
	"github.com/ternarybob/repoagent/pkg/llm"
	"github.com/ternarybob/repoagent/pkg/procexec"
	"github.com/ternarybob/repoagent/pkg/rag"
	"github.com/ternarybob/repoagent/pkg/session"
	"github.com/ternarybob/repoagent/pkg/tools"
	"github.com/ternarybob/repoagent/pkg/workflow/analyze"
	"github.com/ternarybob/repoagent/pkg/workflow/modify"
)

var version = "dev"

var configPath string

func main() {
	args := os.Args[1:]
	command := ""
	cmdArgs := []string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "-"):
			// unknown flag, ignored
		case command == "":
			command = arg
		default:
			cmdArgs = append(cmdArgs, arg)
		}
	}
	if command == "" {
		command = "serve"
	}

	var err error
	switch command {
	case "serve", "start":
		err = cmdServe()
	case "version", "-v", "--version":
		fmt.Printf("repoagent-service version %s\n", version)
	case "init-config":
		err = cmdInitConfig()
	case "mcp":
		err = cmdMCP(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`repoagent-service - Analyze/Modify agent orchestration service

Usage:
  repoagent-service [flags] [command]

Commands:
  serve         Start the service (default)
  version       Show version information
  init-config   Write an example configuration file
  mcp [path]    Expose the file-operation tools over MCP stdio
  help          Show this help

Flags:
  --config PATH   Path to configuration file (default: ./repoagent.toml)

Environment:
  REPOAGENT_CONFIG   Path to configuration file (alternative to --config)

Examples:
  repoagent-service --config /path/to.toml
  curl localhost:8090/health
  curl -X POST localhost:8090/analyze -d '{"userInput":"https://github.com/acme/widget summarize"}'`)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("REPOAGENT_CONFIG"); envPath != "" {
		return envPath
	}
	return "repoagent.toml"
}

func cmdInitConfig() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	return os.WriteFile(path, []byte(exampleConfig), 0644)
}

func cmdServe() error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	defer logger.Stop()

	client, err := buildLLMClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	runner := procexec.New()
	git := gitops.New(runner)
	coord := container.New(runner, cfg.Container.WorkspaceRoot)
	fc := forge.New(cfg.Forge.BaseURL, cfg.Forge.Token)

	var analyzer *analyze.Workflow
	var idx *rag.Indexer
	var embed rag.EmbeddingFunc
	if cfg.RAG.Enabled {
		idx = rag.NewIndexer(rag.Config{
			StorageDir:        cfg.RAG.StorageDir,
			IncludeExtensions: cfg.RAG.IncludeExtensions,
			ExcludeGlobs:      cfg.RAG.ExcludeGlobs,
			MaxChunkBytes:     cfg.RAG.MaxChunkBytes,
			MinChunkBytes:     cfg.RAG.MinChunkBytes,
			MaxChunks:         cfg.RAG.MaxChunks,
			EmbeddingModel:    cfg.RAG.EmbeddingModel,
			WorkerConcurrency: cfg.RAG.WorkerConcurrency,
		}, log)
		embed = chromem.NewEmbeddingFuncOllama(cfg.RAG.EmbeddingModel, cfg.LLM.BaseURL)
	}
	analyzer = analyze.New(client, fc, git, coord, idx, embed, analyze.Config{
		Model:          cfg.LLM.Model,
		RepairModel:    cfg.LLM.Repair.Model,
		RepairAttempts: cfg.LLM.Repair.Retries,
		MaxToolCalls:   15,
		MinSimilarity:  cfg.RAG.MinSimilarity,
		RAGTopK:        cfg.RAG.TopK,
		WorkspaceRoot:  cfg.Container.WorkspaceRoot,
	})

	modifier := modify.New(client, fc, git, coord, idx, embed, modify.Config{
		Model:          cfg.LLM.Model,
		RepairModel:    cfg.LLM.Repair.Model,
		RepairAttempts: cfg.LLM.Repair.Retries,
		MaxToolCalls:   15,
		WorkspaceRoot:  cfg.Container.WorkspaceRoot,
		MinSimilarity:  cfg.RAG.MinSimilarity,
		RAGTopK:        cfg.RAG.TopK,
	})

	srv := api.NewServer(cfg.API, log, analyzer, modifier)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		log.Info().Str("addr", addr).Msg("repoagent-service listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// cmdMCP exposes the Modify workflow's file-operation tools over MCP
// stdio so an external MCP client (an editor, Claude Code itself) can
// drive the same read/mutate/verify tools the in-process graph uses,
// against the repository rooted at args[0] (default: the current
// working directory).
func cmdMCP(args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve repository path: %w", err)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		cfg = config.Defaults()
	}
	log := logger.New(cfg.Logging)
	defer logger.Stop()

	runner := procexec.New()
	coord := container.New(runner, cfg.Container.WorkspaceRoot)

	registry := tools.NewRegistry()
	if err := modify.RegisterAnalysisTools(registry); err != nil {
		return fmt.Errorf("register analysis tools: %w", err)
	}
	if err := modify.RegisterMutationTools(registry); err != nil {
		return fmt.Errorf("register mutation tools: %w", err)
	}
	if err := modify.RegisterVerificationTools(registry, coord); err != nil {
		return fmt.Errorf("register verification tools: %w", err)
	}

	store := session.New()
	session.Set(store, modify.WorkDirKey, absRoot)

	if cfg.RAG.Enabled && cfg.RAG.WatchEnabled {
		stopWatch, err := startWatcher(cfg, log, absRoot)
		if err != nil {
			log.Warn().Err(err).Msg("mcp: rag watcher not started")
		} else {
			defer stopWatch()
		}
	}

	mcpServer := tools.NewMCPServer(registry, store)
	return mcpServer.ServeStdio()
}

// startWatcher indexes root once, then keeps the index fresh on every
// subsequent file change for the lifetime of the mcp subcommand, when
// config.RAGConfig.WatchEnabled is set.
func startWatcher(cfg *config.Config, log arbor.ILogger, root string) (func(), error) {
	idx := rag.NewIndexer(rag.Config{
		StorageDir:        cfg.RAG.StorageDir,
		IncludeExtensions: cfg.RAG.IncludeExtensions,
		ExcludeGlobs:      cfg.RAG.ExcludeGlobs,
		MaxChunkBytes:     cfg.RAG.MaxChunkBytes,
		MinChunkBytes:     cfg.RAG.MinChunkBytes,
		MaxChunks:         cfg.RAG.MaxChunks,
		EmbeddingModel:    cfg.RAG.EmbeddingModel,
		WorkerConcurrency: cfg.RAG.WorkerConcurrency,
	}, log)
	embed := chromem.NewEmbeddingFuncOllama(cfg.RAG.EmbeddingModel, cfg.LLM.BaseURL)
	bus := events.NewBus(events.NewMetrics())
	repository := filepath.Base(root)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := idx.IndexRepository(ctx, bus, repository, root, embed); err != nil {
		cancel()
		return nil, fmt.Errorf("initial index: %w", err)
	}

	watcher, err := rag.NewWatcher(idx, bus, log, repository, root, embed, 0)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := watcher.Start(ctx); err != nil {
		cancel()
		return nil, err
	}
	return func() {
		_ = watcher.Stop()
		cancel()
	}, nil
}

// buildLLMClient constructs the main provider from cfg.Provider/APIKey and,
// when a distinct repair provider is configured, wraps it as the client's
// repair model.
func buildLLMClient(cfg config.LLMConfig) (*llm.Client, error) {
	provider, err := buildProvider(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback.Provider != "" {
		fallback, err := buildProvider(cfg.Fallback.Provider, llmConfigFromFallback(cfg.Fallback))
		if err != nil {
			return nil, fmt.Errorf("build fallback provider: %w", err)
		}
		provider = llm.NewMultiProvider(provider, fallback)
	}
	if cfg.RateLimitPerHour > 0 {
		provider = llm.WithRateLimit(provider, cfg.RateLimitPerHour)
	}
	provider = llm.WithCircuitBreaker(provider, llm.CircuitBreakerConfig{})
	client := llm.NewClient(provider)

	if cfg.Repair.Provider != "" && cfg.Repair.Provider != cfg.Provider {
		repairProvider, err := buildProvider(cfg.Repair.Provider, cfg)
		if err != nil {
			return nil, fmt.Errorf("build repair provider: %w", err)
		}
		client = client.WithRepairProvider(repairProvider)
	}
	return client, nil
}

// llmConfigFromFallback adapts a FallbackConfig into the LLMConfig shape
// buildProvider expects, so the same provider-construction switch serves
// both the main and the fallback provider.
func llmConfigFromFallback(fb config.FallbackConfig) config.LLMConfig {
	return config.LLMConfig{APIKey: fb.APIKey, Model: fb.Model, BaseURL: fb.BaseURL}
}

func buildProvider(name string, cfg config.LLMConfig) (llm.Provider, error) {
	return llm.NewProvider(context.Background(), name, cfg.APIKey, cfg.BaseURL)
}

const exampleConfig = `# repoagent-service example configuration

[api]
enabled = true
host = "127.0.0.1"
port = 8090
api_key = ""
request_timeout_seconds = 60

[llm]
provider = "anthropic"
api_key = ""
model = "claude-sonnet-4-5"
max_tokens = 4096
temperature = 0.2
timeout_seconds = 120
rate_limit_per_hour = 600

[llm.repair]
provider = "gemini"
model = "gemini-2.0-flash"
retries = 2

[llm.fallback]
provider = ""
api_key = ""
model = ""

[rag]
enabled = false
storage_dir = ".repoagent/rag"
max_chunk_bytes = 4000
min_chunk_bytes = 200
max_chunks = 2000
worker_concurrency = 4
top_k = 8
min_similarity = 0.2

[container]
binary = "docker"
default_base_image = "golang:1.24-bookworm"
run_timeout_seconds = 300

[forge]
base_url = "https://api.github.com"
token = ""

[logging]
level = "info"
format = "text"
output = ["console"]
`
