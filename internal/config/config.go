// Package config loads the typed configuration structs the workflow
// constructors accept: pkg/workflow/analyze, pkg/workflow/modify,
// pkg/rag, and pkg/container all take typed config, not raw TOML.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the root of repoagent's TOML configuration file.
type Config struct {
	API       APIConfig       `toml:"api"`
	LLM       LLMConfig       `toml:"llm"`
	RAG       RAGConfig       `toml:"rag"`
	Container ContainerConfig `toml:"container"`
	Forge     ForgeConfig     `toml:"forge"`
	Logging   LoggingConfig   `toml:"logging"`
}

// APIConfig fronts internal/api, the HTTP surface that submits Analyze
// and Modify requests.
type APIConfig struct {
	Enabled               bool     `toml:"enabled"`
	Host                  string   `toml:"host"`
	Port                  int      `toml:"port"`
	APIKey                string   `toml:"api_key"`
	AllowedOrigins        []string `toml:"allowed_origins"`
	RequestTimeoutSeconds int      `toml:"request_timeout_seconds"`
}

// LLMConfig configures pkg/llm.Client: the main model/provider and the
// distinct, usually-cheaper repair model used by CompleteStructured's
// repair loop.
type LLMConfig struct {
	Provider         string       `toml:"provider"` // anthropic | gemini | ollama
	APIKey           string       `toml:"api_key"`
	Model            string       `toml:"model"`
	BaseURL          string       `toml:"base_url"` // ollama / custom endpoints
	MaxTokens        int          `toml:"max_tokens"`
	Temperature      float64      `toml:"temperature"`
	TimeoutSeconds   int          `toml:"timeout_seconds"`
	RateLimitPerHour int          `toml:"rate_limit_per_hour"`
	Repair           RepairConfig `toml:"repair"`
	// Fallback, if its Provider is set, is tried when the main provider's
	// Complete/Stream call fails on anything other than an auth error.
	Fallback FallbackConfig `toml:"fallback"`
}

// FallbackConfig configures a secondary provider tried on the main
// provider's failure.
type FallbackConfig struct {
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
}

// RepairConfig configures CompleteStructured's structured-output repair
// loop.
type RepairConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	Retries  int    `toml:"retries"`
}

// RAGConfig configures pkg/rag.Indexer.
type RAGConfig struct {
	Enabled           bool     `toml:"enabled"`
	StorageDir        string   `toml:"storage_dir"`
	IncludeExtensions []string `toml:"include_extensions"`
	ExcludeGlobs      []string `toml:"exclude_globs"`
	MaxChunkBytes     int      `toml:"max_chunk_bytes"`
	MinChunkBytes     int      `toml:"min_chunk_bytes"`
	MaxChunks         int      `toml:"max_chunks"`
	EmbeddingModel    string   `toml:"embedding_model"`
	WorkerConcurrency int      `toml:"worker_concurrency"`
	TopK              int      `toml:"top_k"`
	// MinSimilarity is deliberately configuration-driven; there is no
	// hard-coded default anywhere in the codebase.
	MinSimilarity float64 `toml:"min_similarity"`
	WatchEnabled  bool    `toml:"watch_enabled"`
}

// ContainerConfig configures pkg/container.Coordinator.
type ContainerConfig struct {
	Binary            string `toml:"binary"`
	DefaultBaseImage  string `toml:"default_base_image"`
	WorkspaceRoot     string `toml:"workspace_root"`
	RunTimeoutSeconds int    `toml:"run_timeout_seconds"`
}

// ForgeConfig configures pkg/forge.Client.
type ForgeConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"` // json | text
	Output     []string `toml:"output"` // console, file, or both
	Dir        string   `toml:"dir"`
	TimeFormat string   `toml:"time_format"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// Defaults returns a Config with every caller-visible zero value filled
// in with a workable default. It does not invent a MinSimilarity
// default -- callers must set RAG.MinSimilarity explicitly.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			Host:                  "127.0.0.1",
			Port:                  8090,
			RequestTimeoutSeconds: 60,
		},
		LLM: LLMConfig{
			Provider:         "anthropic",
			MaxTokens:        4096,
			Temperature:      0.2,
			TimeoutSeconds:   120,
			RateLimitPerHour: 600,
			Repair: RepairConfig{
				Provider: "gemini",
				Retries:  2,
			},
		},
		RAG: RAGConfig{
			StorageDir:        ".repoagent/rag",
			IncludeExtensions: []string{".go", ".ts", ".tsx", ".js", ".py", ".md", ".rs", ".java"},
			ExcludeGlobs:      []string{"vendor/*", "node_modules/*", ".git/*", "*.min.js"},
			MaxChunkBytes:     4000,
			MinChunkBytes:     200,
			MaxChunks:         2000,
			WorkerConcurrency: 4,
			TopK:              8,
		},
		Container: ContainerConfig{
			Binary:            "docker",
			DefaultBaseImage:  "golang:1.24-bookworm",
			WorkspaceRoot:     os.TempDir(),
			RunTimeoutSeconds: 300,
		},
		Forge: ForgeConfig{
			BaseURL: "https://api.github.com",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"console"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// Load reads path as TOML and merges it over Defaults(). A missing path
// is not an error: the defaults alone are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
