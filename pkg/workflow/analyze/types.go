// Package analyze composes the Analyze workflow's subgraphs: parse the
// initial request, optionally load requirements from an external doc,
// optionally index the repository for retrieval, run the tool-enabled
// repository-analysis loop, and optionally validate buildability in a
// container.
package analyze

import "github.com/ternarybob/repoagent/pkg/llm"

// Request is a submitted Analyze request.
type Request struct {
	UserInput              string
	APIKey                 string
	LLMProvider            string // anthropic | gemini | ollama | custom
	SelectedModel          string
	CustomBaseURL          string
	CustomModel            string
	MaxContextTokens       int
	FixingMaxContextTokens int
	UseMainModelForFixing  bool
	FixingModel            string
	AttachExternalDoc      bool
	ExternalDocURL         string
	ForceSkipContainer     bool
	EnableRAG              bool
}

// Requirements is structured requirement text extracted from an
// external doc.
type Requirements struct {
	Summary string   `json:"summary"`
	Items   []string `json:"items"`
}

// InitialAnalysis is the parsed outcome of the first LLM turn. Success
// is false (and Reason populated) on a parsing failure -- a domain
// value, not an aborted run.
type InitialAnalysis struct {
	Success         bool          `json:"-"`
	Reason          string        `json:"-"`
	RepoURL         string        `json:"repoUrl"`
	UserRequest     string        `json:"userRequest"`
	Requirements    *Requirements `json:"requirements,omitempty"`
	ExternalDocsURL string        `json:"externalDocsUrl,omitempty"`
}

// ContainerEnv describes a proposed container validation environment.
type ContainerEnv struct {
	BaseImage    string `json:"baseImage"`
	BuildCommand string `json:"buildCommand"`
	RunCommand   string `json:"runCommand"`
	Port         int    `json:"port,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// RepositoryAnalysis is the structured report synthesized after the
// repository-analysis tool-call loop.
type RepositoryAnalysis struct {
	TLDR                string        `json:"tldr"`
	Analysis            string        `json:"analysis"`
	UserRequestAnalysis string        `json:"userRequestAnalysis,omitempty"`
	RepositoryReview    string        `json:"repositoryReview,omitempty"`
	ContainerEnv        *ContainerEnv `json:"containerEnv,omitempty"`
}

// ContainerInfo is the outcome of the optional container-build step.
type ContainerInfo struct {
	Success         bool     `json:"success"`
	ImageName       string   `json:"imageName,omitempty"`
	Logs            []string `json:"logs,omitempty"`
	DurationSeconds float64  `json:"durationSeconds"`
}

// Response is the Analyze workflow's terminal value.
type Response struct {
	TLDR                string          `json:"tldr"`
	Analysis            string          `json:"analysis"`
	Requirements        *Requirements   `json:"requirements,omitempty"`
	UserRequestAnalysis string          `json:"userRequestAnalysis,omitempty"`
	RepositoryReview    string          `json:"repositoryReview,omitempty"`
	ContainerInfo       *ContainerInfo  `json:"containerInfo,omitempty"`
	ToolCalls           []string        `json:"toolCalls"`
	Model               string          `json:"model,omitempty"`
	Usage               *llm.TokenUsage `json:"usage,omitempty"`
	FailureReason       string          `json:"failureReason,omitempty"`
}
