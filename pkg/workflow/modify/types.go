// Package modify composes the Modify workflow's subgraphs: repository
// setup, code analysis, code modification (patch application), optional
// container verification, git operations, and finalize (pull request or
// diff).
package modify

import "github.com/ternarybob/repoagent/pkg/llm"

// Request is a submitted Modify request.
type Request struct {
	RepoURL          string
	UserRequest      string
	ContainerEnv     *ContainerEnv
	EnableEmbeddings bool
}

// ContainerEnv describes a build/run/verify environment, shared shape
// with pkg/workflow/analyze.ContainerEnv.
type ContainerEnv struct {
	BaseImage    string `json:"baseImage"`
	BuildCommand string `json:"buildCommand"`
	RunCommand   string `json:"runCommand"`
	Port         int    `json:"port,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// ModificationPlan is the structured outcome of the code-analysis
// subgraph.
type ModificationPlan struct {
	ModificationPlan string        `json:"modificationPlan"`
	FilesToModify    []string      `json:"filesToModify"`
	Dependencies     []string      `json:"dependencies,omitempty"`
	ContainerEnv     *ContainerEnv `json:"containerEnv,omitempty"`
}

// Patch is one 1-indexed inclusive line-range replacement.
type Patch struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Content   string `json:"content"`
}

// ModificationResult is the outcome of the code-modification subgraph:
// every mutation the LLM applied, in application order.
type ModificationResult struct {
	FilesModified  []string `json:"filesModified"`
	FilesCreated   []string `json:"filesCreated"`
	FilesDeleted   []string `json:"filesDeleted"`
	PatchesApplied int      `json:"patchesApplied"`
}

// VerificationStatus enumerates the outcome of the optional container
// verification subgraph.
type VerificationStatus string

const (
	VerificationSkipped   VerificationStatus = "SKIPPED"
	VerificationPassed    VerificationStatus = "SUCCESS"
	VerificationFailed    VerificationStatus = "FAILED_VERIFICATION"
	VerificationPushError VerificationStatus = "FAILED_PUSH"
)

// VerificationResult is the structured outcome of the container
// verification subgraph.
type VerificationResult struct {
	Success         bool     `json:"success"`
	CommandExecuted string   `json:"commandExecuted,omitempty"`
	ExitCode        int      `json:"exitCode"`
	Logs            []string `json:"logs,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
}

// GitResult is the outcome of the git-operations subgraph.
type GitResult struct {
	CommitSha    string `json:"commitSha"`
	Pushed       bool   `json:"pushed"`
	BranchName   string `json:"branchName"`
	PushRejected bool   `json:"pushRejected"`
	Message      string `json:"message"`
}

// Response is the Modify workflow's terminal value: either a
// pull-request reference or a diff fallback, plus the run's
// bookkeeping.
type Response struct {
	PullRequestURL     string             `json:"pullRequestUrl,omitempty"`
	PullRequestNumber  int                `json:"pullRequestNumber,omitempty"`
	Diff               string             `json:"diff,omitempty"`
	CommitSha          string             `json:"commitSha"`
	BranchName         string             `json:"branchName"`
	FilesModified      []string           `json:"filesModified"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	IterationsUsed     int                `json:"iterationsUsed"`
	Message            string             `json:"message"`
	Usage              *llm.TokenUsage    `json:"usage,omitempty"`
	FailureReason      string             `json:"failureReason,omitempty"`
}
