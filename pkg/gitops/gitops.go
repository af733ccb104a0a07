// Package gitops implements the external git primitives the Modify
// workflow drives: clone, branch management, commit, push (with
// rejection classification), and diff. Every call shells out to the
// git CLI through pkg/procexec rather than an in-process VCS library.
package gitops

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/repoagent/pkg/procexec"
)

// DefaultTimeout bounds any single git invocation when the caller does
// not need a tighter one.
const DefaultTimeout = 2 * time.Minute

// Client drives a git checkout through procexec.Runner.
type Client struct {
	runner *procexec.Runner
}

// New creates a Client.
func New(runner *procexec.Runner) *Client {
	if runner == nil {
		runner = procexec.New()
	}
	return &Client{runner: runner}
}

func (c *Client) git(ctx context.Context, dir string, args ...string) (*procexec.Result, error) {
	return c.runner.Run(ctx, dir, append([]string{"git"}, args...), DefaultTimeout, true)
}

// nonEmptyDir reports whether path exists and contains at least one entry.
func nonEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

// Clone clones url into destDir. Idempotent: if destDir already exists
// and is non-empty, it is treated as already cloned and returned as-is.
func (c *Client) Clone(ctx context.Context, url, destDir string) (string, error) {
	if nonEmptyDir(destDir) {
		return destDir, nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("gitops: create dest dir: %w", err)
	}
	res, err := c.git(ctx, "", "clone", url, destDir)
	if err != nil {
		return "", fmt.Errorf("gitops: clone %s: %w", url, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("gitops: clone %s failed (exit %d): %s", url, res.ExitCode, strings.Join(res.Stdout, "\n"))
	}
	return destDir, nil
}

// CurrentBranch returns path's checked-out branch name.
func (c *Client) CurrentBranch(ctx context.Context, path string) (string, error) {
	res, err := c.git(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitops: current branch: %w", err)
	}
	if res.ExitCode != 0 || len(res.Stdout) == 0 {
		return "", fmt.Errorf("gitops: current branch: exit %d", res.ExitCode)
	}
	return strings.TrimSpace(res.Stdout[len(res.Stdout)-1]), nil
}

// CreateBranch checks out base (if given) then creates and checks out
// name.
func (c *Client) CreateBranch(ctx context.Context, path, name, base string) error {
	if base != "" {
		if err := c.CheckoutBranch(ctx, path, base); err != nil {
			return err
		}
	}
	res, err := c.git(ctx, path, "checkout", "-b", name)
	if err != nil {
		return fmt.Errorf("gitops: create branch %s: %w", name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("gitops: create branch %s failed: %s", name, strings.Join(res.Stdout, "\n"))
	}
	return nil
}

// CheckoutBranch checks out an existing branch.
func (c *Client) CheckoutBranch(ctx context.Context, path, name string) error {
	res, err := c.git(ctx, path, "checkout", name)
	if err != nil {
		return fmt.Errorf("gitops: checkout %s: %w", name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("gitops: checkout %s failed: %s", name, strings.Join(res.Stdout, "\n"))
	}
	return nil
}

// Commit stages files (or everything, if files is empty) and commits,
// returning the new HEAD sha.
func (c *Client) Commit(ctx context.Context, path, message string, files []string) (string, error) {
	addArgs := []string{"add"}
	if len(files) == 0 {
		addArgs = append(addArgs, "-A")
	} else {
		addArgs = append(addArgs, files...)
	}
	if res, err := c.git(ctx, path, addArgs...); err != nil {
		return "", fmt.Errorf("gitops: add: %w", err)
	} else if res.ExitCode != 0 {
		return "", fmt.Errorf("gitops: add failed: %s", strings.Join(res.Stdout, "\n"))
	}

	res, err := c.git(ctx, path, "commit", "-m", message)
	if err != nil {
		return "", fmt.Errorf("gitops: commit: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("gitops: commit failed: %s", strings.Join(res.Stdout, "\n"))
	}

	shaRes, err := c.git(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitops: rev-parse HEAD: %w", err)
	}
	if shaRes.ExitCode != 0 || len(shaRes.Stdout) == 0 {
		return "", fmt.Errorf("gitops: rev-parse HEAD failed")
	}
	return strings.TrimSpace(shaRes.Stdout[len(shaRes.Stdout)-1]), nil
}

// PushResult is the outcome of Push.
type PushResult struct {
	Pushed   bool
	Rejected bool
}

// Push pushes branch to origin. A refusal message containing "rejected"
// or "non-fast-forward" is classified as a rejection, not a hard error;
// any other failure is a hard error.
func (c *Client) Push(ctx context.Context, path, branch string, force bool) (*PushResult, error) {
	args := []string{"push", "-u", "origin", branch}
	if force {
		args = append(args, "--force")
	}
	res, err := c.git(ctx, path, args...)
	if err != nil {
		return nil, fmt.Errorf("gitops: push %s: %w", branch, err)
	}
	if res.ExitCode == 0 {
		return &PushResult{Pushed: true}, nil
	}

	output := strings.ToLower(strings.Join(res.Stdout, "\n"))
	if strings.Contains(output, "rejected") || strings.Contains(output, "non-fast-forward") {
		return &PushResult{Pushed: false, Rejected: true}, nil
	}
	return nil, fmt.Errorf("gitops: push %s failed (exit %d): %s", branch, res.ExitCode, strings.Join(res.Stdout, "\n"))
}

// DiffResult is the outcome of Diff.
type DiffResult struct {
	Diff         string
	FilesChanged int
	Insertions   int
	Deletions    int
}

// Diff computes the diff between base and head.
func (c *Client) Diff(ctx context.Context, path, base, head string) (*DiffResult, error) {
	diffRes, err := c.git(ctx, path, "diff", base, head)
	if err != nil {
		return nil, fmt.Errorf("gitops: diff %s..%s: %w", base, head, err)
	}
	if diffRes.ExitCode != 0 {
		return nil, fmt.Errorf("gitops: diff %s..%s failed: %s", base, head, strings.Join(diffRes.Stdout, "\n"))
	}

	statRes, err := c.git(ctx, path, "diff", "--shortstat", base, head)
	if err != nil {
		return nil, fmt.Errorf("gitops: diff --shortstat %s..%s: %w", base, head, err)
	}

	result := &DiffResult{Diff: strings.Join(diffRes.Stdout, "\n")}
	if len(statRes.Stdout) > 0 {
		parseShortstat(strings.Join(statRes.Stdout, " "), result)
	}
	return result, nil
}

// parseShortstat extracts counts from a line like:
// "2 files changed, 10 insertions(+), 3 deletions(-)"
func parseShortstat(line string, result *DiffResult) {
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(fields[0], "%d", &n); err != nil {
			continue
		}
		switch {
		case strings.Contains(part, "file"):
			result.FilesChanged = n
		case strings.Contains(part, "insertion"):
			result.Insertions = n
		case strings.Contains(part, "deletion"):
			result.Deletions = n
		}
	}
}
