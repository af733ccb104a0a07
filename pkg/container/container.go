// Package container implements the container-runtime primitives the
// Analyze and Modify workflows use to validate buildability and run
// verification commands: availability probe, Dockerfile generation,
// build, run-with-timeout, image inspection/removal, and workspace
// cleanup.
//
// Production code shells out to the container CLI via pkg/procexec
// rather than an in-process Docker SDK; no package or test here uses
// testcontainers-go.
package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/repoagent/pkg/procexec"
)

// DefaultRunTimeout applies when a caller does not configure a
// container-run timeout of its own.
const DefaultRunTimeout = 300 * time.Second

const buildLogLines = 30
const runLogLines = 100

// Coordinator drives the container CLI (assumed to be "docker" on PATH)
// through pkg/procexec.
type Coordinator struct {
	runner        *procexec.Runner
	binary        string
	workspaceRoot string
}

// New creates a Coordinator. workspaceRoot bounds CleanupDirectory: it
// refuses to delete anything outside it.
func New(runner *procexec.Runner, workspaceRoot string) *Coordinator {
	if runner == nil {
		runner = procexec.New()
	}
	return &Coordinator{runner: runner, binary: "docker", workspaceRoot: workspaceRoot}
}

// Availability is the result of Available.
type Availability struct {
	Available bool
	Version   string
	Message   string
}

// Available probes the container daemon with "docker info", which
// fails when the daemon is unreachable; "docker --version" would only
// check that the CLI binary exists.
func (c *Coordinator) Available(ctx context.Context) Availability {
	res, err := c.runner.Run(ctx, "", []string{c.binary, "info"}, 10*time.Second, true)
	if err != nil {
		return Availability{Available: false, Message: err.Error()}
	}
	if res.ExitCode != 0 {
		return Availability{Available: false, Message: strings.Join(res.Stdout, "\n")}
	}

	verRes, err := c.runner.Run(ctx, "", []string{c.binary, "version", "--format", "{{.Server.Version}}"}, 10*time.Second, true)
	version := ""
	if err == nil && verRes.ExitCode == 0 && len(verRes.Stdout) > 0 {
		version = strings.TrimSpace(verRes.Stdout[len(verRes.Stdout)-1])
	}
	return Availability{Available: true, Version: version, Message: "daemon reachable"}
}

// DockerfileResult is the outcome of GenerateDockerfile.
type DockerfileResult struct {
	Path      string
	Generated bool
}

// GenerateDockerfile writes a Dockerfile into dir built from baseImage,
// buildCmd, runCmd and an optional port, unless dir already has one --
// in which case Generated is false and the existing Dockerfile is left
// untouched.
func (c *Coordinator) GenerateDockerfile(dir, baseImage, buildCmd, runCmd string, port int) (*DockerfileResult, error) {
	path := filepath.Join(dir, "Dockerfile")
	if _, err := os.Stat(path); err == nil {
		return &DockerfileResult{Path: path, Generated: false}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "FROM %s\n", baseImage)
	sb.WriteString("WORKDIR /workspace\n")
	sb.WriteString("COPY . .\n")
	if buildCmd != "" {
		fmt.Fprintf(&sb, "RUN %s\n", buildCmd)
	}
	if port > 0 {
		fmt.Fprintf(&sb, "EXPOSE %d\n", port)
	}
	if runCmd != "" {
		fmt.Fprintf(&sb, "CMD [\"sh\", \"-c\", %q]\n", runCmd)
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return nil, fmt.Errorf("container: write Dockerfile: %w", err)
	}
	return &DockerfileResult{Path: path, Generated: true}, nil
}

// BuildResult is the outcome of BuildImage.
type BuildResult struct {
	Success         bool
	ImageName       string
	Logs            []string
	DurationSeconds float64
}

// BuildImage builds dir's Dockerfile with cache disabled, tagging it
// imageTag or, if empty, a synthesized "build-<epoch-ms>" tag.
func (c *Coordinator) BuildImage(ctx context.Context, dir, imageTag string) (*BuildResult, error) {
	if imageTag == "" {
		imageTag = fmt.Sprintf("build-%d", time.Now().UnixMilli())
	}

	started := time.Now()
	res, err := c.runner.RunWithLineCap(ctx, dir, []string{c.binary, "build", "--no-cache", "-t", imageTag, "."}, 0, true, buildLogLines)
	duration := time.Since(started).Seconds()
	if err != nil {
		return nil, fmt.Errorf("container: build: %w", err)
	}

	if res.ExitCode != 0 {
		return &BuildResult{Success: false, Logs: res.Stdout, DurationSeconds: duration}, nil
	}
	return &BuildResult{Success: true, ImageName: imageTag, Logs: res.Stdout, DurationSeconds: duration}, nil
}

// RunResult is the outcome of RunContainer.
type RunResult struct {
	Success         bool
	ExitCode        int
	Logs            []string
	DurationSeconds float64
}

// RunContainer runs command inside image via the container's shell,
// removing the container on exit and force-killing it if it exceeds
// timeoutSeconds.
func (c *Coordinator) RunContainer(ctx context.Context, image, command string, timeoutSeconds int) (*RunResult, error) {
	timeout := DefaultRunTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	started := time.Now()
	res, err := c.runner.RunWithLineCap(ctx, "", []string{c.binary, "run", "--rm", image, "sh", "-c", command}, timeout, true, runLogLines)
	duration := time.Since(started).Seconds()
	if err != nil {
		return nil, fmt.Errorf("container: run: %w", err)
	}

	return &RunResult{
		Success:         res.ExitCode == 0 && !res.TimedOut,
		ExitCode:        res.ExitCode,
		Logs:            res.Stdout,
		DurationSeconds: duration,
	}, nil
}

// ImageSize returns the human-readable size of image, or nil if it
// cannot be determined.
func (c *Coordinator) ImageSize(ctx context.Context, image string) (*string, error) {
	res, err := c.runner.Run(ctx, "", []string{c.binary, "image", "inspect", image, "--format", "{{.Size}}"}, 10*time.Second, true)
	if err != nil {
		return nil, fmt.Errorf("container: image size: %w", err)
	}
	if res.ExitCode != 0 || len(res.Stdout) == 0 {
		return nil, nil
	}
	size := strings.TrimSpace(res.Stdout[len(res.Stdout)-1])
	return &size, nil
}

// RemoveImage removes image, reporting whether it succeeded.
func (c *Coordinator) RemoveImage(ctx context.Context, image string) (bool, error) {
	res, err := c.runner.Run(ctx, "", []string{c.binary, "rmi", "-f", image}, 30*time.Second, true)
	if err != nil {
		return false, fmt.Errorf("container: remove image: %w", err)
	}
	return res.ExitCode == 0, nil
}

// CleanupDirectory removes dir, refusing anything outside the
// configured workspace root.
func (c *Coordinator) CleanupDirectory(dir string) error {
	absRoot, err := filepath.Abs(c.workspaceRoot)
	if err != nil {
		return fmt.Errorf("container: resolve workspace root: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("container: resolve dir: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("container: refusing to clean up %q outside workspace root %q", dir, c.workspaceRoot)
	}
	return os.RemoveAll(absDir)
}
