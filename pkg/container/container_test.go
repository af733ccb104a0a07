package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/repoagent/pkg/procexec"
)

func TestGenerateDockerfile_WritesWhenMissing(t *testing.T) {
	dir := t.TempDir()
	c := New(procexec.New(), dir)

	res, err := c.GenerateDockerfile(dir, "golang:1.24", "go build ./...", "./app", 8080)
	require.NoError(t, err)
	assert.True(t, res.Generated)

	contents, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "FROM golang:1.24")
	assert.Contains(t, string(contents), "EXPOSE 8080")
}

func TestGenerateDockerfile_DoesNotOverwriteExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Dockerfile")
	require.NoError(t, os.WriteFile(path, []byte("FROM scratch\n"), 0o644))

	c := New(procexec.New(), dir)
	res, err := c.GenerateDockerfile(dir, "golang:1.24", "go build", "", 0)
	require.NoError(t, err)
	assert.False(t, res.Generated)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "FROM scratch\n", string(contents))
}

func TestCleanupDirectory_RefusesOutsideWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	c := New(procexec.New(), root)
	err := c.CleanupDirectory(outside)
	assert.Error(t, err)

	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr, "outside dir must survive the refusal")
}

func TestCleanupDirectory_RemovesInsideWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	inner := filepath.Join(root, "clone-1")
	require.NoError(t, os.MkdirAll(inner, 0o755))

	c := New(procexec.New(), root)
	require.NoError(t, c.CleanupDirectory(inner))

	_, err := os.Stat(inner)
	assert.True(t, os.IsNotExist(err))
}

func TestAvailable_ReportsUnavailableWhenBinaryMissing(t *testing.T) {
	c := New(procexec.New(), t.TempDir())
	c.binary = "docker-binary-that-does-not-exist-xyz"

	avail := c.Available(context.Background())
	assert.False(t, avail.Available)
	assert.NotEmpty(t, avail.Message)
}
