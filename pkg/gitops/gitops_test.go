package gitops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ternarybob/repoagent/pkg/procexec"
)

// initRepo creates a throwaway git repository with one commit on "main"
// and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		c := New(procexec.New())
		res, err := c.git(context.Background(), dir, args...)
		require.NoError(t, err)
		require.Equal(t, 0, res.ExitCode, args)
	}
	run("init", "-b", "main")
	run("config", "user.email", "agent@example.com")
	run("config", "user.name", "agent")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestClient_CurrentBranch(t *testing.T) {
	dir := initRepo(t)
	c := New(procexec.New())
	branch, err := c.CurrentBranch(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestClient_CreateAndCheckoutBranch(t *testing.T) {
	dir := initRepo(t)
	c := New(procexec.New())
	require.NoError(t, c.CreateBranch(context.Background(), dir, "feature", ""))

	branch, err := c.CurrentBranch(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "feature", branch)

	require.NoError(t, c.CheckoutBranch(context.Background(), dir, "main"))
	branch, err = c.CurrentBranch(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestClient_CommitReturnsSha(t *testing.T) {
	dir := initRepo(t)
	c := New(procexec.New())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0o644))

	sha, err := c.Commit(context.Background(), dir, "add new.txt", nil)
	require.NoError(t, err)
	require.Len(t, sha, 40)
}

func TestClient_PushWithoutRemoteIsHardError(t *testing.T) {
	dir := initRepo(t)
	c := New(procexec.New())
	_, err := c.Push(context.Background(), dir, "main", false)
	require.Error(t, err)
}

func TestClient_CloneIsIdempotentOnNonEmptyDest(t *testing.T) {
	src := initRepo(t)
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "marker.txt"), []byte("x"), 0o644))

	c := New(procexec.New())
	out, err := c.Clone(context.Background(), src, dest)
	require.NoError(t, err)
	require.Equal(t, dest, out)
	_, err = os.Stat(filepath.Join(dest, "marker.txt"))
	require.NoError(t, err)
}

func TestClient_DiffBetweenCommits(t *testing.T) {
	dir := initRepo(t)
	c := New(procexec.New())

	res, err := c.git(context.Background(), dir, "rev-parse", "HEAD")
	require.NoError(t, err)
	baseSha := res.Stdout[0]

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))
	head, err := c.Commit(context.Background(), dir, "add a.txt", nil)
	require.NoError(t, err)

	diff, err := c.Diff(context.Background(), dir, baseSha, head)
	require.NoError(t, err)
	require.Contains(t, diff.Diff, "a.txt")
	require.Equal(t, 1, diff.FilesChanged)
	require.Equal(t, 1, diff.Insertions)
}

func configureUser(t *testing.T, c *Client, dir string) {
	t.Helper()
	for _, args := range [][]string{
		{"config", "user.email", "agent@example.com"},
		{"config", "user.name", "agent"},
	} {
		res, err := c.git(context.Background(), dir, args...)
		require.NoError(t, err)
		require.Equal(t, 0, res.ExitCode)
	}
}

func TestClient_PushRejectionIsClassifiedNotFatal(t *testing.T) {
	c := New(procexec.New())
	ctx := context.Background()
	tmp := t.TempDir()

	seed := initRepo(t)
	origin := filepath.Join(tmp, "origin.git")
	res, err := c.git(ctx, "", "clone", "--bare", seed, origin)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	cloneA := filepath.Join(tmp, "a")
	_, err = c.Clone(ctx, origin, cloneA)
	require.NoError(t, err)
	configureUser(t, c, cloneA)

	cloneB := filepath.Join(tmp, "b")
	_, err = c.Clone(ctx, origin, cloneB)
	require.NoError(t, err)
	configureUser(t, c, cloneB)

	// A advances origin/main first.
	require.NoError(t, os.WriteFile(filepath.Join(cloneA, "a.txt"), []byte("a\n"), 0o644))
	_, err = c.Commit(ctx, cloneA, "advance main", nil)
	require.NoError(t, err)
	push, err := c.Push(ctx, cloneA, "main", false)
	require.NoError(t, err)
	require.True(t, push.Pushed)

	// B's main is now behind, so its push is a non-fast-forward: a
	// typed rejection, not a hard error.
	require.NoError(t, os.WriteFile(filepath.Join(cloneB, "b.txt"), []byte("b\n"), 0o644))
	_, err = c.Commit(ctx, cloneB, "diverge main", nil)
	require.NoError(t, err)
	push, err = c.Push(ctx, cloneB, "main", false)
	require.NoError(t, err)
	require.False(t, push.Pushed)
	require.True(t, push.Rejected)
}
