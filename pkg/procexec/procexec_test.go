package procexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_CapturesStdoutAndExitCode(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "echo one; echo two"}, time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"one", "two"}, res.Stdout)
	assert.False(t, res.TimedOut)
}

func TestRunner_NonZeroExitIsNotAnError(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "exit 7"}, time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}

func TestRunner_TimeoutForceKills(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "sleep 5"}, 50*time.Millisecond, false)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
}

func TestRunner_RingBufferRetainsLastNLines(t *testing.T) {
	r := New()
	res, err := r.RunWithLineCap(context.Background(), t.TempDir(), []string{"sh", "-c", "for i in 1 2 3 4 5; do echo line$i; done"}, time.Second, false, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"line4", "line5"}, res.Stdout)
}

func TestRunner_MergeStderr(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "echo out; echo err >&2"}, time.Second, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"out", "err"}, res.Stdout)
}

func TestRunner_CancelledContext(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, t.TempDir(), []string{"sh", "-c", "sleep 1"}, time.Second, false)
	assert.Error(t, err)
}
