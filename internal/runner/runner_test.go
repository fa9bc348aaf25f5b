package runner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	command string
	outcome string
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []recordedRun
}

func (f *fakeRecorder) ObserveRun(command, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, recordedRun{command: command, outcome: outcome})
}

func newTestRunner(t *testing.T, binary string, timeout time.Duration) (*Runner, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(binary, timeout, logger, WithRecorder(rec)), rec
}

func TestRunCapturesOutput(t *testing.T) {
	r, rec := newTestRunner(t, "/bin/sh", 10*time.Second)

	res := r.Run(context.Background(), t.TempDir(), "-c", "echo hello; echo oops >&2")
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.OK())
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "-c", res.Command())
	require.Len(t, rec.runs, 1)
	assert.Equal(t, OutcomeOK, rec.runs[0].outcome)
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	r, _ := newTestRunner(t, "/bin/sh", 10*time.Second)
	dir := t.TempDir()

	res := r.Run(context.Background(), dir, "-c", "echo data > marker.txt && ls")
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.Contains(t, res.Stdout, "marker.txt")
}

func TestRunNonZeroExit(t *testing.T) {
	r, rec := newTestRunner(t, "/bin/sh", 10*time.Second)

	res := r.Run(context.Background(), t.TempDir(), "-c", "echo bad >&2; exit 3")
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.OK())
	assert.Equal(t, "bad\n", res.Stderr)
	require.Len(t, rec.runs, 1)
	assert.Equal(t, OutcomeFailed, rec.runs[0].outcome)
}

func TestRunStripsIsolationVars(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "/host/venv")
	t.Setenv("PYTHONPATH", "/host/lib")
	t.Setenv("PYTHONHOME", "/host/home")
	t.Setenv("PYEXEC_KEEP_ME", "yes")
	r, _ := newTestRunner(t, "/bin/sh", 10*time.Second)

	res := r.Run(context.Background(), t.TempDir(), "-c",
		`echo "[${VIRTUAL_ENV-unset}][${PYTHONPATH-unset}][${PYTHONHOME-unset}][${PYEXEC_KEEP_ME}]"`)
	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.Equal(t, "[unset][unset][unset][yes]\n", res.Stdout)
}

func TestRunTimeout(t *testing.T) {
	r, rec := newTestRunner(t, "/bin/sh", 200*time.Millisecond)

	start := time.Now()
	res := r.Run(context.Background(), t.TempDir(), "-c", "sleep 5 & sleep 5; wait")
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.True(t, res.TimedOut)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "Error: Command timed out after 200ms.", res.Stderr)
	require.Len(t, rec.runs, 1)
	assert.Equal(t, OutcomeTimeout, rec.runs[0].outcome)
}

func TestRunMissingBinary(t *testing.T) {
	r, rec := newTestRunner(t, "/nonexistent/uv-binary", 10*time.Second)

	res := r.Run(context.Background(), t.TempDir(), "init", "--lib")
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "Error: ")
	assert.False(t, res.TimedOut)
	require.Len(t, rec.runs, 1)
	assert.Equal(t, "init", rec.runs[0].command)
	assert.Equal(t, OutcomeStartError, rec.runs[0].outcome)
}

func TestRunCanceledContext(t *testing.T) {
	r, _ := newTestRunner(t, "/bin/sh", 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, t.TempDir(), "-c", "echo never")
	assert.Equal(t, 1, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Contains(t, res.Stderr, "canceled")
}

func TestCleanEnv(t *testing.T) {
	in := []string{"PATH=/bin", "VIRTUAL_ENV=/v", "PYTHONPATH=/p", "PYTHONHOME=/h", "PYTHONPATHX=keep", "HOME=/root"}
	assert.Equal(t, []string{"PATH=/bin", "PYTHONPATHX=keep", "HOME=/root"}, cleanEnv(in))
}

func TestFormatTimeout(t *testing.T) {
	assert.Equal(t, "300 seconds", formatTimeout(300*time.Second))
	assert.Equal(t, "1.5s", formatTimeout(1500*time.Millisecond))
}
