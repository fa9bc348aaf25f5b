package environment

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/p-arndt/pyexec/internal/runner"
	"github.com/p-arndt/pyexec/internal/workspace"
	"github.com/p-arndt/pyexec/protocol"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, dir string, args ...string) runner.Result {
	called := m.Called(ctx, dir, args)
	return called.Get(0).(runner.Result)
}

type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) RecordInvocation(inv *protocol.Invocation) error {
	args := m.Called(inv)
	return args.Error(0)
}

func (m *MockHistory) ListInvocations(envID string, limit int) ([]*protocol.Invocation, error) {
	args := m.Called(envID, limit)
	if invs := args.Get(0); invs != nil {
		return invs.([]*protocol.Invocation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockHistory) DeleteInvocations(envID string) (int64, error) {
	args := m.Called(envID)
	return args.Get(0).(int64), args.Error(1)
}

type testEnv struct {
	mgr    *Manager
	runner *MockRunner
	root   string
}

func newTestManager(t *testing.T, policy string) *testEnv {
	t.Helper()
	return newTestManagerWith(t, Options{Policy: policy})
}

func newTestManagerWith(t *testing.T, opts Options) *testEnv {
	t.Helper()
	root := filepath.Join(t.TempDir(), "envs")
	r := &MockRunner{}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &testEnv{
		mgr:    NewManager(workspace.NewManager(root), r, opts),
		runner: r,
		root:   root,
	}
}

// mkEnv creates an environment directory without running the manager.
func (e *testEnv) mkEnv(t *testing.T, id string) string {
	t.Helper()
	dir := filepath.Join(e.root, id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	return dir
}

func (e *testEnv) expectInit(res runner.Result) *mock.Call {
	return e.runner.On("Run", mock.Anything, mock.Anything, []string{"init", "--lib"}).Return(res)
}

func argsWith(first string) any {
	return mock.MatchedBy(func(args []string) bool {
		return len(args) > 0 && args[0] == first
	})
}

func ok(stdout string) runner.Result {
	return runner.Result{Stdout: stdout}
}

func failed(code int, stderr string) runner.Result {
	return runner.Result{ExitCode: code, Stderr: stderr}
}
