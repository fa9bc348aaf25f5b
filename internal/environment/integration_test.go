//go:build integration

package environment

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/pyexec/internal/config"
	"github.com/p-arndt/pyexec/internal/runner"
	"github.com/p-arndt/pyexec/internal/store"
	"github.com/p-arndt/pyexec/internal/testutil"
	"github.com/p-arndt/pyexec/internal/workspace"
	"github.com/p-arndt/pyexec/protocol"
)

// newUVManager wires a Manager to the real uv binary and a sqlite history.
func newUVManager(t *testing.T, policy string) (*Manager, *store.Store) {
	t.Helper()
	uv, err := exec.LookPath("uv")
	if err != nil {
		t.Skip("uv not found in PATH")
	}

	base := t.TempDir()
	st, err := store.New(filepath.Join(base, "pyexec.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := testutil.DiscardLogger()
	r := runner.New(uv, 5*time.Minute, logger)
	mgr := NewManager(workspace.NewManager(filepath.Join(base, "envs")), r, Options{
		Policy:  policy,
		History: st,
		Logger:  logger,
	})
	return mgr, st
}

func TestIntegration_LazyExecuteAndRead(t *testing.T) {
	mgr, _ := newUVManager(t, config.PolicyLazy)
	ctx := context.Background()

	res, err := mgr.Execute(ctx, "it-lazy", ExecRequest{Code: "print(6 * 7)"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "42")

	_, err = mgr.Write(ctx, "it-lazy", "data/out.txt", "hello")
	require.NoError(t, err)

	f, err := mgr.Read(ctx, "it-lazy", "data/out.txt")
	require.NoError(t, err)
	assert.Equal(t, protocol.KindText, f.Kind)
	assert.Equal(t, "hello", f.Text)

	_, files, err := mgr.ListFiles(ctx, "it-lazy")
	require.NoError(t, err)
	assert.Contains(t, files, "main.py")
	assert.Contains(t, files, "data/out.txt")
}

func TestIntegration_StrictLifecycle(t *testing.T) {
	mgr, st := newUVManager(t, config.PolicyStrict)
	ctx := context.Background()

	_, err := mgr.Execute(ctx, "it-strict", ExecRequest{Code: "print(1)"})
	require.ErrorIs(t, err, ErrEnvironmentNotFound)

	created, err := mgr.Create(ctx, "it-strict", nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCreated, created.Status)

	again, err := mgr.Create(ctx, "it-strict", nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusAlreadyExists, again.Status)

	_, err = mgr.Execute(ctx, "it-strict", ExecRequest{Code: "import sys; sys.exit(3)"})
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Equal(t, 3, cmdErr.ExitCode)

	invs, err := st.ListInvocations("it-strict", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, invs)

	ids, err := mgr.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"it-strict"}, ids)

	_, err = mgr.Delete(ctx, "it-strict")
	require.NoError(t, err)

	ids, err = mgr.List()
	require.NoError(t, err)
	assert.Empty(t, ids)

	invs, err = st.ListInvocations("it-strict", 10)
	require.NoError(t, err)
	assert.Empty(t, invs)
}

func TestIntegration_ListPackages(t *testing.T) {
	mgr, _ := newUVManager(t, config.PolicyLazy)
	ctx := context.Background()

	_, _, err := mgr.Ensure(ctx, "it-pkgs")
	require.NoError(t, err)

	_, pkgs, err := mgr.ListPackages(ctx, "it-pkgs")
	require.NoError(t, err)
	assert.NotNil(t, pkgs)
}
