package environment

import (
	"context"
	"testing"

	"github.com/p-arndt/pyexec/internal/config"
	"github.com/p-arndt/pyexec/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestInstallPackages(t *testing.T) {
	e := newTestManager(t, config.PolicyLazy)
	e.mkEnv(t, "demo")
	e.runner.On("Run", mock.Anything, mock.Anything, []string{"add", "numpy", "pandas"}).Return(ok(""))

	id, err := e.mgr.Install(context.Background(), "demo", []string{"numpy", "pandas"})
	require.NoError(t, err)
	assert.Equal(t, "demo", id)
	e.runner.AssertExpectations(t)
}

func TestInstallFailure(t *testing.T) {
	e := newTestManager(t, config.PolicyLazy)
	e.mkEnv(t, "demo")
	e.runner.On("Run", mock.Anything, mock.Anything, argsWith("add")).Return(failed(1, "No solution found when resolving"))

	_, err := e.mgr.Install(context.Background(), "demo", []string{"nonexistent-pkg"})
	require.ErrorIs(t, err, ErrDependencyInstallFailed)
	assert.Contains(t, err.Error(), "No solution found")
}

func TestRemovePackages(t *testing.T) {
	e := newTestManager(t, config.PolicyLazy)
	e.mkEnv(t, "demo")
	e.runner.On("Run", mock.Anything, mock.Anything, []string{"remove", "requests"}).Return(ok("")).Once()
	e.runner.On("Run", mock.Anything, mock.Anything, []string{"remove", "requests"}).Return(failed(2, "not a dependency"))

	_, err := e.mgr.Remove(context.Background(), "demo", []string{"requests"})
	require.NoError(t, err)

	_, err = e.mgr.Remove(context.Background(), "demo", []string{"requests"})
	require.ErrorIs(t, err, ErrDependencyRemoveFailed)
	assert.Contains(t, err.Error(), "not a dependency")
}

func TestPackagesRejectEmptyList(t *testing.T) {
	e := newTestManager(t, config.PolicyLazy)

	_, err := e.mgr.Install(context.Background(), "demo", nil)
	assert.ErrorIs(t, err, ErrNoPackages)
	_, err = e.mgr.Remove(context.Background(), "demo", []string{})
	assert.ErrorIs(t, err, ErrNoPackages)
	e.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestListPackages(t *testing.T) {
	e := newTestManager(t, config.PolicyLazy)
	e.mkEnv(t, "demo")
	e.runner.On("Run", mock.Anything, mock.Anything, []string{"pip", "list", "--format", "json"}).
		Return(ok(`[{"name":"numpy","version":"2.1.0"},{"name":"six","version":"1.16.0"}]`))

	id, pkgs, err := e.mgr.ListPackages(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", id)
	assert.Equal(t, []protocol.Package{{Name: "numpy", Version: "2.1.0"}, {Name: "six", Version: "1.16.0"}}, pkgs)
}

func TestListPackagesEmpty(t *testing.T) {
	e := newTestManager(t, config.PolicyLazy)
	e.mkEnv(t, "demo")
	e.runner.On("Run", mock.Anything, mock.Anything, argsWith("pip")).Return(ok("[]"))

	_, pkgs, err := e.mgr.ListPackages(context.Background(), "demo")
	require.NoError(t, err)
	assert.NotNil(t, pkgs)
	assert.Empty(t, pkgs)
}

func TestListPackagesParseFailure(t *testing.T) {
	e := newTestManager(t, config.PolicyLazy)
	e.mkEnv(t, "demo")
	e.runner.On("Run", mock.Anything, mock.Anything, argsWith("pip")).Return(ok("warning: not json"))

	_, _, err := e.mgr.ListPackages(context.Background(), "demo")
	assert.ErrorIs(t, err, ErrPackageListParseFailed)
}

func TestListPackagesCommandFailure(t *testing.T) {
	e := newTestManager(t, config.PolicyLazy)
	e.mkEnv(t, "demo")
	e.runner.On("Run", mock.Anything, mock.Anything, argsWith("pip")).Return(failed(2, "No virtual environment found"))

	_, _, err := e.mgr.ListPackages(context.Background(), "demo")
	require.ErrorIs(t, err, ErrPackageListFailed)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "pip", cmdErr.Op)
	assert.Equal(t, 2, cmdErr.ExitCode)
}
