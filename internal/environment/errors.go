package environment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/p-arndt/pyexec/internal/runner"
	"github.com/p-arndt/pyexec/internal/workspace"
)

// Sentinel errors
var (
	ErrInvalidIdentifier       = workspace.ErrInvalidIdentifier
	ErrPathTraversal           = workspace.ErrPathTraversal
	ErrEnvironmentNotFound     = errors.New("environment not found")
	ErrInitializationFailed    = errors.New("failed to initialize environment")
	ErrDependencyInstallFailed = errors.New("failed to add packages to environment")
	ErrDependencyRemoveFailed  = errors.New("error removing packages")
	ErrPackageListFailed       = errors.New("error listing packages")
	ErrPackageListParseFailed  = errors.New("failed to parse package list from uv")
	ErrFileNotFound            = errors.New("file not found")
	ErrFileTooLarge            = errors.New("file too large")
	ErrExecutionFailed         = errors.New("execution failed")
	ErrNoPackages              = errors.New("no packages specified")
	ErrHistoryDisabled         = errors.New("invocation history is disabled")
)

// CommandError is a failure reported by the external manager. It unwraps to
// one of the sentinel errors above.
type CommandError struct {
	Op       string
	EnvID    string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func newCommandError(sentinel error, envID string, res runner.Result) *CommandError {
	return &CommandError{
		Op:       res.Command(),
		EnvID:    envID,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Err:      sentinel,
	}
}

func (e *CommandError) Error() string {
	var b strings.Builder
	if errors.Is(e.Err, ErrExecutionFailed) {
		fmt.Fprintf(&b, "%v with exit code %d in environment '%s'", e.Err, e.ExitCode, e.EnvID)
	} else {
		fmt.Fprintf(&b, "%v '%s' (uv %s exited %d)", e.Err, e.EnvID, e.Op, e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(":\n")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
