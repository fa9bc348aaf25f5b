package environment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/p-arndt/pyexec/internal/workspace"
	"github.com/p-arndt/pyexec/protocol"
)

type ExecRequest struct {
	Code     string
	Filename string
	Packages []string
}

// Execute optionally adds packages, writes Code to Filename and runs it with
// the environment's interpreter. A non-zero exit is returned as a
// *CommandError wrapping ErrExecutionFailed.
func (m *Manager) Execute(ctx context.Context, raw string, req ExecRequest) (*protocol.ExecResult, error) {
	filename := req.Filename
	if filename == "" {
		filename = protocol.DefaultFilename
	}

	id, dir, err := m.ws.Path(raw)
	if err != nil {
		return nil, err
	}
	if _, err := workspace.Confine(dir, filename); err != nil {
		return nil, err
	}

	mu := m.envLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := m.openLocked(ctx, id, dir); err != nil {
		return nil, err
	}

	if len(req.Packages) > 0 {
		res := m.run(ctx, id, dir, append([]string{"add"}, req.Packages...)...)
		if !res.OK() {
			return nil, newCommandError(ErrDependencyInstallFailed, id, res)
		}
	}

	if req.Code != "" {
		if err := workspace.WriteFile(dir, filename, []byte(req.Code)); err != nil {
			return nil, err
		}
	} else if _, err := workspace.Stat(dir, filename); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: '%s' in environment '%s'", ErrFileNotFound, filename, id)
		}
		return nil, fmt.Errorf("stat %s: %w", filename, err)
	}

	// Resolved again now that package builds and the write are done.
	path, err := workspace.Confine(dir, filename)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("executing", "env_id", id, "filename", filename)
	res := m.run(ctx, id, dir, "run", path)
	if !res.OK() {
		return nil, newCommandError(ErrExecutionFailed, id, res)
	}

	return &protocol.ExecResult{
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		DurationMs: res.Duration.Milliseconds(),
		Hint:       fmt.Sprintf("If images or data files were generated, call read_file(env_id='%s', filename='...') to show them.", id),
	}, nil
}
