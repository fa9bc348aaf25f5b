package environment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/p-arndt/pyexec/internal/config"
	"github.com/p-arndt/pyexec/internal/workspace"
	"github.com/p-arndt/pyexec/protocol"
)

// Resolve maps a caller-supplied id to its sanitized form and directory.
// It never touches the filesystem.
func (m *Manager) Resolve(raw string) (id, dir string, err error) {
	return m.ws.Path(raw)
}

// Create initializes a new environment, optionally seeding packages. An
// existing environment is reported as StatusAlreadyExists and left alone.
// A failed package seed keeps the environment and reports a warning.
func (m *Manager) Create(ctx context.Context, raw string, packages []string) (*protocol.CreateResult, error) {
	id, dir, err := m.ws.Path(raw)
	if err != nil {
		return nil, err
	}

	mu := m.envLock(id)
	mu.Lock()
	defer mu.Unlock()

	exists, err := m.ws.Exists(dir)
	if err != nil {
		return nil, fmt.Errorf("check environment: %w", err)
	}
	if exists {
		return &protocol.CreateResult{Status: protocol.StatusAlreadyExists, EnvID: id, Path: dir}, nil
	}

	if err := m.initialize(ctx, id, dir); err != nil {
		if errors.Is(err, workspace.ErrExists) {
			return &protocol.CreateResult{Status: protocol.StatusAlreadyExists, EnvID: id, Path: dir}, nil
		}
		return nil, err
	}

	result := &protocol.CreateResult{Status: protocol.StatusCreated, EnvID: id, Path: dir}
	if len(packages) > 0 {
		res := m.run(ctx, id, dir, append([]string{"add"}, packages...)...)
		if !res.OK() {
			result.Status = protocol.StatusCreatedWithWarning
			result.Warning = "Failed to add packages: " + strings.TrimSpace(res.Stderr)
			m.logger.Warn("environment created without packages", "env_id", id, "packages", packages, "exit_code", res.ExitCode)
		}
	}

	m.logger.Info("environment created", "env_id", id, "status", result.Status)
	return result, nil
}

// Ensure returns the environment directory, creating and initializing it if
// missing. Concurrent callers for the same id share one initialization.
func (m *Manager) Ensure(ctx context.Context, raw string) (id, dir string, err error) {
	id, dir, err = m.ws.Path(raw)
	if err != nil {
		return "", "", err
	}
	if err := m.ensure(ctx, id, dir); err != nil {
		return "", "", err
	}
	return id, dir, nil
}

func (m *Manager) ensure(ctx context.Context, id, dir string) error {
	_, err, _ := m.creating.Do(id, func() (any, error) {
		mu := m.envLock(id)
		mu.Lock()
		defer mu.Unlock()
		// Shared by every waiter; one caller going away must not fail the rest.
		return nil, m.ensureLocked(context.WithoutCancel(ctx), id, dir)
	})
	return err
}

// ensureLocked creates the environment if it is missing. The caller holds the
// environment lock.
func (m *Manager) ensureLocked(ctx context.Context, id, dir string) error {
	exists, err := m.ws.Exists(dir)
	if err != nil {
		return fmt.Errorf("check environment: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.initialize(ctx, id, dir); err != nil {
		if errors.Is(err, workspace.ErrExists) {
			return nil
		}
		return err
	}
	m.logger.Info("environment created on first use", "env_id", id)
	return nil
}

// Require returns the directory of an existing environment and never
// creates one.
func (m *Manager) Require(raw string) (id, dir string, err error) {
	id, dir, err = m.ws.Path(raw)
	if err != nil {
		return "", "", err
	}
	if err := m.require(id, dir); err != nil {
		return "", "", err
	}
	return id, dir, nil
}

func (m *Manager) require(id, dir string) error {
	exists, err := m.ws.Exists(dir)
	if err != nil {
		return fmt.Errorf("check environment: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: '%s'", ErrEnvironmentNotFound, id)
	}
	return nil
}

// Open resolves an environment according to the configured policy.
func (m *Manager) Open(ctx context.Context, raw string) (id, dir string, err error) {
	id, dir, err = m.ws.Path(raw)
	if err != nil {
		return "", "", err
	}
	if err := m.open(ctx, id, dir); err != nil {
		return "", "", err
	}
	return id, dir, nil
}

func (m *Manager) open(ctx context.Context, id, dir string) error {
	if m.policy == config.PolicyStrict {
		return m.require(id, dir)
	}
	return m.ensure(ctx, id, dir)
}

// openLocked is open for callers already holding the environment lock. The
// existence check and any lazy creation happen under that lock, so a
// concurrent Delete cannot slip in before the caller writes.
func (m *Manager) openLocked(ctx context.Context, id, dir string) error {
	if m.policy == config.PolicyStrict {
		return m.require(id, dir)
	}
	return m.ensureLocked(ctx, id, dir)
}

// initialize creates dir and scaffolds a project in it. On failure the
// directory is removed again.
func (m *Manager) initialize(ctx context.Context, id, dir string) error {
	if err := m.ws.Create(dir); err != nil {
		return err
	}
	res := m.run(ctx, id, dir, "init", "--lib")
	if res.OK() {
		return nil
	}
	if err := m.ws.Delete(dir); err != nil {
		m.logger.Error("failed to clean up environment", "env_id", id, "error", err)
	}
	m.logger.Warn("environment initialization failed", "env_id", id, "exit_code", res.ExitCode)
	return newCommandError(ErrInitializationFailed, id, res)
}

// List returns the ids of all environments, sorted.
func (m *Manager) List() ([]string, error) {
	return m.ws.List()
}

// Delete removes an environment and its recorded history.
func (m *Manager) Delete(ctx context.Context, raw string) (string, error) {
	id, dir, err := m.ws.Path(raw)
	if err != nil {
		return "", err
	}

	mu := m.envLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := m.require(id, dir); err != nil {
		return "", err
	}
	if err := m.ws.Delete(dir); err != nil {
		return "", fmt.Errorf("delete environment: %w", err)
	}
	if m.history != nil {
		if _, err := m.history.DeleteInvocations(id); err != nil {
			m.logger.Warn("failed to delete invocation history", "env_id", id, "error", err)
		}
	}
	m.removeEnvLock(id)

	m.logger.Info("environment deleted", "env_id", id)
	return id, nil
}
