package environment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/p-arndt/pyexec/protocol"
)

// Install adds packages to the environment's project.
func (m *Manager) Install(ctx context.Context, raw string, packages []string) (string, error) {
	return m.changePackages(ctx, raw, "add", packages, ErrDependencyInstallFailed)
}

// Remove drops packages from the environment's project.
func (m *Manager) Remove(ctx context.Context, raw string, packages []string) (string, error) {
	return m.changePackages(ctx, raw, "remove", packages, ErrDependencyRemoveFailed)
}

func (m *Manager) changePackages(ctx context.Context, raw, verb string, packages []string, sentinel error) (string, error) {
	if len(packages) == 0 {
		return "", ErrNoPackages
	}
	id, dir, err := m.ws.Path(raw)
	if err != nil {
		return "", err
	}
	mu := m.envLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := m.openLocked(ctx, id, dir); err != nil {
		return "", err
	}

	res := m.run(ctx, id, dir, append([]string{verb}, packages...)...)
	if !res.OK() {
		return "", newCommandError(sentinel, id, res)
	}
	m.logger.Info("packages changed", "env_id", id, "op", verb, "packages", packages)
	return id, nil
}

// ListPackages reports the packages installed in the environment.
func (m *Manager) ListPackages(ctx context.Context, raw string) (string, []protocol.Package, error) {
	id, dir, err := m.ws.Path(raw)
	if err != nil {
		return "", nil, err
	}
	if err := m.open(ctx, id, dir); err != nil {
		return "", nil, err
	}

	res := m.run(ctx, id, dir, "pip", "list", "--format", "json")
	if !res.OK() {
		return "", nil, newCommandError(ErrPackageListFailed, id, res)
	}

	pkgs := []protocol.Package{}
	if err := json.Unmarshal([]byte(res.Stdout), &pkgs); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrPackageListParseFailed, err)
	}
	if pkgs == nil {
		pkgs = []protocol.Package{}
	}
	return id, pkgs, nil
}
