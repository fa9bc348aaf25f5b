// Package workspace owns the on-disk layout of environments: one directory
// per sanitized identifier under a fixed root. The filesystem is the only
// registry; nothing here caches existence.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sentinel errors
var (
	ErrInvalidIdentifier = errors.New("invalid environment id")
	ErrPathTraversal     = errors.New("illegal filename")
	ErrExists            = errors.New("environment directory exists")
)

// skippedDirs are never descended into when listing files.
var skippedDirs = map[string]bool{
	".venv": true,
	".git":  true,
}

// Manager maps environment identifiers to directories under root.
type Manager struct {
	root string
}

func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the environments root directory.
func (m *Manager) Root() string {
	return m.root
}

// SanitizeID keeps only ASCII letters, digits, '-' and '_'.
func SanitizeID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	id := strings.TrimSpace(b.String())
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return id, nil
}

// Path resolves raw to its sanitized id and directory. It never creates anything.
func (m *Manager) Path(raw string) (id, dir string, err error) {
	id, err = SanitizeID(raw)
	if err != nil {
		return "", "", err
	}
	return id, filepath.Join(m.root, id), nil
}

// Exists reports whether the environment directory is present.
func (m *Manager) Exists(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Create makes the environment directory. It fails with ErrExists when the
// directory is already present so concurrent creators can tell who won.
func (m *Manager) Create(dir string) error {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return fmt.Errorf("create envs root: %w", err)
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, dir)
		}
		return fmt.Errorf("create environment dir: %w", err)
	}
	return nil
}

// List returns the ids of all environment directories, sorted. A missing
// root yields an empty list.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list environments: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the environment directory tree.
func (m *Manager) Delete(dir string) error {
	return os.RemoveAll(dir)
}

// ListFiles returns every regular file below dir as a slash-separated
// relative path, skipping virtualenv and VCS directories. Shallower paths
// sort first, ties broken lexicographically.
func ListFiles(dir string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk environment: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		di, dj := strings.Count(files[i], "/"), strings.Count(files[j], "/")
		if di != dj {
			return di < dj
		}
		return files[i] < files[j]
	})
	return files, nil
}
