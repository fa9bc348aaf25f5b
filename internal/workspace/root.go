package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// The helpers below perform file I/O through an os.Root opened on dir, so a
// symlink planted after Confine cannot redirect the access outside dir.
// name must already have passed Confine.

// WriteFile writes data to name below dir, creating parent directories.
func WriteFile(dir, name string, data []byte) error {
	return withRoot(dir, name, func(root *os.Root, rel string) error {
		if parent := filepath.Dir(rel); parent != "." {
			if err := root.MkdirAll(parent, 0755); err != nil {
				return fmt.Errorf("create parent dirs: %w", err)
			}
		}
		if err := root.WriteFile(rel, data, 0644); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		return nil
	})
}

// Stat returns the file info of name below dir, following symlinks that stay
// inside dir.
func Stat(dir, name string) (fs.FileInfo, error) {
	var info fs.FileInfo
	err := withRoot(dir, name, func(root *os.Root, rel string) error {
		var err error
		info, err = root.Stat(rel)
		return err
	})
	return info, err
}

// Open opens name below dir for reading. The returned file stays valid after
// the root is closed.
func Open(dir, name string) (*os.File, error) {
	var f *os.File
	err := withRoot(dir, name, func(root *os.Root, rel string) error {
		var err error
		f, err = root.Open(rel)
		return err
	})
	return f, err
}

func withRoot(dir, name string, fn func(root *os.Root, rel string) error) error {
	rel := filepath.Clean(filepath.FromSlash(name))
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return fmt.Errorf("open environment root: %w", err)
	}
	defer root.Close()

	if err := fn(root, rel); err != nil {
		return escapeError(dir, name, err)
	}
	return nil
}

// escapeError reports a refused escape as ErrPathTraversal. os.Root does not
// export its escape error, so the path is confined again to classify it.
func escapeError(dir, name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if _, cerr := Confine(dir, name); errors.Is(cerr, ErrPathTraversal) {
		return cerr
	}
	return err
}
