package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Confine resolves filename against root and returns the canonical absolute
// path. Absolute names, ".." segments, the root itself and anything whose
// symlink-resolved form leaves root are rejected with ErrPathTraversal.
// Confine validates; file access itself goes through WriteFile, Stat and Open.
func Confine(root, filename string) (string, error) {
	if filename == "" || filepath.IsAbs(filename) || strings.HasPrefix(filename, "/") || strings.HasPrefix(filename, `\`) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, filename)
	}
	for _, seg := range strings.FieldsFunc(filename, isSeparator) {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, filename)
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	canonRoot, err := canonicalize(absRoot)
	if err != nil {
		return "", err
	}

	target, err := canonicalize(filepath.Join(canonRoot, filename))
	if err != nil {
		return "", err
	}
	if target == canonRoot || !strings.HasPrefix(target, canonRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, filename)
	}
	return target, nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// canonicalize evaluates symlinks along the longest existing prefix of p and
// appends the not-yet-existing remainder unchanged.
func canonicalize(p string) (string, error) {
	p = filepath.Clean(p)
	var rest []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, rest...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("canonicalize %s: %w", cur, err)
		}
		// A dangling link would be followed on write.
		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: dangling symlink %s", ErrPathTraversal, cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}
