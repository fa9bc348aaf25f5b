package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"pytest-env", "pytest-env"},
		{"my_env_2", "my_env_2"},
		{"../../etc", "etc"},
		{"a b\tc", "abc"},
		{"héllo", "hllo"},
	}
	for _, tt := range tests {
		got, err := SanitizeID(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestSanitizeIDRejectsEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", "!!!", "../..", "./$%^&*()", "日本"} {
		_, err := SanitizeID(raw)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, raw)
	}
}

func TestPathNeverCreates(t *testing.T) {
	root := filepath.Join(t.TempDir(), "envs")
	m := NewManager(root)

	id, dir, err := m.Path("demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", id)
	assert.Equal(t, filepath.Join(root, "demo"), dir)

	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestCreateExistsDelete(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "envs"))
	_, dir, err := m.Path("demo")
	require.NoError(t, err)

	ok, err := m.Exists(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Create(dir))
	ok, err = m.Exists(dir)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, m.Create(dir), ErrExists)

	require.NoError(t, m.Delete(dir))
	ok, err = m.Exists(dir)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSortedDirsOnly(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, id), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0644))

	ids, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)
}

func TestListMissingRoot(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope"))
	ids, err := m.List()
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestListFilesOrderAndSkips(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0644))
	}
	write("sub/b.txt")
	write("a.txt")
	write("pyproject.toml")
	write("sub/deeper/c.txt")
	write(".venv/lib/site.py")
	write(".git/HEAD")
	write("pkg/.git/config")

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "pyproject.toml", "sub/b.txt", "sub/deeper/c.txt"}, files)
	assert.Less(t, indexOf(files, "a.txt"), indexOf(files, "sub/b.txt"))
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
