package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		p := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
	return root
}

func TestFindFilesByExtension(t *testing.T) {
	root := writeTree(t, "a.yaml", "nested/b.hcl", "nested/deep/c.yml", "notes.txt")

	files, err := FindFilesByExtension(root, ".yaml", ".yml", ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.yaml"),
		filepath.Join(root, "nested", "b.hcl"),
		filepath.Join(root, "nested", "deep", "c.yml"),
	}, files)

	assert.Panics(t, func() { _, _ = FindFilesByExtension(root) })
}

func TestCollectFiles(t *testing.T) {
	root := writeTree(t, "a.yaml", "dir/b.hcl", "dir/skip.txt", "explicit.txt")

	files, err := CollectFiles([]string{
		filepath.Join(root, "dir"),
		filepath.Join(root, "explicit.txt"),
		filepath.Join(root, "dir", "b.hcl"),
	}, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "dir", "b.hcl"),
		filepath.Join(root, "explicit.txt"),
	}, files)

	_, err = CollectFiles([]string{filepath.Join(root, "missing")}, ".hcl")
	assert.ErrorContains(t, err, "error accessing path")
}
