package workspace_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomrun/loom/internal/workspace"
)

func TestPath_ConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	m := workspace.New(root)

	p, err := m.Path("demo", "run-1")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))
	assert.Contains(t, p, "demo")
	assert.Contains(t, p, "run-1")
}

func TestPath_EncodesUnsafeCharacters(t *testing.T) {
	root := t.TempDir()
	m := workspace.New(root)

	p, err := m.Path("../escape", "run/../1")
	require.NoError(t, err)

	abs, err := filepath.Abs(root)
	require.NoError(t, err)
	rel, err := filepath.Rel(abs, p)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(rel))
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		assert.NotEqual(t, "..", seg)
	}
}

func TestPrepare_MissingSourceIsSoft(t *testing.T) {
	root := t.TempDir()
	m := workspace.New(root)

	res, err := m.Prepare("demo", "run-2", "run-1")
	require.NoError(t, err)
	assert.False(t, res.SourceFound)
	assert.Empty(t, res.Entries)

	dst, err := m.Path("demo", "run-2")
	require.NoError(t, err)
	_, err = os.Stat(dst)
	assert.NoError(t, err)
}

func TestPrepare_DeepCopiesFromSource(t *testing.T) {
	root := t.TempDir()
	m := workspace.New(root)

	src, err := m.Path("demo", "run-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))

	res, err := m.Prepare("demo", "run-2", "run-1")
	require.NoError(t, err)
	assert.True(t, res.SourceFound)
	assert.Contains(t, res.Entries, "a.txt")

	dst, err := m.Path("demo", "run-2")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReadFile_RejectsTraversal(t *testing.T) {
	root := t.TempDir()
	m := workspace.New(root)

	src, err := m.Path("demo", "run-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(src, 0o755))

	_, err = m.ReadFile(src, "../../etc/passwd")
	assert.ErrorIs(t, err, workspace.ErrPathTraversal)
}

func TestListFiles_ReturnsRelativePaths(t *testing.T) {
	root := t.TempDir()
	m := workspace.New(root)

	src, err := m.Path("demo", "run-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.md"), []byte("# x"), 0o644))

	files, err := m.ListFiles(src)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join("sub", "b.md"), files[0].RelPath)
	assert.Equal(t, "text/markdown", files[0].Mime)
}

func TestDiffSummary_NonRepoReturnsNil(t *testing.T) {
	root := t.TempDir()
	m := workspace.New(root)
	assert.Nil(t, m.DiffSummary(root))
}
