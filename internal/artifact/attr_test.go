package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttrOfRegularFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exe")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o755))

	attr, err := AttrOf(path)
	require.NoError(t, err)
	require.True(t, attr.IsRegular)
	require.False(t, attr.IsDir)
	require.False(t, attr.IsSymlink)
	require.True(t, attr.Executable)
	require.EqualValues(t, 2, attr.Size)
}

func TestAttrOfDirectory(t *testing.T) {
	dir := t.TempDir()
	attr, err := AttrOf(dir)
	require.NoError(t, err)
	require.True(t, attr.IsDir)
	require.False(t, attr.IsRegular)
	require.False(t, attr.Executable)
}

func TestAttrOfSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	attr, err := AttrOf(link)
	require.NoError(t, err)
	require.True(t, attr.IsSymlink)
	require.False(t, attr.IsDir)
	require.False(t, attr.IsRegular)
}
