package blob

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tangram/internal/id"
	"tangram/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Paths{
		Lock:      filepath.Join(dir, "lock"),
		Database:  filepath.Join(dir, "database"),
		Artifacts: filepath.Join(dir, "artifacts"),
		Temps:     filepath.Join(dir, "temps"),
		Blobs:     filepath.Join(dir, "blobs"),
	}, 8)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSmallInputIsSingleLeaf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := New(ctx, s, bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	require.Equal(t, id.KindLeaf, root.Kind())

	size, err := Size(ctx, s, root)
	require.NoError(t, err)
	require.Equal(t, uint64(11), size)

	text, err := Text(ctx, s, root)
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestNewEmptyInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := New(ctx, s, bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, id.KindLeaf, root.Kind())

	size, err := Size(ctx, s, root)
	require.NoError(t, err)
	require.Equal(t, uint64(0), size)
}

// TestNewLargeInputBuildsBranch covers scenario S4: 600 KiB of input (over
// two leaves, under MaxFanout) must produce a branch root with exactly 3
// children and size 600 KiB.
func TestNewLargeInputBuildsBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 600 * 1024
	data := make([]byte, total)
	for i := range data {
		data[i] = byte(i)
	}

	root, err := New(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, id.KindBranch, root.Kind())

	branch, err := getBranch(ctx, s, root)
	require.NoError(t, err)
	require.Len(t, branch.Children_, 3)

	size, err := Size(ctx, s, root)
	require.NoError(t, err)
	require.Equal(t, uint64(total), size)

	got, err := Bytes(ctx, s, root)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestReaderArbitrarySeek(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 600 * 1024
	data := make([]byte, total)
	for i := range data {
		data[i] = byte(i * 7)
	}
	root, err := New(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)

	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)

	offsets := []int64{0, 1, MaxLeaf - 1, MaxLeaf, MaxLeaf + 1, 2 * MaxLeaf, total - 1}
	for _, off := range offsets {
		pos, err := r.Seek(off, io.SeekStart)
		require.NoError(t, err)
		require.Equal(t, off, pos)

		buf := make([]byte, 16)
		n, err := io.ReadFull(r, buf)
		if off+int64(len(buf)) > total {
			require.ErrorIs(t, err, io.ErrUnexpectedEOF)
		} else {
			require.NoError(t, err)
		}
		require.Equal(t, data[off:off+int64(n)], buf[:n])
	}
}

func TestReaderSequentialReadMatchesOriginal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 600*1024 + 37
	data := make([]byte, total)
	for i := range data {
		data[i] = byte(i * 13)
	}
	root, err := New(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)

	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestReaderSeekFromEndAndCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("abcdefgh"), 1024)
	root, err := New(ctx, s, bytes.NewReader(data))
	require.NoError(t, err)

	r, err := NewReader(ctx, s, root)
	require.NoError(t, err)

	pos, err := r.Seek(-8, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)-8), pos)

	buf := make([]byte, 8)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, data[len(data)-8:], buf)

	_, err = r.Seek(-int64(len(data)), io.SeekCurrent)
	require.NoError(t, err)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, data[:8], buf)
}
