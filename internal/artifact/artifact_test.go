package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tangram/internal/id"
	"tangram/internal/object"
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

func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "run.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(root, "link")))
}

func TestCheckInDirectory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	host := t.TempDir()
	writeTree(t, host)

	artifactID, err := CheckIn(ctx, s, host)
	require.NoError(t, err)
	require.Equal(t, id.KindDirectory, artifactID.Kind())

	o, err := s.GetObject(ctx, artifactID)
	require.NoError(t, err)
	dir := o.(object.Directory)
	require.Len(t, dir.Entries, 3)

	subO, err := s.GetObject(ctx, dir.Entries["sub"])
	require.NoError(t, err)
	subDir := subO.(object.Directory)

	scriptO, err := s.GetObject(ctx, subDir.Entries["run.sh"])
	require.NoError(t, err)
	script := scriptO.(object.File)
	require.True(t, script.Executable)

	linkO, err := s.GetObject(ctx, dir.Entries["link"])
	require.NoError(t, err)
	link := linkO.(object.Symlink)
	require.Len(t, link.Template.Components, 1)
}

func TestCheckInShortCircuitsOnUnchangedMTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	host := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(host, "f"), []byte("v1"), 0o644))

	id1, err := CheckIn(ctx, s, filepath.Join(host, "f"))
	require.NoError(t, err)

	id2, err := CheckIn(ctx, s, filepath.Join(host, "f"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestCheckOutRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	host := t.TempDir()
	writeTree(t, host)

	artifactID, err := CheckIn(ctx, s, host)
	require.NoError(t, err)

	artifactsDir := t.TempDir()
	dest, err := CheckOut(ctx, s, artifactsDir, artifactID)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(artifactsDir, artifactID.String()), dest)

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	fi, err := os.Stat(filepath.Join(dest, "sub", "run.sh"))
	require.NoError(t, err)
	require.NotZero(t, fi.Mode()&0o111)

	target, err := os.Readlink(filepath.Join(dest, "link"))
	require.NoError(t, err)
	require.Equal(t, "a.txt", target)

	epoch, err := os.Lstat(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.True(t, epoch.ModTime().Equal(Epoch))
}

func TestCheckOutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	host := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(host, "f"), []byte("data"), 0o644))
	artifactID, err := CheckIn(ctx, s, host)
	require.NoError(t, err)

	artifactsDir := t.TempDir()
	dest1, err := CheckOut(ctx, s, artifactsDir, artifactID)
	require.NoError(t, err)
	dest2, err := CheckOut(ctx, s, artifactsDir, artifactID)
	require.NoError(t, err)
	require.Equal(t, dest1, dest2)
}

func TestBundleFlattensReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	refHost := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(refHost, "dep.txt"), []byte("dep"), 0o644))
	refArtifact, err := CheckIn(ctx, s, refHost)
	require.NoError(t, err)

	blobID, err := s.PutObject(ctx, object.Leaf{Data: []byte("#!/bin/sh\n")})
	require.NoError(t, err)
	fileWithRef := object.File{Blob: blobID, Executable: true, References: []id.ID{refArtifact}}
	fileID, err := s.PutObject(ctx, fileWithRef)
	require.NoError(t, err)

	dir := object.Directory{Entries: map[string]id.ID{"run": fileID}}
	rootID, err := s.PutObject(ctx, dir)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Bundle(ctx, s, rootID, filepath.Join(dest, "out")))

	_, err = os.Stat(filepath.Join(dest, "out", "run"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "out", ".tangram", "artifacts", refArtifact.String(), "dep.txt"))
	require.NoError(t, err)
}
