package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tangram/internal/id"
	"tangram/internal/store"
	"tangram/internal/terror"
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
	}, 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWatcherInvalidatesTrackerOnModification(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := t.TempDir()
	path := filepath.Join(host, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	art := id.New(id.KindDirectory, []byte("a"))
	require.NoError(t, s.SetTracker(ctx, path, store.Tracker{ArtifactID: &art}))

	w, err := New(s)
	require.NoError(t, err)
	require.NoError(t, w.Watch(path))
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		_, err := s.GetTracker(ctx, path)
		return terror.Is(err, terror.NotFound)
	}, 2*time.Second, 10*time.Millisecond)
}
