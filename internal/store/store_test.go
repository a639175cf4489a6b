package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/terror"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Paths{
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

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	leaf := object.Leaf{Data: []byte("hello")}
	leafID, err := s.PutObject(ctx, leaf)
	require.NoError(t, err)

	ok, err := s.Exists(ctx, leafID)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := s.Get(ctx, leafID)
	require.NoError(t, err)
	require.Equal(t, object.Marshal(leaf), data)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), id.New(id.KindLeaf, []byte("nope")))
	require.True(t, terror.Is(err, terror.NotFound))
}

func TestPutMissingChildrenReturnsStructuredList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missingChild := object.ID(object.Leaf{Data: []byte("absent")})
	dir := object.Directory{Entries: map[string]id.ID{"a": missingChild}}
	dirID := object.ID(dir)

	err := s.Put(ctx, dirID, object.Marshal(dir))
	require.Error(t, err)
	require.True(t, terror.Is(err, terror.MissingChildren))
	var terr *terror.Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, []string{missingChild.String()}, terr.Missing)

	ok, err := s.Exists(ctx, dirID)
	require.NoError(t, err)
	require.False(t, ok, "directory must not be written while children are missing")
}

func TestPutSucceedsOnceChildrenUploaded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	child := object.Leaf{Data: []byte("child")}
	childID, err := s.PutObject(ctx, child)
	require.NoError(t, err)

	dir := object.Directory{Entries: map[string]id.ID{"a": childID}}
	dirID, err := s.PutObject(ctx, dir)
	require.NoError(t, err)

	ok, err := s.Exists(ctx, dirID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAssignmentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	target := id.New(id.KindTarget, []byte("t"))
	build := id.New(id.KindBuild, []byte("b"))

	_, ok, err := s.GetAssignment(ctx, target)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetAssignment(ctx, target, build))
	got, ok, err := s.GetAssignment(ctx, target)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, build, got)
}

func TestCleanDeletesUnreachable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := object.Leaf{Data: []byte("live")}
	liveID, err := s.PutObject(ctx, live)
	require.NoError(t, err)

	dead := object.Leaf{Data: []byte("dead")}
	deadID, err := s.PutObject(ctx, dead)
	require.NoError(t, err)

	deleted, err := s.Clean(ctx, []id.ID{liveID})
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	ok, err := s.Exists(ctx, liveID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Exists(ctx, deadID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTrackerInvalidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	art := id.New(id.KindDirectory, []byte("a"))
	require.NoError(t, s.SetTracker(ctx, "/repo/pkg", Tracker{ArtifactID: &art}))

	got, err := s.GetTracker(ctx, "/repo/pkg")
	require.NoError(t, err)
	require.Equal(t, art, *got.ArtifactID)

	require.NoError(t, s.DeleteTracker(ctx, "/repo/pkg"))
	_, err = s.GetTracker(ctx, "/repo/pkg")
	require.True(t, terror.Is(err, terror.NotFound))
}

func TestDeleteTrackerAncestors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTracker(ctx, "/repo", Tracker{}))
	require.NoError(t, s.SetTracker(ctx, "/repo/pkg", Tracker{}))
	require.NoError(t, s.SetTracker(ctx, "/other", Tracker{}))

	require.NoError(t, s.DeleteTrackerAncestors(ctx, "/repo/pkg/file.ts"))

	_, err := s.GetTracker(ctx, "/repo")
	require.True(t, terror.Is(err, terror.NotFound))
	_, err = s.GetTracker(ctx, "/repo/pkg")
	require.True(t, terror.Is(err, terror.NotFound))
	_, err = s.GetTracker(ctx, "/other")
	require.NoError(t, err)
}
