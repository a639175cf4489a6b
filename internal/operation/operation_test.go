package operation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/store"
	"tangram/internal/template"
	"tangram/internal/value"
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

func testPackage(t *testing.T, s *store.Store) id.ID {
	t.Helper()
	pkgID, err := s.PutObject(context.Background(), object.Directory{Entries: map[string]id.ID{}})
	require.NoError(t, err)
	return pkgID
}

func TestNewTargetRejectsEmptyName(t *testing.T) {
	s := newTestStore(t)
	pkg := testPackage(t, s)
	_, err := NewTarget(context.Background(), s, pkg, "./tangram.ts", "", nil, nil)
	require.Error(t, err)
}

func TestNewTargetStoresAndRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pkg := testPackage(t, s)

	op, err := NewTarget(ctx, s, pkg, "./tangram.ts", "build", map[string]value.Value{"x": value.NewNumber(1)}, []value.Value{value.NewString("hi")})
	require.NoError(t, err)
	require.Equal(t, id.KindTarget, op.Kind)

	o, _, err := Get(ctx, s, op.ID)
	require.NoError(t, err)
	target := o.(object.Target)
	require.Equal(t, "build", target.Name)
	require.Equal(t, pkg, target.Package)
}

func TestNewResourceRequiresChecksumUnlessUnsafe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := NewResource(ctx, s, "https://example.com/file", "", nil, false)
	require.Error(t, err)

	sum, err := checksum.Parse("sha256:" + strings.Repeat("a", 64))
	require.NoError(t, err)
	op, err := NewResource(ctx, s, "https://example.com/file", "", &sum, false)
	require.NoError(t, err)
	require.Equal(t, id.KindResource, op.Kind)

	op2, err := NewResource(ctx, s, "https://example.com/file", "", nil, true)
	require.NoError(t, err)
	require.Equal(t, id.KindResource, op2.Kind)
}

func TestNewTaskRejectsNetworkWithoutChecksumOrUnsafe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := NewTask(ctx, s, TaskSpec{
		System:     "x86_64-linux",
		Executable: template.New(template.Lit("/bin/sh")),
		Network:    true,
	})
	require.Error(t, err)

	op, err := NewTask(ctx, s, TaskSpec{
		System:     "x86_64-linux",
		Executable: template.New(template.Lit("/bin/sh")),
		Network:    true,
		Unsafe:     true,
	})
	require.NoError(t, err)
	require.Equal(t, id.KindTask, op.Kind)
}

func TestNewTaskAllowsNoEscapeWithoutChecksum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op, err := NewTask(ctx, s, TaskSpec{
		System:     "x86_64-linux",
		Executable: template.New(template.Lit("/bin/sh")),
		Args:       []template.Template{template.New(template.Lit("-c"), template.Lit("echo hi"))},
	})
	require.NoError(t, err)
	require.Equal(t, id.KindTask, op.Kind)
}
