package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/value"
)

// fakeHost is a minimal in-memory Host for isolate tests: one module's
// source text, no dependencies, and pass-through blob/artifact construction
// that just mints IDs from the data it's given.
type fakeHost struct {
	modules map[string]string
	logs    []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{modules: map[string]string{}}
}

func (h *fakeHost) Log(_ context.Context, line string) error {
	h.logs = append(h.logs, line)
	return nil
}

func (h *fakeHost) BlobNew(_ context.Context, data []byte) (id.ID, error) {
	return id.New(id.KindLeaf, data), nil
}
func (h *fakeHost) BlobBytes(_ context.Context, blobID id.ID) ([]byte, error) {
	return blobID.Raw(), nil
}
func (h *fakeHost) BlobText(ctx context.Context, blobID id.ID) (string, error) {
	b, err := h.BlobBytes(ctx, blobID)
	return string(b), err
}
func (h *fakeHost) ArtifactBundle(context.Context, id.ID, string) error { return nil }
func (h *fakeHost) ArtifactGet(_ context.Context, artID id.ID) (value.Value, error) {
	return value.NewArtifact(artID), nil
}
func (h *fakeHost) DirectoryNew(_ context.Context, entries map[string]id.ID) (id.ID, error) {
	return id.New(id.KindDirectory, []byte{byte(len(entries))}), nil
}
func (h *fakeHost) FileNew(_ context.Context, blobID id.ID, _ bool, _ []id.ID) (id.ID, error) {
	return id.New(id.KindFile, blobID.Raw()), nil
}
func (h *fakeHost) SymlinkNew(context.Context, value.Value) (id.ID, error) {
	return id.New(id.KindSymlink, []byte("link")), nil
}
func (h *fakeHost) TargetNew(_ context.Context, _ id.ID, modulePath, name string, _ map[string]value.Value, _ []value.Value) (id.ID, error) {
	return id.New(id.KindTarget, []byte(modulePath+name)), nil
}
func (h *fakeHost) TaskNew(context.Context, value.Value) (id.ID, error) {
	return id.New(id.KindTask, []byte("task")), nil
}
func (h *fakeHost) ResourceNew(_ context.Context, url, _ string, _ *checksum.Checksum, _ bool) (id.ID, error) {
	return id.New(id.KindResource, []byte(url)), nil
}
func (h *fakeHost) OperationGet(context.Context, id.ID) (value.Value, error) {
	return value.NewNull(), nil
}
func (h *fakeHost) OperationEvaluate(context.Context, id.ID) (value.Value, error) {
	return value.NewString("evaluated"), nil
}
func (h *fakeHost) Checksum(_ context.Context, algo checksum.Algorithm, data []byte) (checksum.Checksum, error) {
	return checksum.Checksum{Algorithm: algo, Digest: "deadbeef"}, nil
}
func (h *fakeHost) StackFrame(context.Context, int) (Frame, error) {
	return Frame{Module: "tangram.ts", Line: 1}, nil
}
func (h *fakeHost) ModuleSource(_ context.Context, _ id.ID, modulePath string) ([]byte, string, error) {
	src, ok := h.modules[modulePath]
	if !ok {
		return nil, "", errNotFound(modulePath)
	}
	return []byte(src), ".ts", nil
}
func (h *fakeHost) ResolveDependency(context.Context, id.ID, string) (id.ID, bool, error) {
	return id.ID{}, false, nil
}
func (h *fakeHost) IncludePath(_ context.Context, pkg id.ID, _ string) (id.ID, error) {
	return pkg, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "module not found: " + string(e) }

func TestInvokeSyncTarget(t *testing.T) {
	host := newFakeHost()
	host.modules["tangram.ts"] = `export let add = tg.target((env, a, b) => a + b);`

	pkg := id.New(id.KindDirectory, []byte("pkg"))
	iso := New(host, pkg)

	result, err := iso.InvokeTarget(context.Background(), "tangram.ts", "add",
		[]value.Value{value.NewNumber(2), value.NewNumber(3)}, nil)
	require.NoError(t, err)
	require.Equal(t, value.Number, result.Kind())
	require.Equal(t, float64(5), result.Number())
}

func TestInvokeAsyncTargetUsingSyscall(t *testing.T) {
	host := newFakeHost()
	host.modules["tangram.ts"] = `
		export let write = tg.target(async (env, text) => {
			let blob = await syscall("blob_new", text);
			return blob;
		});
	`

	pkg := id.New(id.KindDirectory, []byte("pkg"))
	iso := New(host, pkg)

	result, err := iso.InvokeTarget(context.Background(), "tangram.ts", "write",
		[]value.Value{value.NewString("hello")}, nil)
	require.NoError(t, err)
	require.Equal(t, value.Blob, result.Kind())
}

func TestInvokeTargetLogsThroughSyscall(t *testing.T) {
	host := newFakeHost()
	host.modules["tangram.ts"] = `
		export let noisy = tg.target((env) => {
			syscall("log", "hello from script");
			return null;
		});
	`
	pkg := id.New(id.KindDirectory, []byte("pkg"))
	iso := New(host, pkg)

	_, err := iso.InvokeTarget(context.Background(), "tangram.ts", "noisy", nil, nil)
	require.NoError(t, err)
	require.Contains(t, host.logs, "hello from script")
}

func TestInvokeMissingTargetReturnsNotFound(t *testing.T) {
	host := newFakeHost()
	host.modules["tangram.ts"] = `export let present = tg.target(() => 1);`
	pkg := id.New(id.KindDirectory, []byte("pkg"))
	iso := New(host, pkg)

	_, err := iso.InvokeTarget(context.Background(), "tangram.ts", "missing", nil, nil)
	require.Error(t, err)
}
