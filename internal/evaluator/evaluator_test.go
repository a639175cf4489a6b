package evaluator

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tangram/internal/blob"
	"tangram/internal/checksum"
	"tangram/internal/config"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/sandbox"
	"tangram/internal/store"
	"tangram/internal/template"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{DataDir: dir, FDBudget: 16}
	paths := cfg.Paths()
	s, err := store.Open(store.Paths(paths), cfg.FDBudget)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return New(s, cfg, sandbox.Unavailable("test"), zap.NewNop())
}

func TestEvaluateDetectsCycle(t *testing.T) {
	e := newTestEvaluator(t)
	opID := id.New(id.KindResource, []byte("self-referential"))

	ctx := withAncestor(context.Background(), opID)
	_, err := e.Evaluate(ctx, opID)
	require.Error(t, err)
}

func TestEvaluateResourceFetchesChecksumsAndMemoizes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("hello\n"))
	}))
	defer srv.Close()

	e := newTestEvaluator(t)
	ctx := context.Background()

	w, err := checksum.NewWriter(checksum.SHA256, nil)
	require.NoError(t, err)
	w.Write([]byte("hello\n"))
	sum := w.Sum()

	opID, err := e.store.PutObject(ctx, object.Resource{URL: srv.URL, Checksum: &sum})
	require.NoError(t, err)

	result, err := e.Evaluate(ctx, opID)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))

	fileObj, err := e.store.GetObject(ctx, result.Ref())
	require.NoError(t, err)
	file, ok := fileObj.(object.File)
	require.True(t, ok)
	data, err := blob.Bytes(ctx, e.store, file.Blob)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))

	// Second evaluation must hit the durable assignment, not refetch.
	result2, err := e.Evaluate(ctx, opID)
	require.NoError(t, err)
	require.Equal(t, result.Ref(), result2.Ref())
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestEvaluateResourceChecksumMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unexpected"))
	}))
	defer srv.Close()

	e := newTestEvaluator(t)
	ctx := context.Background()

	badSum := checksum.Checksum{Algorithm: checksum.SHA256, Digest: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}
	opID, err := e.store.PutObject(ctx, object.Resource{URL: srv.URL, Checksum: &badSum})
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, opID)
	require.Error(t, err)
}

func TestEvaluateDedupesConcurrentCalls(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	e := newTestEvaluator(t)
	ctx := context.Background()
	opID, err := e.store.PutObject(ctx, object.Resource{URL: srv.URL})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Evaluate(ctx, opID)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestEvaluateTaskRunsUnderSandboxUnavailableFailsClosed(t *testing.T) {
	e := newTestEvaluator(t)
	ctx := context.Background()

	task := object.Task{
		System:     e.cfg.Sandbox.DefaultSystem,
		Executable: template.New(template.Lit("/bin/true")),
	}
	opID, err := e.store.PutObject(ctx, task)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, opID)
	require.Error(t, err)
}

// fakeSandbox is a test double that returns a fixed Result/error pair
// without running anything, for exercising evaluateTask's handling of
// sandbox.Incomplete versus a fatal error.
type fakeSandbox struct {
	result sandbox.Result
	err    error
}

func (f fakeSandbox) Run(context.Context, sandbox.Spec) (sandbox.Result, error) {
	return f.result, f.err
}

func TestEvaluateTaskUnsafeDoesNotBypassLaunchFailure(t *testing.T) {
	e := newTestEvaluator(t)
	ctx := context.Background()

	task := object.Task{
		System:     e.cfg.Sandbox.DefaultSystem,
		Executable: template.New(template.Lit("/bin/true")),
		Unsafe:     true,
	}
	opID, err := e.store.PutObject(ctx, task)
	require.NoError(t, err)

	// Unsafe governs checksum/network policy (spec §3), not sandbox
	// tolerance: a total launch failure must still fail the build.
	_, err = e.Evaluate(ctx, opID)
	require.Error(t, err)
}

func TestEvaluateTaskToleratesIncompleteSandbox(t *testing.T) {
	e := newTestEvaluator(t)
	e.sandbox = fakeSandbox{
		result: sandbox.Result{ExitCode: 0},
		err:    &sandbox.Incomplete{Path: "/etc/resolv.conf", Cause: errors.New("permission denied")},
	}
	ctx := context.Background()

	task := object.Task{
		System:     e.cfg.Sandbox.DefaultSystem,
		Executable: template.New(template.Lit("/bin/true")),
	}
	opID, err := e.store.PutObject(ctx, task)
	require.NoError(t, err)

	_, err = e.Evaluate(ctx, opID)
	require.NoError(t, err)
}

func TestResolveEntryWalksNestedDirectories(t *testing.T) {
	e := newTestEvaluator(t)
	ctx := context.Background()

	leafBlob, err := blob.New(ctx, e.store, bytes.NewReader([]byte("hi")))
	require.NoError(t, err)
	leafFile, err := e.store.PutObject(ctx, object.File{Blob: leafBlob})
	require.NoError(t, err)
	inner, err := e.store.PutObject(ctx, object.Directory{Entries: map[string]id.ID{"b.txt": leafFile}})
	require.NoError(t, err)
	root, err := e.store.PutObject(ctx, object.Directory{Entries: map[string]id.ID{"sub": inner}})
	require.NoError(t, err)

	got, err := resolveEntry(ctx, e.store, root, filepath.Join("sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, leafFile, got)
}
