// Package runtime implements the scripting isolate of spec §4.5: a goja
// (pure-Go ECMAScript) VM per target invocation, the tg:package/tg:lib
// module system, the syscall bridge, and the event loop driving async
// syscalls to completion.
//
// Ground: github.com/dop251/goja is the only JS engine anywhere in the
// example pack (discoverable via _examples/other_examples/manifests — no
// complete example repo imports it directly, see DESIGN.md). The isolate's
// single-owner, run-to-completion shape follows the teacher's
// internal/autopoiesis/yaegi_executor.go (a sandboxed interpreter run with a
// context deadline and panic recovery), generalized from yaegi's Go
// interpretation to goja's JS evaluation.
package runtime

import (
	"context"

	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/value"
)

// Host is the evaluator-side surface the syscall bridge dispatches into
// (spec §4.5.4). internal/evaluator implements this; runtime never imports
// evaluator directly, avoiding an import cycle.
type Host interface {
	// Log appends a line to the current build's log (spec §4.5.4 "log").
	Log(ctx context.Context, line string) error

	// BlobNew/BlobBytes/BlobText back blob_new/blob_bytes/blob_text.
	BlobNew(ctx context.Context, data []byte) (id.ID, error)
	BlobBytes(ctx context.Context, blobID id.ID) ([]byte, error)
	BlobText(ctx context.Context, blobID id.ID) (string, error)

	// ArtifactBundle/ArtifactGet back artifact_bundle/artifact_get.
	ArtifactBundle(ctx context.Context, artifactID id.ID, destDir string) error
	ArtifactGet(ctx context.Context, artifactID id.ID) (value.Value, error)

	// DirectoryNew/FileNew/SymlinkNew construct artifacts synchronously.
	DirectoryNew(ctx context.Context, entries map[string]id.ID) (id.ID, error)
	FileNew(ctx context.Context, blobID id.ID, executable bool, refs []id.ID) (id.ID, error)
	SymlinkNew(ctx context.Context, rendered value.Value) (id.ID, error)

	// TargetNew/TaskNew/ResourceNew construct operations.
	TargetNew(ctx context.Context, pkg id.ID, modulePath, name string, env map[string]value.Value, args []value.Value) (id.ID, error)
	TaskNew(ctx context.Context, spec value.Value) (id.ID, error)
	ResourceNew(ctx context.Context, url, unpack string, sum *checksum.Checksum, unsafe bool) (id.ID, error)

	// OperationGet/OperationEvaluate back operation_get/operation_evaluate.
	// OperationEvaluate is how a target's script body composes further
	// builds (spec §4.4 "the function may itself call evaluate").
	OperationGet(ctx context.Context, opID id.ID) (value.Value, error)
	OperationEvaluate(ctx context.Context, opID id.ID) (value.Value, error)

	// Checksum backs the `checksum` syscall.
	Checksum(ctx context.Context, algo checksum.Algorithm, data []byte) (checksum.Checksum, error)

	// StackFrame backs `stack_frame`: index -> {module, position, source_line}.
	StackFrame(ctx context.Context, index int) (Frame, error)

	// ModuleSource reads the bytes of a module inside a package (spec
	// §4.5.2). ext is the resolved extension including the dot.
	ModuleSource(ctx context.Context, pkg id.ID, modulePath string) (data []byte, ext string, err error)

	// ResolveDependency looks up a package's dependency map (spec §4.5.2
	// resolution rule 2): name -> package artifact ID.
	ResolveDependency(ctx context.Context, pkg id.ID, name string) (id.ID, bool, error)

	// IncludePath resolves a path relative to pkg's root directory artifact
	// to the artifact ID of whatever lives there (spec §4.5.3 tg.include).
	IncludePath(ctx context.Context, pkg id.ID, relPath string) (id.ID, error)
}

// Frame is one script stack entry, resolved through a source map.
type Frame struct {
	Module     string
	Line       int
	Column     int
	SourceLine string
}
