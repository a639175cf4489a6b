package evaluator

import (
	"bytes"
	"context"

	"tangram/internal/artifact"
	"tangram/internal/blob"
	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/runtime"
	"tangram/internal/terror"
	"tangram/internal/value"
)

// evalHost adapts one running operation's Evaluator + logBuilder into the
// runtime.Host surface the scripting isolate's syscall bridge calls into
// (spec §4.5.4). A fresh evalHost is created per Target dispatch; it carries
// no state beyond what that one dispatch needs.
type evalHost struct {
	e   *Evaluator
	ctx context.Context // ancestor-tagged context established by run()
	log *logBuilder

	currentModule string
}

var _ runtime.Host = (*evalHost)(nil)

func (h *evalHost) Log(_ context.Context, line string) error {
	h.log.appendLine(line)
	h.e.log.Sugar().Debug(line)
	return nil
}

func (h *evalHost) BlobNew(ctx context.Context, data []byte) (id.ID, error) {
	return blob.New(ctx, h.e.store, bytes.NewReader(data))
}

func (h *evalHost) BlobBytes(ctx context.Context, blobID id.ID) ([]byte, error) {
	return blob.Bytes(ctx, h.e.store, blobID)
}

func (h *evalHost) BlobText(ctx context.Context, blobID id.ID) (string, error) {
	return blob.Text(ctx, h.e.store, blobID)
}

func (h *evalHost) ArtifactBundle(ctx context.Context, artifactID id.ID, destDir string) error {
	return artifact.Bundle(ctx, h.e.store, artifactID, destDir)
}

// ArtifactGet introspects artifactID and returns a script-observable
// summary: a directory's entry names, a file's blob/executable bit, or a
// symlink's template (spec §4.5.4 artifact_get).
func (h *evalHost) ArtifactGet(ctx context.Context, artifactID id.ID) (value.Value, error) {
	obj, err := h.e.store.GetObject(ctx, artifactID)
	if err != nil {
		return value.Value{}, err
	}
	switch o := obj.(type) {
	case object.Directory:
		entries := make(map[string]value.Value, len(o.Entries))
		for name, childID := range o.Entries {
			entries[name] = value.NewArtifact(childID)
		}
		return value.NewMap(map[string]value.Value{
			"kind":    value.NewString("directory"),
			"entries": value.NewMap(entries),
		}), nil
	case object.File:
		refs := make([]value.Value, len(o.References))
		for i, r := range o.References {
			refs[i] = value.NewArtifact(r)
		}
		return value.NewMap(map[string]value.Value{
			"kind":       value.NewString("file"),
			"blob":       value.NewBlob(o.Blob),
			"executable": value.NewBool(o.Executable),
			"references": value.NewArray(refs),
		}), nil
	case object.Symlink:
		return value.NewMap(map[string]value.Value{
			"kind":     value.NewString("symlink"),
			"template": value.NewTemplate(o.Template),
		}), nil
	default:
		return value.Value{}, terror.New(terror.Invalid, "%s is not an artifact", artifactID)
	}
}

func (h *evalHost) DirectoryNew(ctx context.Context, entries map[string]id.ID) (id.ID, error) {
	return h.e.store.PutObject(ctx, object.Directory{Entries: entries})
}

func (h *evalHost) FileNew(ctx context.Context, blobID id.ID, executable bool, refs []id.ID) (id.ID, error) {
	return h.e.store.PutObject(ctx, object.File{Blob: blobID, Executable: executable, References: refs})
}

func (h *evalHost) SymlinkNew(ctx context.Context, rendered value.Value) (id.ID, error) {
	if rendered.Kind() != value.Template {
		return id.ID{}, terror.New(terror.Invalid, "symlink_new: argument is not a template")
	}
	return h.e.store.PutObject(ctx, object.Symlink{Template: rendered.TemplateValue()})
}

func (h *evalHost) TargetNew(ctx context.Context, pkg id.ID, modulePath, name string, env map[string]value.Value, args []value.Value) (id.ID, error) {
	return h.e.store.PutObject(ctx, object.Target{
		Package:    pkg,
		ModulePath: modulePath,
		Name:       name,
		Env:        env,
		Args:       args,
	})
}

func (h *evalHost) TaskNew(ctx context.Context, spec value.Value) (id.ID, error) {
	t, err := taskFromValue(spec)
	if err != nil {
		return id.ID{}, err
	}
	return h.e.store.PutObject(ctx, t)
}

func (h *evalHost) ResourceNew(ctx context.Context, url, unpack string, sum *checksum.Checksum, unsafe bool) (id.ID, error) {
	return h.e.store.PutObject(ctx, object.Resource{URL: url, Unpack: unpack, Checksum: sum, Unsafe: unsafe})
}

func (h *evalHost) OperationGet(ctx context.Context, opID id.ID) (value.Value, error) {
	obj, err := h.e.store.GetObject(ctx, opID)
	if err != nil {
		return value.Value{}, err
	}
	switch op := obj.(type) {
	case object.Target:
		return value.NewMap(map[string]value.Value{
			"kind":        value.NewString("target"),
			"package":     value.NewArtifact(op.Package),
			"module_path": value.NewString(op.ModulePath),
			"name":        value.NewString(op.Name),
		}), nil
	case object.Task:
		return value.NewMap(map[string]value.Value{
			"kind":    value.NewString("task"),
			"system":  value.NewString(op.System),
			"network": value.NewBool(op.Network),
		}), nil
	case object.Resource:
		return value.NewMap(map[string]value.Value{
			"kind": value.NewString("resource"),
			"url":  value.NewString(op.URL),
		}), nil
	default:
		return value.Value{}, terror.New(terror.Invalid, "%s is not an operation", opID)
	}
}

// OperationEvaluate recurses into the evaluator for a script-composed build
// (spec §4.4 "the function may itself call evaluate"), reusing the same
// ancestor-tagged context so cycle detection sees the full call chain.
func (h *evalHost) OperationEvaluate(ctx context.Context, opID id.ID) (value.Value, error) {
	h.log.addChild(opID)
	return h.e.Evaluate(h.ctx, opID)
}

func (h *evalHost) Checksum(_ context.Context, algo checksum.Algorithm, data []byte) (checksum.Checksum, error) {
	w, err := checksum.NewWriter(algo, nil)
	if err != nil {
		return checksum.Checksum{}, err
	}
	if _, err := w.Write(data); err != nil {
		return checksum.Checksum{}, err
	}
	return w.Sum(), nil
}

func (h *evalHost) StackFrame(_ context.Context, index int) (runtime.Frame, error) {
	if index != 0 {
		return runtime.Frame{}, terror.New(terror.NotFound, "no stack frame at index %d", index)
	}
	return runtime.Frame{Module: h.currentModule}, nil
}

func (h *evalHost) ModuleSource(ctx context.Context, pkg id.ID, modulePath string) ([]byte, string, error) {
	entryID, err := resolveEntry(ctx, h.e.store, pkg, modulePath)
	if err != nil {
		return nil, "", err
	}
	data, err := readFileArtifact(ctx, h.e.store, entryID)
	if err != nil {
		return nil, "", err
	}
	return data, moduleExtension(modulePath), nil
}

func (h *evalHost) ResolveDependency(ctx context.Context, pkg id.ID, name string) (id.ID, bool, error) {
	manifest, err := loadManifest(ctx, h.e.store, pkg)
	if err != nil {
		return id.ID{}, false, err
	}
	raw, ok := manifest.Dependencies[name]
	if !ok {
		return id.ID{}, false, nil
	}
	depID, err := id.Parse(raw)
	if err != nil {
		return id.ID{}, false, terror.Wrap(terror.Invalid, err, "package %s dependency %q", pkg, name)
	}
	return depID, true, nil
}

func (h *evalHost) IncludePath(ctx context.Context, pkg id.ID, relPath string) (id.ID, error) {
	return resolveEntry(ctx, h.e.store, pkg, relPath)
}
