// Package operation provides validated constructors for the three operation
// kinds of spec §4.4 (Target, Resource, Task) and a corresponding Operation
// sum type tagged by Kind.
package operation

import (
	"context"

	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/store"
	"tangram/internal/template"
	"tangram/internal/terror"
	"tangram/internal/value"
)

// Operation is any of the three operation object kinds, plus its ID once
// stored, tagged by Kind. The evaluator does not use this type; it switches
// on the object type directly.
type Operation struct {
	ID   id.ID
	Kind id.Kind
}

// NewTarget validates and persists a Target operation (spec §3: invoking
// `name` in the module at `package/module_path`).
func NewTarget(ctx context.Context, s *store.Store, pkg id.ID, modulePath, name string, env map[string]value.Value, args []value.Value) (Operation, error) {
	if modulePath == "" {
		return Operation{}, terror.New(terror.Invalid, "target: module_path must not be empty")
	}
	if name == "" {
		return Operation{}, terror.New(terror.Invalid, "target: name must not be empty")
	}
	t := object.Target{Package: pkg, ModulePath: modulePath, Name: name, Env: env, Args: args}
	opID, err := s.PutObject(ctx, t)
	if err != nil {
		return Operation{}, err
	}
	return Operation{ID: opID, Kind: id.KindTarget}, nil
}

// NewResource validates and persists a Resource operation. Per spec §3,
// checksum is required unless unsafe is set.
func NewResource(ctx context.Context, s *store.Store, url, unpack string, sum *checksum.Checksum, unsafe bool) (Operation, error) {
	if url == "" {
		return Operation{}, terror.New(terror.Invalid, "resource: url must not be empty")
	}
	if sum == nil && !unsafe {
		return Operation{}, terror.New(terror.Invalid, "resource: checksum is required unless unsafe is set")
	}
	r := object.Resource{URL: url, Unpack: unpack, Checksum: sum, Unsafe: unsafe}
	opID, err := s.PutObject(ctx, r)
	if err != nil {
		return Operation{}, err
	}
	return Operation{ID: opID, Kind: id.KindResource}, nil
}

// TaskSpec is the validated input to NewTask; grouping the Task fields keeps
// the constructor's signature from growing unboundedly as spec fields are
// added.
type TaskSpec struct {
	System     string
	Executable template.Template
	Env        map[string]template.Template
	Args       []template.Template
	Checksum   *checksum.Checksum
	Unsafe     bool
	Network    bool
	HostPaths  []string
}

// NewTask validates and persists a Task operation. Per spec §3,
// `checksum != None ∨ unsafe` must hold whenever network is requested or
// host_paths is non-empty — a task cannot reach outside its sandbox without
// either a verifiable result or an explicit unsafe opt-out.
func NewTask(ctx context.Context, s *store.Store, spec TaskSpec) (Operation, error) {
	if spec.System == "" {
		return Operation{}, terror.New(terror.Invalid, "task: system must not be empty")
	}
	wantsEscape := spec.Network || len(spec.HostPaths) > 0
	if wantsEscape && spec.Checksum == nil && !spec.Unsafe {
		return Operation{}, terror.New(terror.Invalid,
			"task: network access or host_paths requires a checksum or unsafe")
	}
	task := object.Task{
		System:     spec.System,
		Executable: spec.Executable,
		Env:        spec.Env,
		Args:       spec.Args,
		Checksum:   spec.Checksum,
		Unsafe:     spec.Unsafe,
		Network:    spec.Network,
		HostPaths:  spec.HostPaths,
	}
	opID, err := s.PutObject(ctx, task)
	if err != nil {
		return Operation{}, err
	}
	return Operation{ID: opID, Kind: id.KindTask}, nil
}

// Get loads the operation object for opID and wraps it as an Operation,
// validating that opID is actually one of the three dispatchable kinds.
func Get(ctx context.Context, s *store.Store, opID id.ID) (object.Object, Operation, error) {
	switch opID.Kind() {
	case id.KindTarget, id.KindResource, id.KindTask:
	default:
		return nil, Operation{}, terror.New(terror.Invalid, "%s is not an operation", opID)
	}
	o, err := s.GetObject(ctx, opID)
	if err != nil {
		return nil, Operation{}, err
	}
	return o, Operation{ID: opID, Kind: opID.Kind()}, nil
}
