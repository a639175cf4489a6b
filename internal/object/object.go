// Package object implements the data model of spec §3: the sum over object
// kinds, each serializing to a versioned, tagged byte string, each exposing
// the children() operator the store uses to enforce referential integrity
// (spec I1).
package object

import (
	"fmt"
	"sort"

	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/template"
	"tangram/internal/value"
)

// Object is implemented by every stored object kind.
type Object interface {
	Kind() id.Kind
	// Children returns every ID this object directly references. The store
	// refuses to persist an object until all of these already exist
	// (spec I1, I3).
	Children() []id.ID
}

// Marshal serializes o into its canonical byte form (version + tagged
// fields). ID(o) == id.New(o.Kind(), Marshal(o)) always holds (spec I2).
func Marshal(o Object) []byte {
	switch v := o.(type) {
	case Leaf:
		return marshalLeaf(v)
	case Branch:
		return marshalBranch(v)
	case Directory:
		return marshalDirectory(v)
	case File:
		return marshalFile(v)
	case Symlink:
		return marshalSymlink(v)
	case Target:
		return marshalTarget(v)
	case Task:
		return marshalTask(v)
	case Resource:
		return marshalResource(v)
	case Build:
		return marshalBuild(v)
	default:
		panic(fmt.Sprintf("object: unhandled type %T", o))
	}
}

// ID computes the content ID of o (spec I2).
func ID(o Object) id.ID {
	return id.New(o.Kind(), Marshal(o))
}

// Parse decodes data (as produced by Marshal) given its expected kind.
func Parse(kind id.Kind, data []byte) (Object, error) {
	switch kind {
	case id.KindLeaf:
		return unmarshalLeaf(data)
	case id.KindBranch:
		return unmarshalBranch(data)
	case id.KindDirectory:
		return unmarshalDirectory(data)
	case id.KindFile:
		return unmarshalFile(data)
	case id.KindSymlink:
		return unmarshalSymlink(data)
	case id.KindTarget:
		return unmarshalTarget(data)
	case id.KindTask:
		return unmarshalTask(data)
	case id.KindResource:
		return unmarshalResource(data)
	case id.KindBuild:
		return unmarshalBuild(data)
	default:
		return nil, fmt.Errorf("object: unsupported kind %s", kind)
	}
}

// ---- Leaf ----

// Leaf is a bounded-size byte blob (spec §3, MAX_LEAF in internal/blob).
type Leaf struct {
	Data []byte
}

func (Leaf) Kind() id.Kind     { return id.KindLeaf }
func (Leaf) Children() []id.ID { return nil }

const leafData byte = 1

func marshalLeaf(l Leaf) []byte {
	e := newFieldEncoder()
	e.bytes(leafData, l.Data)
	return e.finish()
}

func unmarshalLeaf(data []byte) (Leaf, error) {
	d, err := decodeFields(data)
	if err != nil {
		return Leaf{}, err
	}
	raw, _ := d.last(leafData)
	return Leaf{Data: raw}, nil
}

// ---- Branch ----

// BranchChild is one entry of a Branch's ordered child list.
type BranchChild struct {
	ID   id.ID
	Size uint64
}

// Branch is an ordered list of (child, size) pairs, fan-out <= MAX_FANOUT
// (spec §3).
type Branch struct {
	Children_ []BranchChild
}

func (Branch) Kind() id.Kind { return id.KindBranch }
func (b Branch) Children() []id.ID {
	out := make([]id.ID, len(b.Children_))
	for i, c := range b.Children_ {
		out[i] = c.ID
	}
	return out
}

const (
	branchChild     byte = 1
	branchChildID   byte = 1
	branchChildSize byte = 2
)

func marshalBranch(b Branch) []byte {
	e := newFieldEncoder()
	for _, c := range b.Children_ {
		ce := newFieldEncoder()
		ce.bytes(branchChildID, c.ID.Raw())
		ce.uvarint(branchChildSize, c.Size)
		e.bytes(branchChild, ce.finish())
	}
	return e.finish()
}

func unmarshalBranch(data []byte) (Branch, error) {
	d, err := decodeFields(data)
	if err != nil {
		return Branch{}, err
	}
	var out []BranchChild
	for _, raw := range d.all(branchChild) {
		cd, err := decodeFields(raw)
		if err != nil {
			return Branch{}, err
		}
		idRaw, _ := cd.last(branchChildID)
		cid, err := id.FromRaw(idRaw)
		if err != nil {
			return Branch{}, err
		}
		out = append(out, BranchChild{ID: cid, Size: cd.uvarint(branchChildSize)})
	}
	return Branch{Children_: out}, nil
}

// ---- Directory ----

// Directory maps a single path component to a child artifact ID. Insertion
// order is irrelevant (spec §3); entries are emitted sorted by name so the
// canonical form is deterministic regardless of map iteration order.
type Directory struct {
	Entries map[string]id.ID
}

func (Directory) Kind() id.Kind { return id.KindDirectory }
func (d Directory) Children() []id.ID {
	names := make([]string, 0, len(d.Entries))
	for n := range d.Entries {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]id.ID, len(names))
	for i, n := range names {
		out[i] = d.Entries[n]
	}
	return out
}

const (
	dirEntry     byte = 1
	dirEntryName byte = 1
	dirEntryID   byte = 2
)

func marshalDirectory(dir Directory) []byte {
	e := newFieldEncoder()
	names := make([]string, 0, len(dir.Entries))
	for n := range dir.Entries {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		ee := newFieldEncoder()
		ee.str(dirEntryName, n)
		ee.bytes(dirEntryID, dir.Entries[n].Raw())
		e.bytes(dirEntry, ee.finish())
	}
	return e.finish()
}

func unmarshalDirectory(data []byte) (Directory, error) {
	d, err := decodeFields(data)
	if err != nil {
		return Directory{}, err
	}
	entries := make(map[string]id.ID)
	for _, raw := range d.all(dirEntry) {
		ed, err := decodeFields(raw)
		if err != nil {
			return Directory{}, err
		}
		idRaw, _ := ed.last(dirEntryID)
		cid, err := id.FromRaw(idRaw)
		if err != nil {
			return Directory{}, err
		}
		entries[ed.str(dirEntryName)] = cid
	}
	return Directory{Entries: entries}, nil
}

// ---- File ----

// File is a blob reference, an executable bit, and the artifacts this file
// transitively depends on at runtime (spec §3, I6).
type File struct {
	Blob       id.ID
	Executable bool
	References []id.ID
}

func (File) Kind() id.Kind { return id.KindFile }
func (f File) Children() []id.ID {
	out := make([]id.ID, 0, 1+len(f.References))
	out = append(out, f.Blob)
	out = append(out, f.References...)
	return out
}

const (
	fileBlob       byte = 1
	fileExecutable byte = 2
	fileReference  byte = 3
)

func marshalFile(f File) []byte {
	e := newFieldEncoder()
	e.bytes(fileBlob, f.Blob.Raw())
	e.boolean(fileExecutable, f.Executable)
	for _, r := range f.References {
		e.bytes(fileReference, r.Raw())
	}
	return e.finish()
}

func unmarshalFile(data []byte) (File, error) {
	d, err := decodeFields(data)
	if err != nil {
		return File{}, err
	}
	blobRaw, _ := d.last(fileBlob)
	blob, err := id.FromRaw(blobRaw)
	if err != nil {
		return File{}, err
	}
	var refs []id.ID
	for _, raw := range d.all(fileReference) {
		r, err := id.FromRaw(raw)
		if err != nil {
			return File{}, err
		}
		refs = append(refs, r)
	}
	return File{Blob: blob, Executable: d.boolean(fileExecutable), References: refs}, nil
}

// ---- Symlink ----

// Symlink renders a template to produce its link target (spec §3).
type Symlink struct {
	Template template.Template
}

func (Symlink) Kind() id.Kind       { return id.KindSymlink }
func (s Symlink) Children() []id.ID { return s.Template.Children() }

const symlinkTemplate byte = 1

func marshalSymlink(s Symlink) []byte {
	e := newFieldEncoder()
	e.bytes(symlinkTemplate, encodeTemplate(s.Template))
	return e.finish()
}

func unmarshalSymlink(data []byte) (Symlink, error) {
	d, err := decodeFields(data)
	if err != nil {
		return Symlink{}, err
	}
	raw, _ := d.last(symlinkTemplate)
	t, err := decodeTemplate(raw)
	if err != nil {
		return Symlink{}, err
	}
	return Symlink{Template: t}, nil
}

// ---- Target ----

// Target invokes `name` in the module at `package/module_path` (spec §3).
type Target struct {
	Package    id.ID
	ModulePath string
	Name       string
	Env        map[string]value.Value
	Args       []value.Value
}

func (Target) Kind() id.Kind { return id.KindTarget }
func (t Target) Children() []id.ID {
	out := []id.ID{t.Package}
	for _, k := range sortedKeys(t.Env) {
		out = append(out, t.Env[k].Children()...)
	}
	for _, a := range t.Args {
		out = append(out, a.Children()...)
	}
	return out
}

const (
	targetPackage    byte = 1
	targetModulePath byte = 2
	targetName       byte = 3
	targetEnvKey     byte = 4
	targetEnvVal     byte = 5
	targetArg        byte = 6
)

func marshalTarget(t Target) []byte {
	e := newFieldEncoder()
	e.bytes(targetPackage, t.Package.Raw())
	e.str(targetModulePath, t.ModulePath)
	e.str(targetName, t.Name)
	for _, k := range sortedKeys(t.Env) {
		e.str(targetEnvKey, k)
		e.bytes(targetEnvVal, encodeValue(t.Env[k]))
	}
	for _, a := range t.Args {
		e.bytes(targetArg, encodeValue(a))
	}
	return e.finish()
}

func unmarshalTarget(data []byte) (Target, error) {
	d, err := decodeFields(data)
	if err != nil {
		return Target{}, err
	}
	pkgRaw, _ := d.last(targetPackage)
	pkg, err := id.FromRaw(pkgRaw)
	if err != nil {
		return Target{}, err
	}
	keys := d.all(targetEnvKey)
	vals := d.all(targetEnvVal)
	if len(keys) != len(vals) {
		return Target{}, fmt.Errorf("object: target env key/value count mismatch")
	}
	env := make(map[string]value.Value, len(keys))
	for i, k := range keys {
		v, err := decodeValue(vals[i])
		if err != nil {
			return Target{}, err
		}
		env[string(k)] = v
	}
	var args []value.Value
	for _, raw := range d.all(targetArg) {
		v, err := decodeValue(raw)
		if err != nil {
			return Target{}, err
		}
		args = append(args, v)
	}
	return Target{Package: pkg, ModulePath: d.str(targetModulePath), Name: d.str(targetName), Env: env, Args: args}, nil
}

// ---- Task ----

// Task runs an external process under an OS-specific sandbox (spec §3).
type Task struct {
	System     string
	Executable template.Template
	Env        map[string]template.Template
	Args       []template.Template
	Checksum   *checksum.Checksum
	Unsafe     bool
	Network    bool
	HostPaths  []string
}

func (Task) Kind() id.Kind { return id.KindTask }
func (t Task) Children() []id.ID {
	var out []id.ID
	out = append(out, t.Executable.Children()...)
	for _, k := range sortedTemplateKeys(t.Env) {
		out = append(out, t.Env[k].Children()...)
	}
	for _, a := range t.Args {
		out = append(out, a.Children()...)
	}
	return out
}

func sortedTemplateKeys(m map[string]template.Template) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const (
	taskSystem     byte = 1
	taskExecutable byte = 2
	taskEnvKey     byte = 3
	taskEnvVal     byte = 4
	taskArg        byte = 5
	taskChecksum   byte = 6
	taskUnsafe     byte = 7
	taskNetwork    byte = 8
	taskHostPath   byte = 9
)

func marshalTask(t Task) []byte {
	e := newFieldEncoder()
	e.str(taskSystem, t.System)
	e.bytes(taskExecutable, encodeTemplate(t.Executable))
	for _, k := range sortedTemplateKeys(t.Env) {
		e.str(taskEnvKey, k)
		e.bytes(taskEnvVal, encodeTemplate(t.Env[k]))
	}
	for _, a := range t.Args {
		e.bytes(taskArg, encodeTemplate(a))
	}
	if t.Checksum != nil {
		e.str(taskChecksum, t.Checksum.String())
	}
	e.boolean(taskUnsafe, t.Unsafe)
	e.boolean(taskNetwork, t.Network)
	for _, p := range t.HostPaths {
		e.str(taskHostPath, p)
	}
	return e.finish()
}

func unmarshalTask(data []byte) (Task, error) {
	d, err := decodeFields(data)
	if err != nil {
		return Task{}, err
	}
	exRaw, _ := d.last(taskExecutable)
	ex, err := decodeTemplate(exRaw)
	if err != nil {
		return Task{}, err
	}
	keys := d.all(taskEnvKey)
	vals := d.all(taskEnvVal)
	if len(keys) != len(vals) {
		return Task{}, fmt.Errorf("object: task env key/value count mismatch")
	}
	env := make(map[string]template.Template, len(keys))
	for i, k := range keys {
		t, err := decodeTemplate(vals[i])
		if err != nil {
			return Task{}, err
		}
		env[string(k)] = t
	}
	var args []template.Template
	for _, raw := range d.all(taskArg) {
		t, err := decodeTemplate(raw)
		if err != nil {
			return Task{}, err
		}
		args = append(args, t)
	}
	var cksum *checksum.Checksum
	if raw, ok := d.last(taskChecksum); ok && len(raw) > 0 {
		c, err := checksum.Parse(string(raw))
		if err != nil {
			return Task{}, err
		}
		cksum = &c
	}
	var hostPaths []string
	for _, raw := range d.all(taskHostPath) {
		hostPaths = append(hostPaths, string(raw))
	}
	return Task{
		System:     d.str(taskSystem),
		Executable: ex,
		Env:        env,
		Args:       args,
		Checksum:   cksum,
		Unsafe:     d.boolean(taskUnsafe),
		Network:    d.boolean(taskNetwork),
		HostPaths:  hostPaths,
	}, nil
}

// ---- Resource ----

// Resource fetches bytes from a URL under a checksum (spec §3).
type Resource struct {
	URL      string
	Unpack   string // "" if the blob itself is the result
	Checksum *checksum.Checksum
	Unsafe   bool
}

func (Resource) Kind() id.Kind     { return id.KindResource }
func (Resource) Children() []id.ID { return nil }

const (
	resourceURL      byte = 1
	resourceUnpack   byte = 2
	resourceChecksum byte = 3
	resourceUnsafe   byte = 4
)

func marshalResource(r Resource) []byte {
	e := newFieldEncoder()
	e.str(resourceURL, r.URL)
	e.str(resourceUnpack, r.Unpack)
	if r.Checksum != nil {
		e.str(resourceChecksum, r.Checksum.String())
	}
	e.boolean(resourceUnsafe, r.Unsafe)
	return e.finish()
}

func unmarshalResource(data []byte) (Resource, error) {
	d, err := decodeFields(data)
	if err != nil {
		return Resource{}, err
	}
	var cksum *checksum.Checksum
	if raw, ok := d.last(resourceChecksum); ok && len(raw) > 0 {
		c, err := checksum.Parse(string(raw))
		if err != nil {
			return Resource{}, err
		}
		cksum = &c
	}
	return Resource{
		URL:      d.str(resourceURL),
		Unpack:   d.str(resourceUnpack),
		Checksum: cksum,
		Unsafe:   d.boolean(resourceUnsafe),
	}, nil
}

// ---- Build ----

// Build is the per-evaluation record from spec §3: result, children, log.
type Build struct {
	Operation id.ID
	Children_ []id.ID
	LogBlob   id.ID
	Result    Result
}

// Result mirrors Rust's Result<value, error> as a two-armed union.
type Result struct {
	OK    bool
	Value value.Value // valid iff OK
	Err   value.Value // valid iff !OK, Kind() == value.Error
}

func (Build) Kind() id.Kind { return id.KindBuild }
func (b Build) Children() []id.ID {
	out := append([]id.ID{b.Operation, b.LogBlob}, b.Children_...)
	if b.Result.OK {
		out = append(out, b.Result.Value.Children()...)
	}
	return out
}

const (
	buildOperation byte = 1
	buildChild     byte = 2
	buildLogBlob   byte = 3
	buildResultOK  byte = 4
	buildResultVal byte = 5
)

func marshalBuild(b Build) []byte {
	e := newFieldEncoder()
	e.bytes(buildOperation, b.Operation.Raw())
	for _, c := range b.Children_ {
		e.bytes(buildChild, c.Raw())
	}
	e.bytes(buildLogBlob, b.LogBlob.Raw())
	e.boolean(buildResultOK, b.Result.OK)
	if b.Result.OK {
		e.bytes(buildResultVal, encodeValue(b.Result.Value))
	} else {
		e.bytes(buildResultVal, encodeValue(b.Result.Err))
	}
	return e.finish()
}

func unmarshalBuild(data []byte) (Build, error) {
	d, err := decodeFields(data)
	if err != nil {
		return Build{}, err
	}
	opRaw, _ := d.last(buildOperation)
	op, err := id.FromRaw(opRaw)
	if err != nil {
		return Build{}, err
	}
	var children []id.ID
	for _, raw := range d.all(buildChild) {
		c, err := id.FromRaw(raw)
		if err != nil {
			return Build{}, err
		}
		children = append(children, c)
	}
	logRaw, _ := d.last(buildLogBlob)
	logBlob, err := id.FromRaw(logRaw)
	if err != nil {
		return Build{}, err
	}
	valRaw, _ := d.last(buildResultVal)
	v, err := decodeValue(valRaw)
	if err != nil {
		return Build{}, err
	}
	res := Result{OK: d.boolean(buildResultOK)}
	if res.OK {
		res.Value = v
	} else {
		res.Err = v
	}
	return Build{Operation: op, Children_: children, LogBlob: logBlob, Result: res}, nil
}
