package object

import (
	"strings"
	"testing"

	"tangram/internal/checksum"
	"tangram/internal/id"
	"tangram/internal/template"
	"tangram/internal/value"
)

func roundTrip(t *testing.T, o Object) Object {
	t.Helper()
	data := Marshal(o)
	got, err := Parse(o.Kind(), data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ID(got) != ID(o) {
		t.Fatalf("round trip changed ID: %v != %v", ID(got), ID(o))
	}
	if Marshal(got) == nil {
		t.Fatal("re-marshal produced nil")
	}
	if string(Marshal(got)) != string(data) {
		t.Fatalf("re-marshal mismatch:\n%x\n%x", Marshal(got), data)
	}
	return got
}

func TestLeafRoundTrip(t *testing.T) {
	roundTrip(t, Leaf{Data: []byte("hello world")})
}

func TestDirectoryRoundTrip(t *testing.T) {
	child := ID(Leaf{Data: []byte("x")})
	roundTrip(t, Directory{Entries: map[string]id.ID{"a": child, "b": child}})
}

func TestDirectoryChildrenSorted(t *testing.T) {
	a := ID(Leaf{Data: []byte("a")})
	b := ID(Leaf{Data: []byte("b")})
	d := Directory{Entries: map[string]id.ID{"z": a, "a": b}}
	children := d.Children()
	if len(children) != 2 || children[0] != b || children[1] != a {
		t.Fatalf("expected sorted-by-name children, got %v", children)
	}
}

func TestFileRoundTrip(t *testing.T) {
	blob := ID(Leaf{Data: []byte("data")})
	ref := ID(Leaf{Data: []byte("ref")})
	f := File{Blob: blob, Executable: true, References: []id.ID{ref}}
	got := roundTrip(t, f).(File)
	if !got.Executable || got.Blob != blob || len(got.References) != 1 {
		t.Fatalf("unexpected round-tripped file: %+v", got)
	}
}

func TestSymlinkRoundTrip(t *testing.T) {
	art := ID(Leaf{Data: []byte("target")})
	tmpl := template.New(template.Lit("../"), template.Art(art), template.Hole("output"))
	got := roundTrip(t, Symlink{Template: tmpl}).(Symlink)
	if len(got.Template.Components) != 3 {
		t.Fatalf("expected 3 components, got %d", len(got.Template.Components))
	}
}

func TestTargetRoundTrip(t *testing.T) {
	pkg := ID(Leaf{Data: []byte("pkg")})
	tgt := Target{
		Package:    pkg,
		ModulePath: "mod.ts",
		Name:       "build",
		Env:        map[string]value.Value{"FOO": value.NewString("bar")},
		Args:       []value.Value{value.NewNumber(42), value.NewBool(true)},
	}
	got := roundTrip(t, tgt).(Target)
	if got.Name != "build" || len(got.Args) != 2 {
		t.Fatalf("unexpected round-tripped target: %+v", got)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	c, _ := checksum.Parse("sha256:" + strings.Repeat("0", 64))
	task := Task{
		System:     "x86_64-linux",
		Executable: template.New(template.Lit("/bin/sh")),
		Env:        map[string]template.Template{"HOME": template.New(template.Lit("/tmp"))},
		Args:       []template.Template{template.New(template.Lit("-c")), template.New(template.Lit("echo hi"))},
		Checksum:   &c,
		Network:    true,
		HostPaths:  []string{"/usr/bin"},
	}
	got := roundTrip(t, task).(Task)
	if got.System != "x86_64-linux" || !got.Network || len(got.Args) != 2 {
		t.Fatalf("unexpected round-tripped task: %+v", got)
	}
}

func TestResourceRoundTrip(t *testing.T) {
	c, _ := checksum.Parse("sha256:" + strings.Repeat("1", 64))
	r := Resource{URL: "https://example.test/data", Checksum: &c}
	got := roundTrip(t, r).(Resource)
	if got.URL != r.URL {
		t.Fatalf("unexpected round-tripped resource: %+v", got)
	}
}

func TestBuildRoundTrip(t *testing.T) {
	op := ID(Leaf{Data: []byte("op")})
	logBlob := ID(Leaf{Data: []byte("log")})
	child := ID(Leaf{Data: []byte("child")})
	b := Build{
		Operation: op,
		Children_: []id.ID{child},
		LogBlob:   logBlob,
		Result:    Result{OK: true, Value: value.NewString("hello")},
	}
	got := roundTrip(t, b).(Build)
	if got.Result.Value.String() != "hello" {
		t.Fatalf("unexpected round-tripped build: %+v", got)
	}
}
