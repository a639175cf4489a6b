// Package value implements the script-observable value sum type from
// spec §3: null, bool, number, string, bytes, artifact, blob, template,
// operation, array, map, error. It is the currency that crosses the syscall
// bridge (internal/runtime) and appears inside a target's env/args and a
// build's result.
package value

import (
	"fmt"

	"tangram/internal/id"
	"tangram/internal/template"
)

// Kind is the tag of the Value sum type.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Bytes
	Artifact
	Blob
	Template
	Operation
	Array
	Map
	Error
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	case Artifact:
		return "artifact"
	case Blob:
		return "blob"
	case Template:
		return "template"
	case Operation:
		return "operation"
	case Array:
		return "array"
	case Map:
		return "map"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ScriptError is the payload of an Error-kind value: a script exception
// carrying a message and source-mapped stack (spec §7 Script).
type ScriptError struct {
	Message string
	Stack   []string
}

// Value is an immutable tagged union. Use the New* constructors; inspect
// with Kind() plus the matching accessor.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	by   []byte
	ref  id.ID
	tmpl template.Template
	arr  []Value
	m    map[string]Value
	err  *ScriptError
}

func NewNull() Value                        { return Value{kind: Null} }
func NewBool(b bool) Value                  { return Value{kind: Bool, b: b} }
func NewNumber(n float64) Value             { return Value{kind: Number, n: n} }
func NewString(s string) Value              { return Value{kind: String, s: s} }
func NewBytes(b []byte) Value               { return Value{kind: Bytes, by: append([]byte(nil), b...)} }
func NewArtifact(a id.ID) Value             { return Value{kind: Artifact, ref: a} }
func NewBlob(b id.ID) Value                 { return Value{kind: Blob, ref: b} }
func NewTemplate(t template.Template) Value { return Value{kind: Template, tmpl: t} }
func NewOperation(op id.ID) Value           { return Value{kind: Operation, ref: op} }
func NewArray(vs []Value) Value             { return Value{kind: Array, arr: append([]Value(nil), vs...)} }
func NewMap(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: Map, m: cp}
}
func NewError(msg string, stack []string) Value {
	return Value{kind: Error, err: &ScriptError{Message: msg, Stack: stack}}
}

func (v Value) Kind() Kind                       { return v.kind }
func (v Value) Bool() bool                       { return v.b }
func (v Value) Number() float64                  { return v.n }
func (v Value) String() string                   { return v.s }
func (v Value) BytesValue() []byte               { return append([]byte(nil), v.by...) }
func (v Value) Ref() id.ID                       { return v.ref }
func (v Value) TemplateValue() template.Template { return v.tmpl }
func (v Value) Array() []Value                   { return v.arr }
func (v Value) Map() map[string]Value            { return v.m }
func (v Value) ScriptError() *ScriptError        { return v.err }

// Children returns every artifact/blob/operation ID reachable from v,
// recursing into arrays and maps. Target/task/resource construction uses
// this to compute an operation object's children() for store referential
// integrity (spec I1).
func (v Value) Children() []id.ID {
	var out []id.ID
	v.collectChildren(&out)
	return out
}

func (v Value) collectChildren(out *[]id.ID) {
	switch v.kind {
	case Artifact, Blob, Operation:
		*out = append(*out, v.ref)
	case Template:
		*out = append(*out, v.tmpl.Children()...)
	case Array:
		for _, e := range v.arr {
			e.collectChildren(out)
		}
	case Map:
		for _, e := range v.m {
			e.collectChildren(out)
		}
	}
}
