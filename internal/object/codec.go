package object

import (
	"fmt"
	"math"

	"tangram/internal/id"
	"tangram/internal/template"
	"tangram/internal/value"
)

// Component tags within an encoded template.Component.
const (
	tmplCompKind        byte = 1
	tmplCompLiteral     byte = 2
	tmplCompArtifact    byte = 3
	tmplCompPlaceholder byte = 4
)

func encodeComponent(c template.Component) []byte {
	e := newFieldEncoder()
	e.uvarint(tmplCompKind, uint64(c.Kind))
	switch c.Kind {
	case template.Literal:
		e.str(tmplCompLiteral, c.Literal)
	case template.Artifact:
		e.bytes(tmplCompArtifact, c.ArtifactID.Raw())
	case template.Placeholder:
		e.str(tmplCompPlaceholder, c.Placeholder)
	}
	return e.finish()
}

func decodeComponent(data []byte) (template.Component, error) {
	d, err := decodeFields(data)
	if err != nil {
		return template.Component{}, err
	}
	kind := template.ComponentKind(d.uvarint(tmplCompKind))
	switch kind {
	case template.Literal:
		return template.Lit(d.str(tmplCompLiteral)), nil
	case template.Artifact:
		raw, _ := d.last(tmplCompArtifact)
		a, err := id.FromRaw(raw)
		if err != nil {
			return template.Component{}, err
		}
		return template.Art(a), nil
	case template.Placeholder:
		return template.Hole(d.str(tmplCompPlaceholder)), nil
	default:
		return template.Component{}, fmt.Errorf("object: unknown template component kind %d", kind)
	}
}

// encodeTemplate/decodeTemplate are used wherever a Template appears nested
// in another object (Symlink.Template, Task.Executable/Env/Args).
const tmplComponent byte = 1

func encodeTemplate(t template.Template) []byte {
	e := newFieldEncoder()
	for _, c := range t.Components {
		e.bytes(tmplComponent, encodeComponent(c))
	}
	return e.finish()
}

func decodeTemplate(data []byte) (template.Template, error) {
	d, err := decodeFields(data)
	if err != nil {
		return template.Template{}, err
	}
	var comps []template.Component
	for _, raw := range d.all(tmplComponent) {
		c, err := decodeComponent(raw)
		if err != nil {
			return template.Template{}, err
		}
		comps = append(comps, c)
	}
	return template.New(comps...), nil
}

// Value codec. Tags are local to this nested encoding, distinct from the
// tags used by the enclosing object.
const (
	valKind     byte = 1
	valBool     byte = 2
	valNumber   byte = 3
	valString   byte = 4
	valBytes    byte = 5
	valRef      byte = 6
	valTmpl     byte = 7
	valElem     byte = 8 // repeated: array elements, in order
	valMapKey   byte = 9
	valMapVal   byte = 10
	valErrMsg   byte = 11
	valErrFrame byte = 12
)

func encodeValue(v value.Value) []byte {
	e := newFieldEncoder()
	e.uvarint(valKind, uint64(v.Kind()))
	switch v.Kind() {
	case value.Bool:
		e.boolean(valBool, v.Bool())
	case value.Number:
		e.bytes(valNumber, encodeFloat64(v.Number()))
	case value.String:
		e.str(valString, v.String())
	case value.Bytes:
		e.bytes(valBytes, v.BytesValue())
	case value.Artifact, value.Blob, value.Operation:
		e.bytes(valRef, v.Ref().Raw())
	case value.Template:
		e.bytes(valTmpl, encodeTemplate(v.TemplateValue()))
	case value.Array:
		for _, el := range v.Array() {
			e.bytes(valElem, encodeValue(el))
		}
	case value.Map:
		// Go map iteration order is randomized, but the canonical form (and
		// so the ID) must be stable, so keys are emitted sorted.
		for _, k := range sortedKeys(v.Map()) {
			e.str(valMapKey, k)
			e.bytes(valMapVal, encodeValue(v.Map()[k]))
		}
	case value.Error:
		se := v.ScriptError()
		e.str(valErrMsg, se.Message)
		for _, frame := range se.Stack {
			e.str(valErrFrame, frame)
		}
	}
	return e.finish()
}

func decodeValue(data []byte) (value.Value, error) {
	d, err := decodeFields(data)
	if err != nil {
		return value.Value{}, err
	}
	kind := value.Kind(d.uvarint(valKind))
	switch kind {
	case value.Null:
		return value.NewNull(), nil
	case value.Bool:
		return value.NewBool(d.boolean(valBool)), nil
	case value.Number:
		raw, _ := d.last(valNumber)
		return value.NewNumber(decodeFloat64(raw)), nil
	case value.String:
		return value.NewString(d.str(valString)), nil
	case value.Bytes:
		raw, _ := d.last(valBytes)
		return value.NewBytes(raw), nil
	case value.Artifact:
		raw, _ := d.last(valRef)
		a, err := id.FromRaw(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewArtifact(a), nil
	case value.Blob:
		raw, _ := d.last(valRef)
		b, err := id.FromRaw(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBlob(b), nil
	case value.Operation:
		raw, _ := d.last(valRef)
		op, err := id.FromRaw(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewOperation(op), nil
	case value.Template:
		raw, _ := d.last(valTmpl)
		t, err := decodeTemplate(raw)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewTemplate(t), nil
	case value.Array:
		var elems []value.Value
		for _, raw := range d.all(valElem) {
			el, err := decodeValue(raw)
			if err != nil {
				return value.Value{}, err
			}
			elems = append(elems, el)
		}
		return value.NewArray(elems), nil
	case value.Map:
		keys := d.all(valMapKey)
		vals := d.all(valMapVal)
		if len(keys) != len(vals) {
			return value.Value{}, fmt.Errorf("object: map key/value count mismatch")
		}
		m := make(map[string]value.Value, len(keys))
		for i, k := range keys {
			el, err := decodeValue(vals[i])
			if err != nil {
				return value.Value{}, err
			}
			m[string(k)] = el
		}
		return value.NewMap(m), nil
	case value.Error:
		var frames []string
		for _, f := range d.all(valErrFrame) {
			frames = append(frames, string(f))
		}
		return value.NewError(d.str(valErrMsg), frames), nil
	default:
		return value.Value{}, fmt.Errorf("object: unknown value kind %d", kind)
	}
}

func sortedKeys(m map[string]value.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func encodeFloat64(f float64) []byte {
	bits := math.Float64bits(f)
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(bits >> (8 * i))
	}
	return out
}

func decodeFloat64(b []byte) float64 {
	var bits uint64
	for i := 0; i < 8 && i < len(b); i++ {
		bits |= uint64(b[i]) << (8 * i)
	}
	return math.Float64frombits(bits)
}
