package runtime

import (
	"github.com/dop251/goja"

	"tangram/internal/id"
	"tangram/internal/template"
	"tangram/internal/terror"
	"tangram/internal/value"
)

// refTag/refField mark the plain objects used to represent artifact/blob/
// operation references inside the JS value model: {__tgRef: "artifact",
// id: "directory_..."}. goja has no notion of an opaque host handle that
// round-trips through plain JS object/array literals, so references cross
// the bridge as tagged objects (spec §4.5.4 ArgN/ResultN contract).
const (
	refTag      = "__tgRef"
	refTagArt   = "artifact"
	refTagBlob  = "blob"
	refTagOp    = "operation"
	refFieldID  = "id"
	tmplTag     = "__tgTemplate"
	tmplField   = "components"
	errTag      = "__tgError"
	errFieldMsg = "message"
	errFieldSt  = "stack"
)

// toGoja converts an internal value.Value to its goja representation.
func toGoja(vm *goja.Runtime, v value.Value) goja.Value {
	switch v.Kind() {
	case value.Null:
		return goja.Null()
	case value.Bool:
		return vm.ToValue(v.Bool())
	case value.Number:
		return vm.ToValue(v.Number())
	case value.String:
		return vm.ToValue(v.String())
	case value.Bytes:
		return vm.ToValue(vm.NewArrayBuffer(v.BytesValue()))
	case value.Artifact:
		return refObject(vm, refTagArt, v.Ref())
	case value.Blob:
		return refObject(vm, refTagBlob, v.Ref())
	case value.Operation:
		return refObject(vm, refTagOp, v.Ref())
	case value.Template:
		return templateObject(vm, v.TemplateValue())
	case value.Array:
		elems := v.Array()
		out := make([]interface{}, len(elems))
		for i, e := range elems {
			out[i] = toGoja(vm, e)
		}
		return vm.ToValue(out)
	case value.Map:
		obj := vm.NewObject()
		for k, e := range v.Map() {
			obj.Set(k, toGoja(vm, e))
		}
		return obj
	case value.Error:
		se := v.ScriptError()
		obj := vm.NewObject()
		obj.Set(errTag, true)
		obj.Set(errFieldMsg, se.Message)
		stack := make([]interface{}, len(se.Stack))
		for i, s := range se.Stack {
			stack[i] = s
		}
		obj.Set(errFieldSt, stack)
		return obj
	default:
		return goja.Undefined()
	}
}

func refObject(vm *goja.Runtime, tag string, refID id.ID) goja.Value {
	obj := vm.NewObject()
	obj.Set(refTag, tag)
	obj.Set(refFieldID, refID.String())
	return obj
}

func templateObject(vm *goja.Runtime, t template.Template) goja.Value {
	obj := vm.NewObject()
	obj.Set(tmplTag, true)
	comps := make([]interface{}, len(t.Components))
	for i, c := range t.Components {
		co := vm.NewObject()
		switch c.Kind {
		case template.Literal:
			co.Set("kind", "literal")
			co.Set("literal", c.Literal)
		case template.Artifact:
			co.Set("kind", "artifact")
			co.Set("id", c.ArtifactID.String())
		case template.Placeholder:
			co.Set("kind", "placeholder")
			co.Set("placeholder", c.Placeholder)
		}
		comps[i] = co
	}
	obj.Set(tmplField, comps)
	return obj
}

// fromGoja converts a goja.Value produced by script code back into an
// internal value.Value, recognizing the tagged-object conventions toGoja
// establishes.
func fromGoja(vm *goja.Runtime, v goja.Value) (value.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return value.NewNull(), nil
	}

	obj := v.ToObject(vm)
	if obj != nil {
		if tag := obj.Get(refTag); tag != nil && !goja.IsUndefined(tag) {
			refID, err := id.Parse(obj.Get(refFieldID).String())
			if err != nil {
				return value.Value{}, terror.Wrap(terror.Script, err, "decode reference id")
			}
			switch tag.String() {
			case refTagArt:
				return value.NewArtifact(refID), nil
			case refTagBlob:
				return value.NewBlob(refID), nil
			case refTagOp:
				return value.NewOperation(refID), nil
			}
		}
		if tt := obj.Get(tmplTag); tt != nil && !goja.IsUndefined(tt) {
			return fromGojaTemplate(obj)
		}
		if et := obj.Get(errTag); et != nil && !goja.IsUndefined(et) {
			return value.NewError(obj.Get(errFieldMsg).String(), nil), nil
		}
	}

	exported := v.Export()
	return fromNative(vm, exported)
}

func fromGojaTemplate(obj *goja.Object) (value.Value, error) {
	raw := obj.Get(tmplField).Export()
	items, ok := raw.([]interface{})
	if !ok {
		return value.Value{}, terror.New(terror.Script, "template: components is not an array")
	}
	var comps []template.Component
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			return value.Value{}, terror.New(terror.Script, "template: malformed component")
		}
		switch m["kind"] {
		case "literal":
			comps = append(comps, template.Lit(asString(m["literal"])))
		case "artifact":
			refID, err := id.Parse(asString(m["id"]))
			if err != nil {
				return value.Value{}, terror.Wrap(terror.Script, err, "template component id")
			}
			comps = append(comps, template.Art(refID))
		case "placeholder":
			comps = append(comps, template.Hole(asString(m["placeholder"])))
		default:
			return value.Value{}, terror.New(terror.Script, "template: unknown component kind %v", m["kind"])
		}
	}
	return value.NewTemplate(template.New(comps...)), nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func fromNative(vm *goja.Runtime, exported interface{}) (value.Value, error) {
	switch x := exported.(type) {
	case nil:
		return value.NewNull(), nil
	case bool:
		return value.NewBool(x), nil
	case int64:
		return value.NewNumber(float64(x)), nil
	case float64:
		return value.NewNumber(x), nil
	case string:
		return value.NewString(x), nil
	case []byte:
		return value.NewBytes(x), nil
	case []interface{}:
		vals := make([]value.Value, len(x))
		for i, e := range x {
			gv := vm.ToValue(e)
			cv, err := fromGoja(vm, gv)
			if err != nil {
				return value.Value{}, err
			}
			vals[i] = cv
		}
		return value.NewArray(vals), nil
	case map[string]interface{}:
		m := make(map[string]value.Value, len(x))
		for k, e := range x {
			gv := vm.ToValue(e)
			cv, err := fromGoja(vm, gv)
			if err != nil {
				return value.Value{}, err
			}
			m[k] = cv
		}
		return value.NewMap(m), nil
	default:
		return value.Value{}, terror.New(terror.Script, "unsupported script value of Go type %T", exported)
	}
}
