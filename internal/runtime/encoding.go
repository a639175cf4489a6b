package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tangram/internal/terror"
	"tangram/internal/value"
)

// encodeJSON/decodeJSON etc. back the encoding_{json,yaml,toml}_{encode,
// decode} syscalls (spec §4.5.4): value <-> bytes/string, round-tripping
// through Go's native any-typed marshal/unmarshal and toNative/valueFromNative so
// the script-observable shape matches the rest of the value bridge.
//
// go-yaml (gopkg.in/yaml.v3) and BurntSushi/toml are both already part of
// the teacher's/pack's dependency surface (config loading in the teacher,
// BurntSushi/toml via jesseduffield-lazydocker — see DESIGN.md); there is no
// third-party JSON library anywhere in the pack, so JSON uses stdlib
// encoding/json, matching the teacher's own config/JSON handling.

func encodeJSON(v value.Value) (value.Value, error) {
	b, err := json.Marshal(toNative(v))
	if err != nil {
		return value.Value{}, terror.Wrap(terror.Invalid, err, "encoding_json_encode")
	}
	return value.NewString(string(b)), nil
}

func decodeJSON(text string) (value.Value, error) {
	var out interface{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return value.Value{}, terror.Wrap(terror.Invalid, err, "encoding_json_decode")
	}
	return valueFromNative(out), nil
}

func encodeYAML(v value.Value) (value.Value, error) {
	b, err := yaml.Marshal(toNative(v))
	if err != nil {
		return value.Value{}, terror.Wrap(terror.Invalid, err, "encoding_yaml_encode")
	}
	return value.NewString(string(b)), nil
}

func decodeYAML(text string) (value.Value, error) {
	var out interface{}
	if err := yaml.Unmarshal([]byte(text), &out); err != nil {
		return value.Value{}, terror.Wrap(terror.Invalid, err, "encoding_yaml_decode")
	}
	return valueFromNative(normalizeYAML(out)), nil
}

// normalizeYAML rewrites yaml.v3's map[string]interface{} keys (it decodes
// mappings with string keys already for document roots, but nested generic
// decode can surface map[interface{}]interface{} in older yaml behaviors)
// into plain map[string]interface{} so valueFromNative's type switch applies
// uniformly.
func normalizeYAML(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return x
	}
}

func encodeTOML(v value.Value) (value.Value, error) {
	m, ok := toNative(v).(map[string]interface{})
	if !ok {
		return value.Value{}, terror.New(terror.Invalid, "encoding_toml_encode: value must be a map")
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return value.Value{}, terror.Wrap(terror.Invalid, err, "encoding_toml_encode")
	}
	return value.NewString(buf.String()), nil
}

func decodeTOML(text string) (value.Value, error) {
	var out map[string]interface{}
	if _, err := toml.Decode(text, &out); err != nil {
		return value.Value{}, terror.Wrap(terror.Invalid, err, "encoding_toml_decode")
	}
	return valueFromNative(out), nil
}

// toNative converts a value.Value into the plain any-typed shape
// encoding/json, yaml.v3, and BurntSushi/toml all marshal directly.
func toNative(v value.Value) interface{} {
	switch v.Kind() {
	case value.Null:
		return nil
	case value.Bool:
		return v.Bool()
	case value.Number:
		return v.Number()
	case value.String:
		return v.String()
	case value.Bytes:
		return v.BytesValue()
	case value.Array:
		elems := v.Array()
		out := make([]interface{}, len(elems))
		for i, e := range elems {
			out[i] = toNative(e)
		}
		return out
	case value.Map:
		out := make(map[string]interface{}, len(v.Map()))
		for k, e := range v.Map() {
			out[k] = toNative(e)
		}
		return out
	default:
		return nil
	}
}

// valueFromNative is toNative's inverse for plain decoded documents (json/
// yaml/toml never produce artifact/blob/operation/template/error values).
func valueFromNative(x interface{}) value.Value {
	switch t := x.(type) {
	case nil:
		return value.NewNull()
	case bool:
		return value.NewBool(t)
	case float64:
		return value.NewNumber(t)
	case int64:
		return value.NewNumber(float64(t))
	case int:
		return value.NewNumber(float64(t))
	case string:
		return value.NewString(t)
	case []byte:
		return value.NewBytes(t)
	case []interface{}:
		vals := make([]value.Value, len(t))
		for i, e := range t {
			vals[i] = valueFromNative(e)
		}
		return value.NewArray(vals)
	case map[string]interface{}:
		m := make(map[string]value.Value, len(t))
		for k, e := range t {
			m[k] = valueFromNative(e)
		}
		return value.NewMap(m)
	default:
		return value.NewNull()
	}
}
