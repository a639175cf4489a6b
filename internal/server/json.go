package server

import (
	"encoding/json"
	"net/http"

	"tangram/internal/value"
)

// lineEncoder writes one JSON value per line, flushing after each so a
// streaming client (spec §6 "Stream of child build IDs, one per line as
// JSON") sees entries as they're produced rather than buffered.
type lineEncoder struct {
	w   http.ResponseWriter
	enc *json.Encoder
	f   http.Flusher
}

func newLineEncoder(w http.ResponseWriter) *lineEncoder {
	f, _ := w.(http.Flusher)
	return &lineEncoder{w: w, enc: json.NewEncoder(w), f: f}
}

func (l *lineEncoder) encode(v interface{}) error {
	if err := l.enc.Encode(v); err != nil {
		return err
	}
	if l.f != nil {
		l.f.Flush()
	}
	return nil
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// jsonValue is the wire form of a value.Value (spec §6 "Result ... (JSON)").
// Scripts exchange the full value sum type with the daemon, but only a
// JSON-representable projection crosses the wire: refs render as their
// textual ID, bytes as base64 (via json's native []byte handling), and
// templates as their component list.
type jsonValue struct {
	Kind  string      `json:"kind"`
	Value interface{} `json:"value,omitempty"`
}

func valueToJSON(v value.Value) jsonValue {
	switch v.Kind() {
	case value.Null:
		return jsonValue{Kind: "null"}
	case value.Bool:
		return jsonValue{Kind: "bool", Value: v.Bool()}
	case value.Number:
		return jsonValue{Kind: "number", Value: v.Number()}
	case value.String:
		return jsonValue{Kind: "string", Value: v.String()}
	case value.Bytes:
		return jsonValue{Kind: "bytes", Value: v.BytesValue()}
	case value.Artifact, value.Blob, value.Operation:
		return jsonValue{Kind: v.Kind().String(), Value: v.Ref().String()}
	case value.Template:
		return jsonValue{Kind: "template", Value: v.TemplateValue()}
	case value.Array:
		arr := v.Array()
		out := make([]jsonValue, len(arr))
		for i, e := range arr {
			out[i] = valueToJSON(e)
		}
		return jsonValue{Kind: "array", Value: out}
	case value.Map:
		m := v.Map()
		out := make(map[string]jsonValue, len(m))
		for k, e := range m {
			out[k] = valueToJSON(e)
		}
		return jsonValue{Kind: "map", Value: out}
	case value.Error:
		se := v.ScriptError()
		return jsonValue{Kind: "error", Value: map[string]interface{}{
			"message": se.Message,
			"stack":   se.Stack,
		}}
	default:
		return jsonValue{Kind: "null"}
	}
}
