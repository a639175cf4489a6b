package transpile

import (
	"encoding/json"
	"strings"
)

// identitySourceMap emits a V3 source map whose mappings are line-identity:
// each output line's first token maps back to the same line, column 0, of
// the original source. Most rewrites in this package stay within a line,
// and for them the map is exact apart from mid-line column drift, which
// spec §7 tolerates ("stack frames" resolve to a line/module, not sub-line
// precision). The interface and type-alias erasure passes remove whole
// declarations including their line breaks; every generated line after such
// a removal maps to an earlier original line than the one it came from.
//
// No source-map library is used: the VLQ encoding below is hand-written
// against the documented V3 format.
func identitySourceMap(mod Module, original, generated string) string {
	lines := strings.Count(generated, "\n") + 1
	var mappings strings.Builder
	prevSourceLine := 0
	for i := 0; i < lines; i++ {
		if i > 0 {
			mappings.WriteByte(';')
		}
		// Segment: [genCol=0, sourceIndex=0, sourceLine=delta, sourceCol=0]
		mappings.WriteString(encodeVLQ(0))
		mappings.WriteString(encodeVLQ(0))
		mappings.WriteString(encodeVLQ(i - prevSourceLine))
		mappings.WriteString(encodeVLQ(0))
		prevSourceLine = i
	}

	sm := sourceMapV3{
		Version:  3,
		Sources:  []string{mod.Path},
		Names:    []string{},
		Mappings: mappings.String(),
		File:     mod.Path + ".js",
	}
	out, _ := json.Marshal(sm)
	return string(out)
}

type sourceMapV3 struct {
	Version  int      `json:"version"`
	Sources  []string `json:"sources"`
	Names    []string `json:"names"`
	Mappings string   `json:"mappings"`
	File     string   `json:"file"`
}

const vlqBase64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// encodeVLQ encodes a single signed integer as base64-VLQ per the source
// map v3 spec: sign in the low bit, 5 data bits per digit, continuation bit
// in the high bit of each digit.
func encodeVLQ(n int) string {
	var v uint32
	if n < 0 {
		v = uint32(-n)<<1 | 1
	} else {
		v = uint32(n) << 1
	}

	var b strings.Builder
	for {
		digit := v & 0x1f
		v >>= 5
		if v > 0 {
			digit |= 0x20
		}
		b.WriteByte(vlqBase64Chars[digit])
		if v == 0 {
			break
		}
	}
	return b.String()
}
