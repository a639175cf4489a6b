package object

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// version is the single version byte every serialized object starts with
// (spec §3: "one-byte version prefix followed by a length-prefixed
// structured body"). Bumping it is a breaking change; the tagged fields
// underneath are what stay forward-compatible.
const version byte = 1

// fieldEncoder builds the tagged-field body: each field is
// (tag byte, uvarint length, raw bytes). Unknown tags are skipped by
// fieldDecoder, which is what makes the format forward-compatible.
type fieldEncoder struct {
	buf bytes.Buffer
}

func newFieldEncoder() *fieldEncoder { return &fieldEncoder{} }

func (e *fieldEncoder) field(tag byte, data []byte) {
	e.buf.WriteByte(tag)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	e.buf.Write(lenBuf[:n])
	e.buf.Write(data)
}

func (e *fieldEncoder) bytes(tag byte, data []byte) { e.field(tag, data) }
func (e *fieldEncoder) str(tag byte, s string)      { e.field(tag, []byte(s)) }
func (e *fieldEncoder) uvarint(tag byte, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	e.field(tag, buf[:n])
}
func (e *fieldEncoder) boolean(tag byte, v bool) {
	if v {
		e.field(tag, []byte{1})
	} else {
		e.field(tag, []byte{0})
	}
}

// finish prepends the version byte.
func (e *fieldEncoder) finish() []byte {
	out := make([]byte, 0, 1+e.buf.Len())
	out = append(out, version)
	out = append(out, e.buf.Bytes()...)
	return out
}

// fieldDecoder parses the tagged-field body produced by fieldEncoder.
// Repeated tags are collected in order (used for fields that appear more
// than once, like directory entries or array elements), everything else is
// last-one-wins.
type fieldDecoder struct {
	fields map[byte][][]byte
}

func decodeFields(data []byte) (*fieldDecoder, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("object: empty body")
	}
	if data[0] != version {
		return nil, fmt.Errorf("object: unsupported version %d", data[0])
	}
	r := bytes.NewReader(data[1:])
	d := &fieldDecoder{fields: make(map[byte][][]byte)}
	for {
		tag, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("object: read tag: %w", err)
		}
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("object: read length: %w", err)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("object: read field %d: %w", tag, err)
		}
		d.fields[tag] = append(d.fields[tag], buf)
	}
	return d, nil
}

func (d *fieldDecoder) last(tag byte) ([]byte, bool) {
	vs := d.fields[tag]
	if len(vs) == 0 {
		return nil, false
	}
	return vs[len(vs)-1], true
}

func (d *fieldDecoder) all(tag byte) [][]byte { return d.fields[tag] }

func (d *fieldDecoder) str(tag byte) string {
	v, _ := d.last(tag)
	return string(v)
}

func (d *fieldDecoder) uvarint(tag byte) uint64 {
	v, ok := d.last(tag)
	if !ok {
		return 0
	}
	n, _ := binary.Uvarint(v)
	return n
}

func (d *fieldDecoder) boolean(tag byte) bool {
	v, ok := d.last(tag)
	return ok && len(v) == 1 && v[0] == 1
}
