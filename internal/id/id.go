// Package id implements the content ID from spec §3: a one-byte kind tag
// plus a variable-length hash, with a textual form "kind_<base32>".
//
// IDs are computed from the canonical serialized bytes of an object
// (spec invariant I2): id(bytes) == hash(kind || bytes). This package only
// knows about bytes and kinds; internal/object owns canonical serialization.
package id

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
)

// Kind is the closed set of content-addressed object kinds from spec §3.
type Kind byte

const (
	KindLeaf Kind = iota + 1
	KindBranch
	KindDirectory
	KindFile
	KindSymlink
	KindLock
	KindTarget
	KindTask
	KindResource
	KindBuild
)

var kindNames = map[Kind]string{
	KindLeaf:      "leaf",
	KindBranch:    "branch",
	KindDirectory: "directory",
	KindFile:      "file",
	KindSymlink:   "symlink",
	KindLock:      "lock",
	KindTarget:    "target",
	KindTask:      "task",
	KindResource:  "resource",
	KindBuild:     "build",
}

var namesToKind = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// ParseKind returns the Kind named by s, or ok=false if s is not a known kind.
func ParseKind(s string) (Kind, bool) {
	k, ok := namesToKind[s]
	return k, ok
}

// hashSize is the digest length of the hash function backing every ID.
// sha256 is used because it is the stdlib hash the checksum subsystem
// (spec §4.4 case 2) already must support for resources, and no third-party
// content-hash library appears anywhere in the example pack (see DESIGN.md).
const hashSize = sha256.Size

// ID is an opaque, comparable content identifier: a kind tag plus a hash.
// The zero value is not a valid ID.
type ID struct {
	kind Kind
	hash [hashSize]byte
}

// New computes the ID of kind over canonical bytes data, per I2:
// id == hash(kind || data).
func New(kind Kind, data []byte) ID {
	h := sha256.New()
	h.Write([]byte{byte(kind)})
	h.Write(data)
	var sum [hashSize]byte
	copy(sum[:], h.Sum(nil))
	return ID{kind: kind, hash: sum}
}

// Kind returns the ID's kind tag.
func (id ID) Kind() Kind { return id.kind }

// IsZero reports whether id is the zero value (no object).
func (id ID) IsZero() bool { return id.kind == 0 }

// Bytes returns the raw hash bytes (without the kind tag).
func (id ID) Bytes() []byte {
	out := make([]byte, hashSize)
	copy(out, id.hash[:])
	return out
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// String renders the textual form "kind_<base32>" (spec §3).
func (id ID) String() string {
	return fmt.Sprintf("%s_%s", id.kind, strings.ToLower(b32.EncodeToString(id.hash[:])))
}

// Parse decodes the textual form produced by String.
func Parse(s string) (ID, error) {
	idx := strings.IndexByte(s, '_')
	if idx < 0 {
		return ID{}, fmt.Errorf("id: malformed %q: missing kind separator", s)
	}
	kind, ok := ParseKind(s[:idx])
	if !ok {
		return ID{}, fmt.Errorf("id: malformed %q: unknown kind %q", s, s[:idx])
	}
	raw, err := b32.DecodeString(strings.ToUpper(s[idx+1:]))
	if err != nil {
		return ID{}, fmt.Errorf("id: malformed %q: %w", s, err)
	}
	if len(raw) != hashSize {
		return ID{}, fmt.Errorf("id: malformed %q: expected %d hash bytes, got %d", s, hashSize, len(raw))
	}
	var sum [hashSize]byte
	copy(sum[:], raw)
	return ID{kind: kind, hash: sum}, nil
}

// Raw returns the kind byte followed by the raw hash bytes, for embedding an
// ID inside another object's canonical serialization (cheaper than the
// textual form used on the wire).
func (id ID) Raw() []byte {
	out := make([]byte, 0, 1+hashSize)
	out = append(out, byte(id.kind))
	out = append(out, id.hash[:]...)
	return out
}

// FromRaw parses the Raw encoding.
func FromRaw(b []byte) (ID, error) {
	if len(b) != 1+hashSize {
		return ID{}, fmt.Errorf("id: malformed raw id: expected %d bytes, got %d", 1+hashSize, len(b))
	}
	var sum [hashSize]byte
	copy(sum[:], b[1:])
	return ID{kind: Kind(b[0]), hash: sum}, nil
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as their
// textual form in JSON bodies (spec §6 wire protocol).
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
