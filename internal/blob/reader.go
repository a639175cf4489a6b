package blob

import (
	"context"
	"io"

	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/store"
	"tangram/internal/terror"
)

// readerState mirrors spec §4.2's reader state machine: Empty between
// leaves, OnLeaf while a leaf's bytes are being copied out.
type readerState int

const (
	stateEmpty readerState = iota
	stateOnLeaf
)

// Reader is a random-access, seekable view over a blob tree (spec §4.2
// "reader(blob) -> AsyncReadSeek"). It descends from the root on demand and
// never holds more than one leaf's bytes in memory.
type Reader struct {
	ctx   context.Context
	store *store.Store
	root  id.ID
	size  uint64

	pos   uint64
	state readerState

	leafData   []byte
	leafStart  uint64 // absolute offset of leafData[0]
	leafCursor int    // index into leafData
}

// NewReader opens a Reader positioned at offset 0.
func NewReader(ctx context.Context, s *store.Store, root id.ID) (*Reader, error) {
	size, err := Size(ctx, s, root)
	if err != nil {
		return nil, err
	}
	return &Reader{ctx: ctx, store: s, root: root, size: size, state: stateEmpty}, nil
}

// Read implements io.Reader, following the Empty/OnLeaf transitions of
// readerState (a leaf is loaded synchronously on leaving Empty) until p is
// full or the blob is exhausted.
func (r *Reader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && r.pos < r.size {
		if r.state == stateEmpty {
			leaf, start, err := descend(r.ctx, r.store, r.root, r.pos)
			if err != nil {
				return total, err
			}
			r.leafData = leaf.Data
			r.leafStart = start
			r.leafCursor = int(r.pos - start)
			r.state = stateOnLeaf
		}

		leafRemaining := len(r.leafData) - r.leafCursor
		want := len(p) - total
		n := leafRemaining
		if want < n {
			n = want
		}
		copy(p[total:total+n], r.leafData[r.leafCursor:r.leafCursor+n])
		total += n
		r.pos += uint64(n)
		r.leafCursor += n

		if r.leafCursor >= len(r.leafData) {
			r.state = stateEmpty
			r.leafData = nil
		}
	}
	return total, nil
}

// Seek implements io.Seeker. Any seek resets the state machine to Empty;
// the next Read redescends from the root.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(r.pos) + offset
	case io.SeekEnd:
		newPos = int64(r.size) + offset
	default:
		return 0, terror.New(terror.Invalid, "blob: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, terror.New(terror.Invalid, "blob: negative seek position")
	}
	r.pos = uint64(newPos)
	r.state = stateEmpty
	r.leafData = nil
	return newPos, nil
}

// descend walks from root to the leaf covering offset, returning that leaf
// and the absolute offset of its first byte.
func descend(ctx context.Context, s *store.Store, root id.ID, offset uint64) (object.Leaf, uint64, error) {
	cur := root
	base := uint64(0)
	for {
		switch cur.Kind() {
		case id.KindLeaf:
			leaf, err := getLeaf(ctx, s, cur)
			if err != nil {
				return object.Leaf{}, 0, err
			}
			return leaf, base, nil
		case id.KindBranch:
			branch, err := getBranch(ctx, s, cur)
			if err != nil {
				return object.Leaf{}, 0, err
			}
			rel := offset - base
			next := id.ID{}
			found := false
			for _, child := range branch.Children_ {
				if rel < child.Size {
					next = child.ID
					found = true
					break
				}
				rel -= child.Size
				base += child.Size
			}
			if !found {
				return object.Leaf{}, 0, terror.New(terror.Invalid, "blob: offset out of range in %s", root)
			}
			cur = next
		default:
			return object.Leaf{}, 0, terror.New(terror.Invalid, "blob: %s is not a blob root", root)
		}
	}
}
