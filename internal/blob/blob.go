// Package blob implements the chunked, content-addressed byte-stream tree of
// spec §3/§4.2: leaves of bounded size, branches of bounded fan-out, built
// bottom-up and read back through a positional, seekable reader.
package blob

import (
	"context"
	"io"

	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/store"
	"tangram/internal/terror"
)

// MaxLeaf and MaxFanout are the tree-shape limits from spec §4.2.
const (
	MaxLeaf   = 256 * 1024
	MaxFanout = 1024
)

// New streams r, emitting MaxLeaf-sized leaves, grouping them into
// MaxFanout-wide branches, and repeating the grouping pass until a single
// root object remains (spec §4.2 "new(reader)").
func New(ctx context.Context, s *store.Store, r io.Reader) (id.ID, error) {
	type level struct {
		id   id.ID
		size uint64
	}

	var leaves []level
	buf := make([]byte, MaxLeaf)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			leafID, perr := s.PutObject(ctx, object.Leaf{Data: append([]byte(nil), buf[:n]...)})
			if perr != nil {
				return id.ID{}, perr
			}
			leaves = append(leaves, level{id: leafID, size: uint64(n)})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return id.ID{}, terror.Wrap(terror.IO, err, "blob: read input")
		}
	}

	if len(leaves) == 0 {
		// Empty input still needs a root: an empty leaf.
		return s.PutObject(ctx, object.Leaf{})
	}
	if len(leaves) == 1 {
		return leaves[0].id, nil
	}

	cur := leaves
	for len(cur) > 1 {
		var next []level
		for i := 0; i < len(cur); i += MaxFanout {
			end := i + MaxFanout
			if end > len(cur) {
				end = len(cur)
			}
			group := cur[i:end]
			branch := object.Branch{Children_: make([]object.BranchChild, len(group))}
			var total uint64
			for j, g := range group {
				branch.Children_[j] = object.BranchChild{ID: g.id, Size: g.size}
				total += g.size
			}
			branchID, err := s.PutObject(ctx, branch)
			if err != nil {
				return id.ID{}, err
			}
			next = append(next, level{id: branchID, size: total})
		}
		cur = next
	}
	return cur[0].id, nil
}

// Size returns the additive byte length of the blob rooted at root
// (spec §4.2 "size(blob)").
func Size(ctx context.Context, s *store.Store, root id.ID) (uint64, error) {
	switch root.Kind() {
	case id.KindLeaf:
		leaf, err := getLeaf(ctx, s, root)
		if err != nil {
			return 0, err
		}
		return uint64(len(leaf.Data)), nil
	case id.KindBranch:
		branch, err := getBranch(ctx, s, root)
		if err != nil {
			return 0, err
		}
		var total uint64
		for _, c := range branch.Children_ {
			total += c.Size
		}
		return total, nil
	default:
		return 0, terror.New(terror.Invalid, "blob: %s is not a blob root", root)
	}
}

// Bytes reads the entire blob into memory. Convenience wrapper over Reader
// (spec §4.2).
func Bytes(ctx context.Context, s *store.Store, root id.ID) ([]byte, error) {
	r, err := NewReader(ctx, s, root)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Text is Bytes as a string.
func Text(ctx context.Context, s *store.Store, root id.ID) (string, error) {
	b, err := Bytes(ctx, s, root)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func getLeaf(ctx context.Context, s *store.Store, leafID id.ID) (object.Leaf, error) {
	o, err := s.GetObject(ctx, leafID)
	if err != nil {
		return object.Leaf{}, err
	}
	leaf, ok := o.(object.Leaf)
	if !ok {
		return object.Leaf{}, terror.New(terror.Invalid, "blob: %s is not a leaf", leafID)
	}
	return leaf, nil
}

func getBranch(ctx context.Context, s *store.Store, branchID id.ID) (object.Branch, error) {
	o, err := s.GetObject(ctx, branchID)
	if err != nil {
		return object.Branch{}, err
	}
	branch, ok := o.(object.Branch)
	if !ok {
		return object.Branch{}, terror.New(terror.Invalid, "blob: %s is not a branch", branchID)
	}
	return branch, nil
}
