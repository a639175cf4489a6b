package evaluator

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"tangram/internal/blob"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/store"
	"tangram/internal/terror"
)

// manifestName is the file a package's root directory carries its metadata
// in (spec §3 Package: "name, version, dependencies"; spec.md leaves the
// exact file format to the implementation).
const manifestName = "tangram.json"

// packageManifest is a package's on-disk metadata.
type packageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"` // name -> package artifact ID string
}

// loadManifest reads and parses pkg's manifest, tolerating its absence (a
// dependency-free package has nothing to declare).
func loadManifest(ctx context.Context, s *store.Store, pkg id.ID) (packageManifest, error) {
	entryID, err := resolveEntry(ctx, s, pkg, manifestName)
	if err != nil {
		if terror.Is(err, terror.NotFound) {
			return packageManifest{}, nil
		}
		return packageManifest{}, err
	}
	data, err := readFileArtifact(ctx, s, entryID)
	if err != nil {
		return packageManifest{}, err
	}
	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return packageManifest{}, terror.Wrap(terror.Invalid, err, "parse %s", manifestName)
	}
	return m, nil
}

// resolveEntry walks relPath's components through nested Directory objects
// starting at root, returning the artifact ID found at the end.
func resolveEntry(ctx context.Context, s *store.Store, root id.ID, relPath string) (id.ID, error) {
	relPath = path.Clean("/" + relPath)
	relPath = strings.TrimPrefix(relPath, "/")
	if relPath == "" || relPath == "." {
		return root, nil
	}

	cur := root
	parts := strings.Split(relPath, "/")
	for i, part := range parts {
		obj, err := s.GetObject(ctx, cur)
		if err != nil {
			return id.ID{}, err
		}
		dir, ok := obj.(object.Directory)
		if !ok {
			return id.ID{}, terror.New(terror.NotFound, "%s: %s is not a directory", relPath, cur)
		}
		next, ok := dir.Entries[part]
		if !ok {
			return id.ID{}, terror.New(terror.NotFound, "%s: no such entry %q", relPath, part)
		}
		cur = next
		_ = i
	}
	return cur, nil
}

// readFileArtifact reads a File artifact's full blob contents.
func readFileArtifact(ctx context.Context, s *store.Store, fileID id.ID) ([]byte, error) {
	obj, err := s.GetObject(ctx, fileID)
	if err != nil {
		return nil, err
	}
	f, ok := obj.(object.File)
	if !ok {
		return nil, terror.New(terror.Invalid, "%s is not a file", fileID)
	}
	return blob.Bytes(ctx, s, f.Blob)
}

// moduleExtension returns the dotted extension of a resolved module path.
func moduleExtension(p string) string {
	ext := path.Ext(p)
	if ext == "" {
		return ".js"
	}
	return ext
}
