package artifact

import (
	"context"
	"os"
	"path/filepath"

	"tangram/internal/blob"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/store"
	"tangram/internal/template"
	"tangram/internal/terror"
)

// CheckIn walks host path bottom-up, producing a content-addressed artifact
// (spec §4.3.1). If a tracker recorded for path still matches the current
// mtime, the walk short-circuits and the tracked artifact ID is returned
// without touching the filesystem beyond a single stat (spec §4.3.4).
func CheckIn(ctx context.Context, s *store.Store, hostPath string) (id.ID, error) {
	hostPath = filepath.Clean(hostPath)

	if tracked, err := s.GetTracker(ctx, hostPath); err == nil && tracked.ArtifactID != nil {
		if attr, statErr := AttrOf(hostPath); statErr == nil && attr.MTime.Equal(tracked.MTime) {
			return *tracked.ArtifactID, nil
		}
	}

	artifactID, err := checkIn(ctx, s, hostPath)
	if err != nil {
		return id.ID{}, err
	}

	attr, err := AttrOf(hostPath)
	if err != nil {
		return id.ID{}, terror.Wrap(terror.IO, err, "stat %s", hostPath)
	}
	if err := s.SetTracker(ctx, hostPath, store.Tracker{MTime: attr.MTime, ArtifactID: &artifactID}); err != nil {
		return id.ID{}, err
	}
	return artifactID, nil
}

func checkIn(ctx context.Context, s *store.Store, hostPath string) (id.ID, error) {
	attr, err := AttrOf(hostPath)
	if err != nil {
		return id.ID{}, terror.Wrap(terror.IO, err, "stat %s", hostPath)
	}

	switch {
	case attr.IsSymlink:
		return checkInSymlink(ctx, s, hostPath)
	case attr.IsDir:
		return checkInDirectory(ctx, s, hostPath)
	case attr.IsRegular:
		return checkInFile(ctx, s, hostPath, attr)
	default:
		return id.ID{}, terror.New(terror.Invalid, "check-in: %s is not a directory, file, or symlink", hostPath)
	}
}

func checkInDirectory(ctx context.Context, s *store.Store, hostPath string) (id.ID, error) {
	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return id.ID{}, terror.Wrap(terror.IO, err, "read directory %s", hostPath)
	}
	dir := object.Directory{Entries: make(map[string]id.ID, len(entries))}
	for _, entry := range entries {
		childID, err := checkIn(ctx, s, filepath.Join(hostPath, entry.Name()))
		if err != nil {
			return id.ID{}, err
		}
		dir.Entries[entry.Name()] = childID
	}
	return s.PutObject(ctx, dir)
}

func checkInFile(ctx context.Context, s *store.Store, hostPath string, attr Attr) (id.ID, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return id.ID{}, terror.Wrap(terror.IO, err, "open %s", hostPath)
	}
	defer f.Close()

	blobID, err := blob.New(ctx, s, f)
	if err != nil {
		return id.ID{}, err
	}
	return s.PutObject(ctx, object.File{
		Blob:       blobID,
		Executable: attr.Executable,
	})
}

func checkInSymlink(ctx context.Context, s *store.Store, hostPath string) (id.ID, error) {
	target, err := os.Readlink(hostPath)
	if err != nil {
		return id.ID{}, terror.Wrap(terror.IO, err, "readlink %s", hostPath)
	}
	// A host symlink target has no artifact components: it's always a
	// single literal (spec §4.3.1 "parse as a template (literal by
	// default)"). Artifact components only arise from check-out rendering.
	return s.PutObject(ctx, object.Symlink{Template: template.New(template.Lit(target))})
}
