package artifact

import (
	"context"
	"os"
	"path/filepath"

	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/store"
	"tangram/internal/terror"
)

// bundleArtifactsDirName is the hidden subtree every bundle flattens its
// transitive file references into (spec §4.3.3).
const bundleArtifactsDirName = ".tangram/artifacts"

// Bundle renders artifactID at destDir shaped for external consumption:
// every file's references are flattened into destDir/.tangram/artifacts/<id>
// and symlink templates are rewritten to relative paths into that subtree,
// so destDir remains valid after being moved anywhere (spec §4.3.3).
func Bundle(ctx context.Context, s *store.Store, artifactID id.ID, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return terror.Wrap(terror.IO, err, "create bundle root %s", destDir)
	}
	artifactsDir := filepath.Join(destDir, bundleArtifactsDirName)
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return terror.Wrap(terror.IO, err, "create bundle artifacts dir %s", artifactsDir)
	}
	if err := bundleInto(ctx, s, artifactID, destDir, artifactsDir); err != nil {
		return err
	}
	return setEpoch(destDir)
}

func bundleInto(ctx context.Context, s *store.Store, artifactID id.ID, hostPath, artifactsDir string) error {
	o, err := s.GetObject(ctx, artifactID)
	if err != nil {
		return err
	}
	switch v := o.(type) {
	case object.Directory:
		if err := os.MkdirAll(hostPath, 0o755); err != nil {
			return terror.Wrap(terror.IO, err, "mkdir %s", hostPath)
		}
		for name, childID := range v.Entries {
			if err := bundleInto(ctx, s, childID, filepath.Join(hostPath, name), artifactsDir); err != nil {
				return err
			}
		}
		return setEpoch(hostPath)

	case object.File:
		if err := materializeFile(ctx, s, hostPath, v); err != nil {
			return err
		}
		for _, ref := range v.References {
			if _, err := CheckOut(ctx, s, artifactsDir, ref); err != nil {
				return err
			}
		}
		return setEpoch(hostPath)

	case object.Symlink:
		// Artifact components resolve into the bundle's own artifacts
		// subtree rather than the shared daemon artifacts directory.
		target, err := renderSymlinkTemplate(ctx, s, artifactsDir, hostPath, v.Template)
		if err != nil {
			return err
		}
		if err := os.Symlink(target, hostPath); err != nil {
			return terror.Wrap(terror.IO, err, "symlink %s", hostPath)
		}
		return setLstatEpoch(hostPath)

	default:
		return terror.New(terror.Invalid, "bundle: %s is not an artifact kind", artifactID)
	}
}
