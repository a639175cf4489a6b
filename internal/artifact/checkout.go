package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"tangram/internal/blob"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/store"
	"tangram/internal/template"
	"tangram/internal/terror"
)

// CheckOut materializes artifactID under artifactsDir/<id>, returning its
// path (spec §4.3.2). If the destination already exists, it is returned
// unchanged: content-addressing guarantees its correctness.
func CheckOut(ctx context.Context, s *store.Store, artifactsDir string, artifactID id.ID) (string, error) {
	dest := filepath.Join(artifactsDir, artifactID.String())
	if _, err := os.Lstat(dest); err == nil {
		return dest, nil
	} else if !os.IsNotExist(err) {
		return "", terror.Wrap(terror.IO, err, "stat %s", dest)
	}

	tmp, err := os.MkdirTemp(artifactsDir, ".checkout-*")
	if err != nil {
		return "", terror.Wrap(terror.IO, err, "create checkout temp dir")
	}
	// MkdirTemp's own directory is a throwaway shell; materialize into it.
	if err := os.Remove(tmp); err != nil {
		return "", terror.Wrap(terror.IO, err, "clear checkout temp dir")
	}

	if err := materialize(ctx, s, artifactsDir, artifactID, tmp); err != nil {
		os.RemoveAll(tmp)
		return "", err
	}

	if err := os.Rename(tmp, dest); err != nil {
		if errors.Is(err, os.ErrExist) || isNotEmptyErr(err) {
			// Another concurrent checkout won the race (spec §4.3.2 step 3).
			os.RemoveAll(tmp)
			return dest, nil
		}
		os.RemoveAll(tmp)
		return "", terror.Wrap(terror.IO, err, "rename checkout into place")
	}
	return dest, nil
}

func isNotEmptyErr(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.ENOTEMPTY || errno == unix.EEXIST
	}
	return false
}

// materialize recursively writes artifactID's content into hostPath, then
// sets every entry's atime/mtime to the epoch (spec §4.3.2 step 4).
func materialize(ctx context.Context, s *store.Store, artifactsDir string, artifactID id.ID, hostPath string) error {
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
			if err := materialize(ctx, s, artifactsDir, childID, filepath.Join(hostPath, name)); err != nil {
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
		target, err := renderSymlinkTemplate(ctx, s, artifactsDir, hostPath, v.Template)
		if err != nil {
			return err
		}
		if err := os.Symlink(target, hostPath); err != nil {
			return terror.Wrap(terror.IO, err, "symlink %s", hostPath)
		}
		return setLstatEpoch(hostPath)

	default:
		return terror.New(terror.Invalid, "check-out: %s is not an artifact kind", artifactID)
	}
}

func materializeFile(ctx context.Context, s *store.Store, hostPath string, f object.File) error {
	r, err := blob.NewReader(ctx, s, f.Blob)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if f.Executable {
		mode = 0o755
	}
	out, err := os.OpenFile(hostPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return terror.Wrap(terror.IO, err, "create %s", hostPath)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return terror.Wrap(terror.IO, err, "write %s", hostPath)
	}
	return nil
}

// renderSymlinkTemplate resolves Artifact components by checking them out
// and computing a path relative to the symlink's own parent directory
// (spec §4.3.2 step 2).
func renderSymlinkTemplate(ctx context.Context, s *store.Store, artifactsDir, symlinkPath string, t template.Template) (string, error) {
	parent := filepath.Dir(symlinkPath)
	return template.Render(t,
		func(a id.ID) (string, error) {
			checkedOut, err := CheckOut(ctx, s, artifactsDir, a)
			if err != nil {
				return "", err
			}
			rel, err := filepath.Rel(parent, checkedOut)
			if err != nil {
				return "", terror.Wrap(terror.IO, err, "relative path from %s to %s", parent, checkedOut)
			}
			return rel, nil
		},
		func(name string) (string, error) {
			return "", terror.New(terror.Invalid, "symlink template: unresolved placeholder %q", name)
		},
	)
}

func setEpoch(path string) error {
	return os.Chtimes(path, Epoch, Epoch)
}

// setLstatEpoch sets a symlink's own timestamp without following it.
func setLstatEpoch(path string) error {
	ts := []unix.Timespec{unix.NsecToTimespec(0), unix.NsecToTimespec(0)}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return terror.Wrap(terror.IO, err, "set symlink timestamp %s", path)
	}
	return nil
}
