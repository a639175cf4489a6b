// Package artifact implements the artifact subsystem of spec §4.3:
// check-in (host path → content-addressed object), check-out (the reverse,
// materialized under an artifacts directory), and bundling for external
// consumption.
package artifact

import (
	"os"
	"time"
)

// Attr is the pure projection of an on-disk entry's mode/mtime/size that the
// check-in walk needs to decide directory vs. file vs. symlink and the
// executable bit, split out so callers (check-in, future FUSE-style
// consumers) don't need a *os.File (SPEC_FULL.md §C).
type Attr struct {
	IsDir      bool
	IsSymlink  bool
	IsRegular  bool
	Executable bool
	Size       int64
	MTime      time.Time
}

// AttrOf derives Attr from a host path's lstat result.
func AttrOf(path string) (Attr, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Attr{}, err
	}
	mode := fi.Mode()
	return Attr{
		IsDir:      mode.IsDir(),
		IsSymlink:  mode&os.ModeSymlink != 0,
		IsRegular:  mode.IsRegular(),
		Executable: mode.IsRegular() && mode&0o111 != 0,
		Size:       fi.Size(),
		MTime:      fi.ModTime(),
	}, nil
}

// Epoch is the stable timestamp every checked-out filesystem object is set
// to (spec §4.3.2 step 4): content-addressed artifacts must be
// byte-for-byte and timestamp-for-timestamp reproducible.
var Epoch = time.Unix(0, 0)
