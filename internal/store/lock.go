package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"tangram/internal/terror"
)

// lockFile is the process-level exclusive lock on the data directory
// (spec §6's "lock" file): a single daemon instance may hold the database.
type lockFile struct {
	f *os.File
}

func acquireLock(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, terror.Wrap(terror.IO, err, "open lock file %s", path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, terror.Wrap(terror.IO, fmt.Errorf("flock: %w", err), "another daemon already holds %s", path)
	}
	return &lockFile{f: f}, nil
}

func (l *lockFile) release() {
	if l == nil || l.f == nil {
		return
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}
