// Package store implements the content-addressed object store of spec §4.1:
// objects keyed by ID, the assignments (target→build) and trackers
// secondary indices, and referential-integrity enforcement on write.
//
// Ground: the teacher's internal/store/local_core.go opens a single
// database/sql handle with SetMaxOpenConns(1) and WAL journaling; we follow
// the same shape over modernc.org/sqlite (cgo-free) instead of
// mattn/go-sqlite3 (see DESIGN.md).
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tangram/internal/id"
	"tangram/internal/logging"
	"tangram/internal/object"
	"tangram/internal/terror"
)

// Store is the single-writer, many-reader object store described in
// spec §4.1. All databases (objects, assignments, trackers) live in one
// sqlite file, matching the "database" entry of the on-disk layout (§6).
type Store struct {
	db    *sql.DB
	fdSem *semaphore.Weighted
	lock  *lockFile
	log   *zap.Logger
	paths Paths
}

// Paths mirrors config.Paths without importing internal/config, so store
// stays usable from tests without pulling in YAML parsing.
type Paths struct {
	Lock      string
	Database  string
	Artifacts string
	Temps     string
	Blobs     string
}

// Open acquires the process-level exclusive lock, opens (creating if
// necessary) the sqlite database, and runs schema migrations. fdBudget sizes
// the file-descriptor semaphore gating blob/checkout I/O (spec §5).
func Open(paths Paths, fdBudget int64) (*Store, error) {
	for _, dir := range []string{filepath.Dir(paths.Database), paths.Artifacts, paths.Temps, paths.Blobs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, terror.Wrap(terror.IO, err, "create directory %s", dir)
		}
	}

	lf, err := acquireLock(paths.Lock)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", paths.Database)
	if err != nil {
		lf.release()
		return nil, terror.Wrap(terror.IO, err, "open database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		lf.release()
		return nil, terror.Wrap(terror.IO, err, "set WAL mode")
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		lf.release()
		return nil, terror.Wrap(terror.IO, err, "set busy_timeout")
	}

	s := &Store{
		db:    db,
		fdSem: semaphore.NewWeighted(fdBudget),
		lock:  lf,
		log:   logging.Named("store"),
		paths: paths,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		lf.release()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	s.lock.release()
	return err
}

// AcquireFD blocks until a file-descriptor permit is available (spec §5's
// counting semaphore, initial permits 16). Callers must call the returned
// release function.
func (s *Store) AcquireFD(ctx context.Context) (release func(), err error) {
	if err := s.fdSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.fdSem.Release(1) }, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS objects (
	id   BLOB PRIMARY KEY,
	kind INTEGER NOT NULL,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS assignments (
	target_id BLOB PRIMARY KEY,
	build_id  BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS trackers (
	path        TEXT PRIMARY KEY,
	mtime_unix  INTEGER NOT NULL,
	artifact_id BLOB,
	package_id  BLOB
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return terror.Wrap(terror.IO, err, "migrate schema")
	}
	return nil
}

// Exists reports whether objID is present (spec §4.1).
func (s *Store) Exists(ctx context.Context, objID id.ID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE id = ?`, objID.Raw()).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, terror.Wrap(terror.IO, err, "exists %s", objID)
	}
	return true, nil
}

// Get returns the raw serialized bytes of objID, or a NotFound *terror.Error.
func (s *Store) Get(ctx context.Context, objID id.ID) ([]byte, error) {
	release, err := s.AcquireFD(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT data FROM objects WHERE id = ?`, objID.Raw()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, terror.New(terror.NotFound, "object %s", objID)
	}
	if err != nil {
		return nil, terror.Wrap(terror.IO, err, "get %s", objID)
	}
	return data, nil
}

// GetObject is a Get + object.Parse convenience.
func (s *Store) GetObject(ctx context.Context, objID id.ID) (object.Object, error) {
	data, err := s.Get(ctx, objID)
	if err != nil {
		return nil, err
	}
	return object.Parse(objID.Kind(), data)
}

// Put validates hash(bytes) == id and that every child referenced by
// parse(bytes).Children() already exists, then writes the object. If any
// child is missing, it returns a *terror.Error of Kind MissingChildren
// carrying the missing IDs — a structured response, not a write failure
// (spec §4.1, I1).
func (s *Store) Put(ctx context.Context, objID id.ID, data []byte) error {
	o, err := object.Parse(objID.Kind(), data)
	if err != nil {
		return terror.Wrap(terror.Invalid, err, "parse object %s", objID)
	}
	if got := object.ID(o); got != objID {
		return terror.New(terror.Invalid, "object %s does not hash to claimed id (got %s)", objID, got)
	}

	var missing []string
	for _, child := range o.Children() {
		ok, err := s.Exists(ctx, child)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, child.String())
		}
	}
	if len(missing) > 0 {
		return terror.MissingChildrenError(missing)
	}

	release, err := s.AcquireFD(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objects (id, kind, data) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		objID.Raw(), byte(objID.Kind()), data)
	if err != nil {
		return terror.Wrap(terror.IO, err, "put %s", objID)
	}
	return nil
}

// PutObject serializes o and Puts it, returning the computed ID.
func (s *Store) PutObject(ctx context.Context, o object.Object) (id.ID, error) {
	objID := object.ID(o)
	if err := s.Put(ctx, objID, object.Marshal(o)); err != nil {
		return id.ID{}, err
	}
	return objID, nil
}

// GetAssignment resolves a memoized target/task ID to its build ID
// (spec §4.4 "the mapping operation_id → build_id is written after
// success").
func (s *Store) GetAssignment(ctx context.Context, opID id.ID) (id.ID, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT build_id FROM assignments WHERE target_id = ?`, opID.Raw()).Scan(&raw)
	if err == sql.ErrNoRows {
		return id.ID{}, false, nil
	}
	if err != nil {
		return id.ID{}, false, terror.Wrap(terror.IO, err, "get assignment %s", opID)
	}
	buildID, err := id.FromRaw(raw)
	if err != nil {
		return id.ID{}, false, terror.Wrap(terror.IO, err, "decode assignment %s", opID)
	}
	return buildID, true, nil
}

// SetAssignment persists opID → buildID, in its own table apart from the
// objects table; Clean reads it for roots and leaves it unchanged.
func (s *Store) SetAssignment(ctx context.Context, opID, buildID id.ID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (target_id, build_id) VALUES (?, ?)
		 ON CONFLICT(target_id) DO UPDATE SET build_id = excluded.build_id`,
		opID.Raw(), buildID.Raw())
	if err != nil {
		return terror.Wrap(terror.IO, err, "set assignment %s", opID)
	}
	return nil
}

// AssignmentRoots returns every build ID currently assigned to an
// operation — the live-set roots a `clean` sweep starts from (spec §6
// "POST /v1/clean": nothing outside a memoized build's reachable set
// survives).
func (s *Store) AssignmentRoots(ctx context.Context) ([]id.ID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT build_id FROM assignments`)
	if err != nil {
		return nil, terror.Wrap(terror.IO, err, "scan assignments")
	}
	defer rows.Close()

	var roots []id.ID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, terror.Wrap(terror.IO, err, "scan assignment row")
		}
		buildID, err := id.FromRaw(raw)
		if err != nil {
			return nil, terror.Wrap(terror.IO, err, "decode assignment build id")
		}
		roots = append(roots, buildID)
	}
	return roots, nil
}

// Clean runs garbage collection: objects reachable from live are kept,
// every other object is deleted (spec §3 Lifecycle). The assignments and
// trackers tables are not modified.
func (s *Store) Clean(ctx context.Context, live []id.ID) (deleted int, err error) {
	reachable := make(map[id.ID]bool)
	queue := append([]id.ID(nil), live...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if reachable[cur] {
			continue
		}
		reachable[cur] = true
		o, err := s.GetObject(ctx, cur)
		if err != nil {
			if terror.Is(err, terror.NotFound) {
				continue
			}
			return 0, err
		}
		queue = append(queue, o.Children()...)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM objects`)
	if err != nil {
		return 0, terror.Wrap(terror.IO, err, "clean: scan objects")
	}
	var toDelete [][]byte
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return 0, terror.Wrap(terror.IO, err, "clean: scan row")
		}
		objID, err := id.FromRaw(raw)
		if err != nil {
			rows.Close()
			return 0, terror.Wrap(terror.IO, err, "clean: decode id")
		}
		if !reachable[objID] {
			toDelete = append(toDelete, raw)
		}
	}
	rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, terror.Wrap(terror.IO, err, "clean: begin tx")
	}
	for _, raw := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, raw); err != nil {
			tx.Rollback()
			return 0, terror.Wrap(terror.IO, err, "clean: delete")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, terror.Wrap(terror.IO, err, "clean: commit")
	}
	s.log.Info("clean finished", zap.Int("deleted", len(toDelete)), zap.Int("live_roots", len(live)))
	return len(toDelete), nil
}
