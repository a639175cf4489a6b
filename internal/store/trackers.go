package store

import (
	"context"
	"database/sql"
	"time"

	"tangram/internal/id"
	"tangram/internal/terror"
)

// Tracker is the durable record from spec §4.3.4: a host path's last-known
// mtime plus the artifact/package it was checked in as.
type Tracker struct {
	MTime      time.Time
	ArtifactID *id.ID
	PackageID  *id.ID
}

// GetTracker returns the tracker recorded for path, if any.
func (s *Store) GetTracker(ctx context.Context, path string) (*Tracker, error) {
	var mtimeUnix int64
	var artifactRaw, packageRaw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT mtime_unix, artifact_id, package_id FROM trackers WHERE path = ?`, path,
	).Scan(&mtimeUnix, &artifactRaw, &packageRaw)
	if err == sql.ErrNoRows {
		return nil, terror.New(terror.NotFound, "tracker %s", path)
	}
	if err != nil {
		return nil, terror.Wrap(terror.IO, err, "get tracker %s", path)
	}
	t := &Tracker{MTime: time.Unix(mtimeUnix, 0)}
	if len(artifactRaw) > 0 {
		a, err := id.FromRaw(artifactRaw)
		if err != nil {
			return nil, terror.Wrap(terror.IO, err, "decode tracker artifact id")
		}
		t.ArtifactID = &a
	}
	if len(packageRaw) > 0 {
		p, err := id.FromRaw(packageRaw)
		if err != nil {
			return nil, terror.Wrap(terror.IO, err, "decode tracker package id")
		}
		t.PackageID = &p
	}
	return t, nil
}

// SetTracker upserts the tracker recorded for path.
func (s *Store) SetTracker(ctx context.Context, path string, t Tracker) error {
	var artifactRaw, packageRaw []byte
	if t.ArtifactID != nil {
		artifactRaw = t.ArtifactID.Raw()
	}
	if t.PackageID != nil {
		packageRaw = t.PackageID.Raw()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trackers (path, mtime_unix, artifact_id, package_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET mtime_unix = excluded.mtime_unix,
			artifact_id = excluded.artifact_id, package_id = excluded.package_id`,
		path, t.MTime.Unix(), artifactRaw, packageRaw)
	if err != nil {
		return terror.Wrap(terror.IO, err, "set tracker %s", path)
	}
	return nil
}

// DeleteTracker removes the tracker recorded for path, if any.
func (s *Store) DeleteTracker(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trackers WHERE path = ?`, path)
	if err != nil {
		return terror.Wrap(terror.IO, err, "delete tracker %s", path)
	}
	return nil
}

// DeleteTrackerAncestors deletes every tracker whose path is an ancestor of
// path (spec §4.3.4: "all ancestor-path trackers are invalidated too").
func (s *Store) DeleteTrackerAncestors(ctx context.Context, path string) error {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM trackers`)
	if err != nil {
		return terror.Wrap(terror.IO, err, "scan trackers")
	}
	var toDelete []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return terror.Wrap(terror.IO, err, "scan tracker row")
		}
		if isAncestor(p, path) {
			toDelete = append(toDelete, p)
		}
	}
	rows.Close()
	for _, p := range toDelete {
		if err := s.DeleteTracker(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func isAncestor(ancestor, path string) bool {
	if ancestor == path {
		return false
	}
	if len(ancestor) >= len(path) {
		return false
	}
	return path[:len(ancestor)] == ancestor && path[len(ancestor)] == '/'
}
