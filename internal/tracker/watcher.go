// Package tracker wires the store's tracker index (spec §4.3.4) to a
// filesystem watcher: whenever a tracked host path changes, its tracker
// record is deleted so the next check-in re-walks it instead of trusting a
// stale content ID.
//
// Ground: the teacher's internal/core/mangle_watcher.go shape (a
// mutex-guarded fsnotify.Watcher, a stop/done channel pair, a
// goroutine pumping watcher.Events/Errors) generalized from "watch one
// fixed directory" to "watch an arbitrary, growing set of tracked paths".
package tracker

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"tangram/internal/logging"
	"tangram/internal/store"
)

// Watcher invalidates store trackers as their underlying host paths change.
type Watcher struct {
	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	store   *store.Store
	dirs    map[string]int // watched parent directory -> number of tracked paths inside it
	log     *zap.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a Watcher bound to s. Call Watch for every path checked in,
// and Start once to begin processing events.
func New(s *store.Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:    fsw,
		store:  s,
		dirs:   make(map[string]int),
		log:    logging.Named("tracker"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Watch begins watching path's parent directory so modification events for
// path are observed (fsnotify watches at directory granularity).
func (w *Watcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	return nil
}

// Unwatch stops watching path's parent directory once nothing in it is
// tracked anymore.
func (w *Watcher) Unwatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(path)
	if w.dirs[dir] <= 1 {
		delete(w.dirs, dir)
		return w.fsw.Remove(dir)
	}
	w.dirs[dir]--
	return nil
}

// Start begins the event pump in a goroutine. Non-blocking.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if err := w.store.DeleteTracker(ctx, path); err != nil {
		w.log.Warn("invalidate tracker", zap.String("path", path), zap.Error(err))
		return
	}
	w.log.Debug("tracker invalidated", zap.String("path", path), zap.String("op", event.Op.String()))
}

// Stop halts the event pump and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return w.fsw.Close()
	}
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}
