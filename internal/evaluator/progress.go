package evaluator

import (
	"bytes"
	"context"
	"sync"

	"tangram/internal/blob"
	"tangram/internal/id"
	"tangram/internal/store"
)

// progressRegistry tracks the in-flight children and accumulated log of
// every operation currently being run (spec §4.4 "Progress"), kept separate
// from the durable operation_id -> build_id assignment map and locked
// independently, per the lock-ordering discipline store -> build-map ->
// task-map (spec §5).
type progressRegistry struct {
	mu      sync.RWMutex
	entries map[id.ID]*logBuilder
}

func newProgressRegistry() *progressRegistry {
	return &progressRegistry{entries: make(map[id.ID]*logBuilder)}
}

// start registers opID as in-flight, in BuildState Queued, and returns its
// logBuilder. Callers must call finish when the run completes, successfully
// or not.
func (r *progressRegistry) start(opID id.ID) *logBuilder {
	b := &logBuilder{state: Queued}
	r.mu.Lock()
	r.entries[opID] = b
	r.mu.Unlock()
	return b
}

func (r *progressRegistry) finish(opID id.ID) {
	r.mu.Lock()
	delete(r.entries, opID)
	r.mu.Unlock()
}

// children reports the operation IDs of opID's children spawned so far, for a
// watcher polling build progress before the final Build record exists.
func (r *progressRegistry) children(opID id.ID) []id.ID {
	r.mu.RLock()
	b, ok := r.entries[opID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.snapshotChildren()
}

// state reports opID's current BuildState and whether it is still in flight
// at all (a terminal state already sealed into a Build is not tracked here —
// callers fall back to the durable assignment in that case).
func (r *progressRegistry) state(opID id.ID) (BuildState, bool) {
	r.mu.RLock()
	b, ok := r.entries[opID]
	r.mu.RUnlock()
	if !ok {
		return Queued, false
	}
	return b.currentState(), true
}

// logBuilder accumulates one operation's log lines and child operation IDs
// as the dispatch runs, then seals the log into a blob once dispatch
// completes (spec §3 Build.log, §4.4 per-build log file).
type logBuilder struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	children []id.ID
	state    BuildState
}

// transition advances the build's state, validating against the fsm's edges
// (spec §4.4 "Progress" modeled explicitly, see fsm.go).
func (b *logBuilder) transition(to BuildState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next, err := advance(b.state, to)
	b.state = next
	return err
}

func (b *logBuilder) currentState() BuildState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *logBuilder) appendLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(line)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		b.buf.WriteByte('\n')
	}
}

func (b *logBuilder) addChild(childID id.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.children = append(b.children, childID)
}

func (b *logBuilder) snapshotChildren() []id.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]id.ID(nil), b.children...)
}

// seal writes the accumulated log text into the object store as a blob and
// returns its root ID.
func (b *logBuilder) seal(ctx context.Context, s *store.Store) (id.ID, error) {
	b.mu.Lock()
	data := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()
	return blob.New(ctx, s, bytes.NewReader(data))
}
