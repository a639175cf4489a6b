// Package evaluator implements spec §4.4: the evaluate(operation_id)
// dispatch, its memoization/deduplication/cycle-detection, per-build
// progress, and the runtime.Host surface the scripting isolate calls back
// into. Grounded on the teacher's in-flight/shared-result shape in
// internal/core/api_scheduler.go (a single globalScheduler guarding
// concurrent dispatch with a mutex plus a sync.Once init), generalized from
// a one-shot singleton to a per-operation-ID shared future.
package evaluator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tangram/internal/config"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/sandbox"
	"tangram/internal/store"
	"tangram/internal/terror"
	"tangram/internal/value"
)

// Evaluator dispatches operations and owns every runtime isolate created to
// serve Target operations (spec §4.4, §4.5.1).
type Evaluator struct {
	store   *store.Store
	cfg     *config.Config
	log     *zap.Logger
	sandbox sandbox.Sandbox

	mu       sync.Mutex
	inFlight map[id.ID]*future

	progress *progressRegistry
}

// future is the in-memory entry serializing concurrent evaluate() calls for
// one operation ID (spec §4.4 "Deduplication"): the first caller runs the
// dispatch and closes done; later callers for the same ID block on done and
// share its result.
type future struct {
	done   chan struct{}
	result value.Value
	err    error
}

// New creates an Evaluator backed by s. sb runs Task operations under the
// host's sandbox (spec §4.6); pass a sandbox.Unavailable() on platforms that
// don't implement one.
func New(s *store.Store, cfg *config.Config, sb sandbox.Sandbox, log *zap.Logger) *Evaluator {
	return &Evaluator{
		store:    s,
		cfg:      cfg,
		sandbox:  sb,
		log:      log,
		inFlight: make(map[id.ID]*future),
		progress: newProgressRegistry(),
	}
}

// ancestorsKey is the context key carrying the call-chain ancestor stack
// used for cycle detection (spec §4.4 "Cycle detection").
type ancestorsKey struct{}

func ancestors(ctx context.Context) []id.ID {
	if v, ok := ctx.Value(ancestorsKey{}).([]id.ID); ok {
		return v
	}
	return nil
}

func withAncestor(ctx context.Context, opID id.ID) context.Context {
	return context.WithValue(ctx, ancestorsKey{}, append(append([]id.ID(nil), ancestors(ctx)...), opID))
}

// Evaluate is the dispatch entry point (spec §4.4). It consults the durable
// operation_id -> build_id mapping first, then the in-flight dedup map,
// then runs one of the three dispatch cases.
func (e *Evaluator) Evaluate(ctx context.Context, opID id.ID) (value.Value, error) {
	for _, a := range ancestors(ctx) {
		if a == opID {
			return value.Value{}, terror.New(terror.Cycle, "operation %s is already on the evaluation stack", opID)
		}
	}

	if buildID, ok, err := e.store.GetAssignment(ctx, opID); err != nil {
		return value.Value{}, err
	} else if ok {
		build, err := e.store.GetObject(ctx, buildID)
		if err != nil {
			return value.Value{}, err
		}
		return resultOf(build.(object.Build))
	}

	e.mu.Lock()
	if f, ok := e.inFlight[opID]; ok {
		e.mu.Unlock()
		<-f.done
		return f.result, f.err
	}
	f := &future{done: make(chan struct{})}
	e.inFlight[opID] = f
	e.mu.Unlock()

	f.result, f.err = e.run(withAncestor(ctx, opID), opID)
	close(f.done)

	e.mu.Lock()
	delete(e.inFlight, opID)
	e.mu.Unlock()

	return f.result, f.err
}

// run performs the actual dispatch for opID and persists the Build record
// on both success and failure (spec §3 Build.result is a two-armed union).
func (e *Evaluator) run(ctx context.Context, opID id.ID) (value.Value, error) {
	obj, err := e.store.GetObject(ctx, opID)
	if err != nil {
		return value.Value{}, err
	}

	b := e.progress.start(opID)
	defer e.progress.finish(opID)

	if err := b.transition(Running); err != nil {
		e.log.Error("build fsm", zap.Error(err))
	}

	var result value.Value
	var children []id.ID
	var runErr error

	switch op := obj.(type) {
	case object.Target:
		result, children, runErr = e.evaluateTarget(ctx, opID, op, b)
	case object.Resource:
		result, children, runErr = e.evaluateResource(ctx, op, b)
	case object.Task:
		result, children, runErr = e.evaluateTask(ctx, op, b)
	default:
		return value.Value{}, terror.New(terror.Invalid, "operation %s has non-operation kind %s", opID, obj.Kind())
	}

	final := Succeeded
	switch {
	case terror.Is(runErr, terror.Cancelled):
		final = Cancelled
	case runErr != nil:
		final = Failed
	}
	if err := b.transition(final); err != nil {
		e.log.Error("build fsm", zap.Error(err))
	}

	logBlobID, logErr := b.seal(ctx, e.store)
	if logErr != nil {
		return value.Value{}, logErr
	}

	build := object.Build{Operation: opID, Children_: children, LogBlob: logBlobID}
	if runErr != nil {
		build.Result = object.Result{OK: false, Err: value.NewError(runErr.Error(), nil)}
	} else {
		build.Result = object.Result{OK: true, Value: result}
	}

	buildID, err := e.store.PutObject(ctx, build)
	if err != nil {
		return value.Value{}, err
	}
	if err := e.store.SetAssignment(ctx, opID, buildID); err != nil {
		return value.Value{}, err
	}

	if runErr != nil {
		return value.Value{}, runErr
	}
	return result, nil
}

// State reports opID's current BuildState if it is in flight (spec §4.4
// "Progress"). ok is false once the build has sealed and left the in-flight
// registry; callers fall back to the durable assignment/Build.Result in that
// case to learn the terminal outcome.
func (e *Evaluator) State(opID id.ID) (BuildState, bool) {
	return e.progress.state(opID)
}

func resultOf(b object.Build) (value.Value, error) {
	if b.Result.OK {
		return b.Result.Value, nil
	}
	se := b.Result.Err.ScriptError()
	msg := "build failed"
	if se != nil {
		msg = se.Message
	}
	return value.Value{}, terror.New(terror.Script, "%s", msg)
}
