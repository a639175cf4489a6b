package runtime

import (
	"context"

	"github.com/dop251/goja"

	"tangram/internal/terror"
	"tangram/internal/value"
)

// eventLoop drives a single isolate to completion (spec §4.5.5): host
// futures started by async syscalls complete on their own goroutines and
// post a continuation back onto this channel; await drains it, entering the
// VM to resolve/reject the matching promise, until the root promise
// settles or ctx is cancelled.
//
// There is no async-reactor library in the example pack to ground this on
// beyond goja itself (no goja_nodejs event loop dependency anywhere in
// go.mod — see DESIGN.md); the shape below is the minimal "FuturesUnordered
// of host futures" spec §4.5.4 describes, hand-written against goja's
// native Promise support.
type eventLoop struct {
	vm      *goja.Runtime
	jobs    chan func(*goja.Runtime)
	pending int
}

func newEventLoop(vm *goja.Runtime) *eventLoop {
	return &eventLoop{vm: vm, jobs: make(chan func(*goja.Runtime), 16)}
}

// spawnAsync starts work on its own goroutine and returns a goja Promise
// that settles with its result once work completes and the loop has
// processed the continuation (spec §4.5.4 "Async" dispatch). work must not
// touch l.vm — goja.Runtime is single-goroutine; the value.Value it returns
// is only converted to a goja.Value back on the VM goroutine, inside the
// queued job.
func (l *eventLoop) spawnAsync(work func() (value.Value, error)) *goja.Promise {
	promise, resolve, reject := l.vm.NewPromise()
	l.pending++
	go func() {
		v, err := work()
		l.jobs <- func(vm *goja.Runtime) {
			l.pending--
			if err != nil {
				reject(vm.ToValue(err.Error()))
				return
			}
			resolve(toGoja(vm, v))
		}
	}()
	return promise
}

// await pumps the event loop until root settles (fulfilled or rejected) or
// ctx is cancelled.
func (l *eventLoop) await(ctx context.Context, root *goja.Promise) (goja.Value, error) {
	for {
		switch root.State() {
		case goja.PromiseStateFulfilled:
			return root.Result(), nil
		case goja.PromiseStateRejected:
			return nil, terror.New(terror.Script, "%s", root.Result().String())
		}

		if l.pending == 0 {
			// Nothing outstanding and still pending: the script never
			// settled its own promise (e.g. forgot to resolve/reject).
			return nil, terror.New(terror.Script, "target promise never settled")
		}

		select {
		case <-ctx.Done():
			return nil, terror.Wrap(terror.Cancelled, ctx.Err(), "event loop cancelled")
		case job := <-l.jobs:
			job(l.vm)
			// goja runs the VM's microtask queue to completion as part of
			// any call into it; job() above already did that by calling
			// resolve/reject, which schedules `.then` continuations.
		}
	}
}
