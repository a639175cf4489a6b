package evaluator

import "fmt"

// BuildState is a build's lifecycle stage (spec §4.4 "Progress"). The
// original's packages/server/src/fsm.rs models this as an explicit enum with
// valid-transition checks rather than an implicit bag of channels; we keep
// that shape here.
type BuildState int

const (
	Queued BuildState = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s BuildState) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the three states a build cannot leave.
func (s BuildState) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// edges lists every valid Queued -> Running -> {Succeeded, Failed, Cancelled}
// transition. Queued can also go straight to Cancelled: a caller's context
// can be cancelled before its dispatch ever reaches run's Running transition.
var edges = map[BuildState]map[BuildState]bool{
	Queued:  {Running: true, Cancelled: true},
	Running: {Succeeded: true, Failed: true, Cancelled: true},
}

// advance validates from -> to against edges and returns to, or an error
// naming the invalid edge.
func advance(from, to BuildState) (BuildState, error) {
	if from.Terminal() {
		return from, fmt.Errorf("build fsm: %s is terminal, cannot advance to %s", from, to)
	}
	if !edges[from][to] {
		return from, fmt.Errorf("build fsm: invalid transition %s -> %s", from, to)
	}
	return to, nil
}
