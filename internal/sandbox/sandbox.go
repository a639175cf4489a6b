// Package sandbox implements the OS-specific task isolation of spec §4.6:
// Linux user/mount/net namespaces with pivot_root, and a macOS TinyScheme
// sandbox profile applied via sandbox_init. internal/evaluator depends only
// on the Sandbox interface below; New returns the platform's real
// implementation, or an Unavailable stub where none exists.
package sandbox

import (
	"context"
	"errors"
	"fmt"

	"tangram/internal/terror"
)

// Mode is a bind-mounted path's access level (spec §4.6.1 "Referenced-path
// mode lattice"). Mode values are ordered so Max(a, b) picks the more
// permissive of two requests for the same path.
type Mode int

const (
	Read Mode = iota
	ReadWrite
	ReadWriteCreate
)

// Max returns the more permissive of a and b, for when a host path is
// referenced more than once at different access levels.
func Max(a, b Mode) Mode {
	if a > b {
		return a
	}
	return b
}

// PathMount is one host path a task may read or write (spec §4.4 case 3:
// resolved artifact references, plus `host_paths`).
type PathMount struct {
	HostPath string
	Mode     Mode
}

// Spec is everything a sandboxed process run needs, already rendered (spec
// §4.4 case 3: executable/env/args templates are resolved to strings before
// the sandbox ever sees them).
type Spec struct {
	System     string // e.g. "x86_64-linux"
	Executable string
	Args       []string
	Env        []string // "KEY=VALUE" pairs, already including HOME/TANGRAM_*
	WorkDir    string   // scratch working directory, becomes the child's "/"
	OutputDir  string   // mounted read-write, becomes the task's declared output
	Network    bool
	HostPaths  []PathMount
}

// Result is the sandboxed process's outcome.
type Result struct {
	ExitCode int
}

// Sandbox runs one Task operation's process to completion (spec §4.4 case
// 3, §4.6). Implementations distinguish an Incomplete sandbox (logged as a
// warning, execution proceeds) from a fatal setup error (aborts the task):
// Run wraps the former in an *Incomplete (see IsIncomplete) and everything
// else in a *terror.Error of Kind Sandbox. Per spec §9's recorded safe
// default, a failed bind-mount of any task-referenced path is always fatal —
// Incomplete is reserved for steps that don't affect a referenced path or
// the process launch itself (e.g. best-effort /etc/resolv.conf seeding).
type Sandbox interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Incomplete marks a tolerable sandbox degradation (spec §4.6.1/§7): Path
// names the step that didn't fully succeed, Cause is the underlying error.
// A caller that encounters *Incomplete should log it and proceed; a total
// launch failure is never wrapped this way and must abort the task
// regardless of Task.Unsafe (Unsafe governs checksum/network policy, spec
// §3, not sandbox tolerance).
type Incomplete struct {
	Path  string
	Cause error
}

func (i *Incomplete) Error() string {
	return fmt.Sprintf("sandbox incomplete: %s: %v", i.Path, i.Cause)
}

func (i *Incomplete) Unwrap() error { return i.Cause }

// IsIncomplete reports whether err is (or wraps) an *Incomplete degradation
// rather than a fatal sandbox error.
func IsIncomplete(err error) (*Incomplete, bool) {
	var inc *Incomplete
	return inc, errors.As(err, &inc)
}

// unavailable is used on platforms (or build configurations) with no real
// sandbox implementation: every Run fails closed rather than running the
// task unconfined.
type unavailable struct{ reason string }

// Unavailable returns a Sandbox that refuses every run, for platforms spec
// §4.6 doesn't define a sandbox for.
func Unavailable(reason string) Sandbox { return unavailable{reason: reason} }

func (u unavailable) Run(context.Context, Spec) (Result, error) {
	return Result{}, terror.New(terror.Sandbox, "no sandbox implementation available: %s", u.reason)
}
