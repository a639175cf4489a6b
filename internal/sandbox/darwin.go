//go:build darwin

package sandbox

/*
#cgo LDFLAGS: -lSystem
#include <stdlib.h>
#include <sandbox.h>

// sandbox_init is declared in <sandbox.h> as deprecated but remains part of
// libSystem; there is no third-party Go sandbox_init binding anywhere in
// the example pack (see DESIGN.md), so this is a direct cgo call, the same
// shape the teacher's own cgo call sites (e.g. internal/jit) use for
// "wrap one C entry point with a minimal cgo shim".
int tangram_sandbox_init(const char *profile, char **errorbuf) {
	return sandbox_init(profile, SANDBOX_NAMED, errorbuf);
}
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"unsafe"

	"tangram/internal/terror"
)

type darwinSandbox struct{}

// New returns the macOS sandbox.
func New() Sandbox { return darwinSandbox{} }

func (darwinSandbox) Run(ctx context.Context, spec Spec) (Result, error) {
	profile := buildProfile(spec)

	self, err := os.Executable()
	if err != nil {
		return Result{}, terror.Wrap(terror.Sandbox, err, "resolve self executable")
	}
	cmd := exec.CommandContext(ctx, self, reexecMarker)
	cmd.Env = append(os.Environ(), "TANGRAM_SANDBOX_PROFILE="+profile,
		"TANGRAM_SANDBOX_EXE="+spec.Executable,
		"TANGRAM_SANDBOX_ARGS="+strings.Join(spec.Args, "\x00"),
		"TANGRAM_SANDBOX_ENV="+strings.Join(spec.Env, "\x00"))
	cmd.Dir = spec.WorkDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{ExitCode: exitErr.ExitCode()}, nil
		}
		return Result{}, terror.Wrap(terror.Sandbox, err, "run sandboxed task")
	}
	return Result{ExitCode: 0}, nil
}

const reexecMarker = "__tangram_sandbox_child__"

func init() {
	if len(os.Args) >= 2 && os.Args[1] == reexecMarker {
		runSandboxChild()
		os.Exit(127)
	}
}

// runSandboxChild applies the profile via sandbox_init as a pre_exec hook
// (spec §4.6.2 "Apply the profile in a pre_exec hook via sandbox_init; on
// non-zero return, abort the task"), then execve's the real task.
func runSandboxChild() {
	profile := os.Getenv("TANGRAM_SANDBOX_PROFILE")
	cProfile := C.CString(profile)
	defer C.free(unsafe.Pointer(cProfile))

	var cErr *C.char
	if rc := C.tangram_sandbox_init(cProfile, &cErr); rc != 0 {
		msg := "sandbox_init failed"
		if cErr != nil {
			msg = C.GoString(cErr)
			C.free(unsafe.Pointer(cErr))
		}
		fmt.Fprintf(os.Stderr, "tangram sandbox child: %s\n", msg)
		os.Exit(126)
	}

	exe := os.Getenv("TANGRAM_SANDBOX_EXE")
	var args []string
	if raw := os.Getenv("TANGRAM_SANDBOX_ARGS"); raw != "" {
		args = strings.Split(raw, "\x00")
	}
	var env []string
	if raw := os.Getenv("TANGRAM_SANDBOX_ENV"); raw != "" {
		env = strings.Split(raw, "\x00")
	}
	argv := append([]string{exe}, args...)
	if err := syscall.Exec(exe, argv, env); err != nil {
		fmt.Fprintf(os.Stderr, "tangram sandbox child: execve %s: %v\n", exe, err)
		os.Exit(126)
	}
}

// buildProfile synthesizes the TinyScheme sandbox profile of spec §4.6.2.
func buildProfile(spec Spec) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n")
	b.WriteString("(allow process-fork)\n(allow process-info*)\n")
	b.WriteString("(allow file-read* (subpath \"/\"))\n")
	b.WriteString("(allow file-write* (subpath \"/tmp\"))\n")
	b.WriteString("(allow file-read* file-write* (subpath \"/dev\"))\n")
	for _, exe := range []string{"/bin/sh", "/usr/bin/env", "/bin/bash"} {
		fmt.Fprintf(&b, "(allow process-exec* (literal %s))\n", tinySchemeString(exe))
	}
	b.WriteString("(allow process-exec* (subpath \"/Library/Apple/usr/libexec/oah\"))\n")
	b.WriteString("(allow file-read* (subpath \"/System/Library/dyld\"))\n")

	if spec.Network {
		b.WriteString("(allow network*)\n(allow file-read* file-write* (literal \"/Library/Preferences/com.apple.networkd.plist\"))\n")
	} else {
		b.WriteString("(deny network*)\n(allow network* (local ip \"localhost:*\"))\n(allow network* (remote unix-socket))\n")
	}

	dirs := []string{spec.OutputDir}
	for _, pm := range spec.HostPaths {
		dirs = append(dirs, pm.HostPath)
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		sp := tinySchemeString(d)
		fmt.Fprintf(&b, "(allow file-read* (subpath %s))\n", sp)
		fmt.Fprintf(&b, "(allow file-write* (subpath %s))\n", sp)
		fmt.Fprintf(&b, "(allow process-exec* (subpath %s))\n", sp)
	}

	return b.String()
}

// tinySchemeString escapes s into a TinyScheme string literal per spec
// §4.6.2: printable ASCII passes through, ", \, tab, newline, and carriage
// return get their backslash escapes, everything else becomes \xHH.
func tinySchemeString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			b.WriteString(`\"`)
		case c == '\\':
			b.WriteString(`\\`)
		case c == '\t':
			b.WriteString(`\t`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, `\x%02X`, c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
