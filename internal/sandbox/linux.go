//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"tangram/internal/terror"
)

// reexecMarker is argv[1] the daemon recognizes as "perform the sandbox
// mount/pivot_root sequence, then execve the real task", mirroring the
// self-reexec trick in go.podman.io/storage/pkg/reexec (vendored by the
// teacher's lazydocker dependency on buildah/podman) — read for technique,
// not imported: pulling in the whole containers/storage module for one
// unshare/pivot_root sequence would be disproportionate (see DESIGN.md).
const reexecMarker = "__tangram_sandbox_child__"

func init() {
	if len(os.Args) >= 2 && os.Args[1] == reexecMarker {
		runSandboxChild()
		os.Exit(127) // runSandboxChild only returns on unrecoverable setup failure
	}
}

// linuxSandbox is the real spec §4.6.1 implementation: the daemon
// re-executes itself (/proc/self/exe) into a new user+mount+(optionally)
// network namespace via exec.Cmd's Cloneflags/UidMappings, and the
// reexec-marked child process performs the mount/pivot_root sequence before
// execve-ing the task's real executable.
type linuxSandbox struct{}

// New returns the Linux sandbox.
func New() Sandbox { return linuxSandbox{} }

func (linuxSandbox) Run(ctx context.Context, spec Spec) (Result, error) {
	// Best-effort DNS config seeding (spec §4.6.1 step 4 "else copy
	// /etc/resolv.conf into the child tree") happens here, in the parent,
	// before any namespace exists: the path isn't one the task referenced
	// and the launch itself doesn't depend on it, so a failure is an
	// Incomplete degradation (spec §4.6.1 "Incomplete... logged as a
	// warning but execution proceeds"), not a fatal sandbox error.
	var incomplete error
	if spec.Network {
		if err := seedResolvConf(spec.WorkDir); err != nil {
			incomplete = &Incomplete{Path: "/etc/resolv.conf", Cause: err}
		}
	}

	payload, err := encodeChildSpec(spec)
	if err != nil {
		return Result{}, terror.Wrap(terror.Sandbox, err, "encode sandbox child spec")
	}

	self, err := os.Executable()
	if err != nil {
		return Result{}, terror.Wrap(terror.Sandbox, err, "resolve self executable")
	}

	cmd := exec.CommandContext(ctx, self, reexecMarker)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = []string{"TANGRAM_SANDBOX_SPEC=" + payload}

	uid := os.Getuid()
	gid := os.Getgid()
	cloneFlags := uintptr(unix.CLONE_NEWUSER | unix.CLONE_NEWNS)
	if !spec.Network {
		cloneFlags |= unix.CLONE_NEWNET
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:                 cloneFlags,
		UidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}},
		GidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}},
		GidMappingsEnableSetgroups: false,
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return Result{ExitCode: exitErr.ExitCode()}, incomplete
		}
		return Result{}, terror.Wrap(terror.Sandbox, err, "run sandboxed task")
	}
	return Result{ExitCode: 0}, incomplete
}

// seedResolvConf copies the host's /etc/resolv.conf into the scratch root
// before the child pivots into it, so the pivoted tree already has it in
// place without needing a bind mount. Called before the child's namespaces
// even exist, so failure here can't be conflated with a mount/pivot_root
// failure inside the sandboxed launch itself.
func seedResolvConf(workDir string) error {
	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dst := filepath.Join(workDir, "etc", "resolv.conf")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// runSandboxChild performs spec §4.6.1 steps 2-6 inside the already-cloned
// namespace and execve's the task's real executable. It only returns (with
// a nonzero exit via the caller's os.Exit) on setup failure; on success the
// process image is replaced and this function never returns.
func runSandboxChild() {
	spec, err := decodeChildSpec(os.Getenv("TANGRAM_SANDBOX_SPEC"))
	if err != nil {
		fatal("decode sandbox spec: %v", err)
	}

	// Step 2: now root inside the user namespace.
	if err := unix.Setresgid(0, 0, 0); err != nil {
		fatal("setresgid: %v", err)
	}
	if err := unix.Setresuid(0, 0, 0); err != nil {
		fatal("setresuid: %v", err)
	}

	// Step 3: make every existing mount private recursively so nothing
	// leaks outward, matching "remount / as rec,private".
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		fatal("remount / private: %v", err)
	}

	newRoot := spec.WorkDir
	if err := os.MkdirAll(newRoot, 0o755); err != nil {
		fatal("mkdir work dir: %v", err)
	}
	// Step 4a: bind-mount the scratch dir over itself so it is its own
	// mount point, a pivot_root requirement.
	if err := unix.Mount(newRoot, newRoot, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		fatal("bind-mount work dir over itself: %v", err)
	}

	parentDir := filepath.Join(newRoot, "parent")
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		fatal("mkdir pivot parent: %v", err)
	}

	bindInto(newRoot, "/proc", true)
	bindInto(newRoot, "/dev", true)

	tmpInNewRoot := filepath.Join(newRoot, "tmp")
	if err := os.MkdirAll(tmpInNewRoot, 0o1777); err != nil {
		fatal("mkdir tmp: %v", err)
	}
	if err := unix.Mount("tmpfs", tmpInNewRoot, "tmpfs", 0, ""); err != nil {
		fatal("mount tmpfs /tmp: %v", err)
	}

	// Output directory, if distinct from the work dir, is its own bind
	// mount so the task can write results without touching the rest of
	// the scratch tree.
	if spec.OutputDir != "" && spec.OutputDir != spec.WorkDir {
		bindInto(newRoot, spec.OutputDir, false)
	}

	for _, pm := range mergedMounts(spec.HostPaths) {
		target := pm.HostPath
		if pm.Mode == ReadWriteCreate {
			target = filepath.Dir(pm.HostPath)
		}
		bindInto(newRoot, target, false)
		if pm.Mode == Read {
			inChild := filepath.Join(newRoot, target)
			if err := unix.Mount("", inChild, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
				fatal("remount %s read-only: %v", target, err)
			}
		}
	}

	// /etc/resolv.conf, if network is enabled, was already seeded into
	// newRoot by the parent process (see seedResolvConf) before this child
	// was even cloned, so it survives the pivot below untouched.

	// Step 5: pivot into the scratch tree.
	if err := unix.PivotRoot(newRoot, parentDir); err != nil {
		fatal("pivot_root: %v", err)
	}
	if err := unix.Chdir("/"); err != nil {
		fatal("chdir /: %v", err)
	}
	if err := unix.Unmount("/parent", unix.MNT_DETACH); err != nil {
		fatal("umount /parent: %v", err)
	}
	if err := os.Remove("/parent"); err != nil {
		fatal("rmdir /parent: %v", err)
	}

	// Step 6.
	argv := append([]string{spec.Executable}, spec.Args...)
	if err := syscall.Exec(spec.Executable, argv, spec.Env); err != nil {
		fatal("execve %s: %v", spec.Executable, err)
	}
}

func bindInto(newRoot, hostPath string, recursive bool) {
	target := filepath.Join(newRoot, hostPath)
	if err := os.MkdirAll(target, 0o755); err != nil {
		fatal("mkdir %s: %v", target, err)
	}
	flags := uintptr(unix.MS_BIND)
	if recursive {
		flags |= unix.MS_REC
	}
	if err := unix.Mount(hostPath, target, "", flags, ""); err != nil {
		fatal("bind-mount %s: %v", hostPath, err)
	}
}

// mergedMounts applies the mode lattice (spec §4.6.1): a path referenced
// more than once keeps its most permissive mode, and results are sorted so
// mounting order is deterministic.
func mergedMounts(mounts []PathMount) []PathMount {
	byPath := map[string]Mode{}
	for _, m := range mounts {
		byPath[m.HostPath] = Max(byPath[m.HostPath], m.Mode)
	}
	out := make([]PathMount, 0, len(byPath))
	for p, m := range byPath {
		out = append(out, PathMount{HostPath: p, Mode: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostPath < out[j].HostPath })
	return out
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "tangram sandbox child: "+format+"\n", args...)
	os.Exit(126)
}
