//go:build !linux && !darwin

package sandbox

// New returns Unavailable on platforms spec §4.6 doesn't define a sandbox
// for (it only specifies Linux namespaces and a macOS sandbox_init profile).
func New() Sandbox { return Unavailable("no sandbox implementation for this platform") }
