//go:build linux

package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSeedResolvConfMissingSourceIsNotAnError(t *testing.T) {
	// /etc/resolv.conf not existing on this host is not a failure worth
	// reporting as Incomplete; there's nothing to seed.
	dir := t.TempDir()
	if err := seedResolvConf(dir); err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("seedResolvConf should swallow a missing source, got: %v", err)
		}
	}
}

func TestSeedResolvConfWritesIntoWorkDir(t *testing.T) {
	if _, err := os.Stat("/etc/resolv.conf"); err != nil {
		t.Skip("no /etc/resolv.conf on this host")
	}
	dir := t.TempDir()
	if err := seedResolvConf(dir); err != nil {
		t.Fatalf("seedResolvConf: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "etc", "resolv.conf")); err != nil {
		t.Fatalf("expected resolv.conf to be seeded: %v", err)
	}
}

func TestMergedMountsTakesMostPermissiveMode(t *testing.T) {
	got := mergedMounts([]PathMount{
		{HostPath: "/a", Mode: Read},
		{HostPath: "/a", Mode: ReadWrite},
		{HostPath: "/b", Mode: Read},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 merged mounts, got %d", len(got))
	}
	if got[0].HostPath != "/a" || got[0].Mode != ReadWrite {
		t.Fatalf("expected /a upgraded to ReadWrite, got %+v", got[0])
	}
	if got[1].HostPath != "/b" || got[1].Mode != Read {
		t.Fatalf("expected /b to stay Read, got %+v", got[1])
	}
}

func TestMergedMountsIsSortedDeterministically(t *testing.T) {
	got := mergedMounts([]PathMount{{HostPath: "/z"}, {HostPath: "/a"}})
	if got[0].HostPath != "/a" || got[1].HostPath != "/z" {
		t.Fatalf("expected sorted order, got %+v", got)
	}
}

func TestEncodeDecodeChildSpecRoundTrip(t *testing.T) {
	spec := Spec{
		WorkDir:    "/work",
		OutputDir:  "/work/output",
		Executable: "/bin/sh",
		Args:       []string{"-c", "true"},
		Env:        []string{"A=1"},
		Network:    true,
		HostPaths:  []PathMount{{HostPath: "/x", Mode: ReadWrite}},
	}
	raw, err := encodeChildSpec(spec)
	if err != nil {
		t.Fatalf("encodeChildSpec: %v", err)
	}
	got, err := decodeChildSpec(raw)
	if err != nil {
		t.Fatalf("decodeChildSpec: %v", err)
	}
	if got.WorkDir != spec.WorkDir || got.Executable != spec.Executable || len(got.Args) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.Network || len(got.HostPaths) != 1 || got.HostPaths[0].Mode != ReadWrite {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}
