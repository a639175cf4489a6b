package main

import (
	"net"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestListenUnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "daemon.sock")
	ln, err := listen("unix://" + sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if ln.Addr().Network() != "unix" {
		t.Fatalf("expected unix network, got %s", ln.Addr().Network())
	}
}

func TestListenTCP(t *testing.T) {
	ln, err := listen("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if _, ok := ln.Addr().(*net.TCPAddr); !ok {
		t.Fatalf("expected *net.TCPAddr, got %T", ln.Addr())
	}
}

func TestListenBareHostPortDefaultsToTCP(t *testing.T) {
	ln, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
}

func TestCleanRunsAgainstEmptyStore(t *testing.T) {
	log = zap.NewNop()
	configPath = ""
	t.Setenv("TANGRAM_DATA_DIR", t.TempDir())

	if err := runClean(cleanCmd, nil); err != nil {
		t.Fatalf("runClean: %v", err)
	}
}
