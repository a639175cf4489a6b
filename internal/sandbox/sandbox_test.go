package sandbox

import (
	"context"
	"testing"
)

func TestModeLattice(t *testing.T) {
	if Max(Read, ReadWrite) != ReadWrite {
		t.Fatalf("Max(Read, ReadWrite) should be ReadWrite")
	}
	if Max(ReadWriteCreate, Read) != ReadWriteCreate {
		t.Fatalf("Max(ReadWriteCreate, Read) should be ReadWriteCreate")
	}
	if Max(ReadWrite, ReadWrite) != ReadWrite {
		t.Fatalf("Max(x, x) should be x")
	}
}

func TestUnavailableFailsClosed(t *testing.T) {
	sb := Unavailable("test platform")
	_, err := sb.Run(context.Background(), Spec{})
	if err == nil {
		t.Fatal("expected Unavailable.Run to fail")
	}
}
