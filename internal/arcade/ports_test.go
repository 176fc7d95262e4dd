package arcade

import (
	"errors"
	"testing"

	"github.com/arcadenet/arcadectl/internal/testutil/testlog"
)

func TestPortAllocatorUniqueUntilReleased(t *testing.T) {
	testlog.Start(t)

	p := NewPortAllocator(40000, 3)
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		port, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if seen[port] {
			t.Fatalf("port %d handed out twice", port)
		}
		if port < 40000 || port >= 40003 {
			t.Fatalf("port %d outside range", port)
		}
		seen[port] = true
	}

	if _, err := p.Acquire(); !errors.Is(err, ErrPortsExhausted) {
		t.Fatalf("expected ErrPortsExhausted, got %v", err)
	}

	p.Release(40001)
	port, err := p.Acquire()
	if err != nil || port != 40001 {
		t.Fatalf("expected released port 40001 back, got %d err=%v", port, err)
	}
}

func TestPortAllocatorReleaseUnknownIsNoop(t *testing.T) {
	testlog.Start(t)

	p := NewPortAllocator(40000, 2)
	p.Release(49999)
	if got := p.InUse(); got != 0 {
		t.Fatalf("expected no ports in use, got %d", got)
	}
}
