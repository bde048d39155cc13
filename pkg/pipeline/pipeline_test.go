package pipeline

import (
	"testing"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

func newPacket(t *testing.T) *packetbuf.Buffer {
	t.Helper()
	b, err := packetbuf.Allocate(64)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestProcessOrderIsPriorityStable(t *testing.T) {
	p := New()
	var order []int

	record := func(tag int) Callback {
		return func(pkt *packetbuf.Buffer, userData any, depth int) Verdict {
			order = append(order, tag)
			return Forward
		}
	}

	if _, err := p.Register(20, record(2), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Register(10, record(1), nil); err != nil {
		t.Fatal(err)
	}
	if p.Process(newPacket(t)) != Forward {
		t.Fatal("expected Forward")
	}
	if len(order) < 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("priority order wrong: %v", order)
	}
}

func TestDropShortCircuits(t *testing.T) {
	p := New()
	called := false
	if _, err := p.Register(1, func(pkt *packetbuf.Buffer, u any, d int) Verdict { return Drop }, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Register(2, func(pkt *packetbuf.Buffer, u any, d int) Verdict { called = true; return Forward }, nil); err != nil {
		t.Fatal(err)
	}
	if v := p.Process(newPacket(t)); v != Drop {
		t.Fatalf("Process() = %v, want Drop", v)
	}
	if called {
		t.Error("lower-priority processor ran after Drop")
	}
}

func TestRecirculateBounded(t *testing.T) {
	p := New()
	count := 0
	if _, err := p.Register(1, func(pkt *packetbuf.Buffer, u any, d int) Verdict {
		count++
		return Recirculate
	}, nil); err != nil {
		t.Fatal(err)
	}
	if v := p.Process(newPacket(t)); v != Drop {
		t.Fatalf("Process() = %v, want Drop once recirculation limit hit", v)
	}
	if count > MaxRecirculation+2 {
		t.Fatalf("recirculated too many times: %d", count)
	}
}

func TestUnregisterInvalidatesHandle(t *testing.T) {
	p := New()
	h, err := p.Register(1, func(pkt *packetbuf.Buffer, u any, d int) Verdict { return Forward }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Unregister(h); err != nil {
		t.Fatal(err)
	}
	if err := p.Unregister(h); err == nil {
		t.Error("expected error unregistering stale handle")
	}
}

func TestRegistrationDuringTraversalNotSeenUntilNextPacket(t *testing.T) {
	p := New()
	var secondRan bool
	if _, err := p.Register(1, func(pkt *packetbuf.Buffer, u any, d int) Verdict {
		_, _ = p.Register(2, func(pkt *packetbuf.Buffer, u any, d int) Verdict {
			secondRan = true
			return Forward
		}, nil)
		return Forward
	}, nil); err != nil {
		t.Fatal(err)
	}
	if p.Process(newPacket(t)) != Forward {
		t.Fatal("expected Forward")
	}
	if secondRan {
		t.Error("processor registered mid-traversal ran on the same packet")
	}
	secondRan = false
	if p.Process(newPacket(t)) != Forward {
		t.Fatal("expected Forward")
	}
	if !secondRan {
		t.Error("processor registered in a prior traversal should run on the next packet")
	}
}
