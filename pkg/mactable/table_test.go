package mactable

import (
	"testing"
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

func mac(b byte) packetbuf.MacAddr {
	return packetbuf.MacAddr{0xaa, 0xbb, 0xcc, 0, 0, b}
}

func TestLearnThenLookup(t *testing.T) {
	tbl := New(1024, 300*time.Second)
	tbl.Learn(mac(1), 1, 5)
	port, ok := tbl.Lookup(mac(1), 1)
	if !ok || port != 5 {
		t.Fatalf("Lookup = (%v, %v), want (5, true)", port, ok)
	}
}

func TestStaticOverridesDynamicNotViceVersa(t *testing.T) {
	tbl := New(1024, 300*time.Second)
	tbl.Learn(mac(1), 1, 5)
	if err := tbl.Add(mac(1), 1, 9, true); err != nil {
		t.Fatal(err)
	}
	port, _ := tbl.Lookup(mac(1), 1)
	if port != 9 {
		t.Fatalf("static add should override dynamic port, got %v", port)
	}
	tbl.Learn(mac(1), 1, 2) // dynamic learn attempt against static entry
	port, _ = tbl.Lookup(mac(1), 1)
	if port != 9 {
		t.Fatalf("dynamic learn must not override static entry, got %v", port)
	}
}

func TestMoveEventFiresOnPortChange(t *testing.T) {
	tbl := New(1024, 300*time.Second)
	var moves int
	tbl.SetEventCallback(func(e Entry, added bool) {
		if added {
			moves++
		}
	})
	tbl.Learn(mac(1), 1, 5)
	tbl.Learn(mac(1), 1, 6)
	if moves < 2 {
		t.Fatalf("expected at least 2 add/update events, got %d", moves)
	}
}

func TestAgingEvictsIdleDynamicEntries(t *testing.T) {
	tbl := New(1024, 1*time.Second)
	tbl.Learn(mac(1), 1, 5)
	tbl.ProcessAging(time.Now().Add(2 * time.Second))
	if _, ok := tbl.Lookup(mac(1), 1); ok {
		t.Fatal("expected entry to age out")
	}
}

func TestAgingDisabledWhenZero(t *testing.T) {
	tbl := New(1024, 0)
	tbl.Learn(mac(1), 1, 5)
	tbl.ProcessAging(time.Now().Add(24 * time.Hour))
	if _, ok := tbl.Lookup(mac(1), 1); !ok {
		t.Fatal("entry should not age out when aging disabled")
	}
}

func TestTableFullEvictsLRUDynamic(t *testing.T) {
	tbl := New(4, 300*time.Second) // rounds up to 16 buckets but maxEntries stays 4
	for i := byte(1); i <= 4; i++ {
		if err := tbl.Add(mac(i), 1, packetbuf.PortID(i), false); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	if err := tbl.Add(mac(5), 1, 5, false); err != nil {
		t.Fatalf("expected LRU eviction to make room, got error: %v", err)
	}
	if _, ok := tbl.Lookup(mac(1), 1); ok {
		t.Fatal("oldest dynamic entry should have been evicted")
	}
	if tbl.Count() != 4 {
		t.Fatalf("Count() = %d, want 4", tbl.Count())
	}
}

func TestFlushByVlan(t *testing.T) {
	tbl := New(1024, 300*time.Second)
	tbl.Learn(mac(1), 1, 5)
	tbl.Learn(mac(2), 2, 6)
	v := packetbuf.VlanID(1)
	tbl.Flush(&v, nil, true)
	if _, ok := tbl.Lookup(mac(1), 1); ok {
		t.Fatal("vlan 1 entry should be flushed")
	}
	if _, ok := tbl.Lookup(mac(2), 2); !ok {
		t.Fatal("vlan 2 entry should survive flush of vlan 1")
	}
}
