package port

import (
	"testing"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

func TestNewRegistryCPUPortInvariants(t *testing.T) {
	r := New(4, packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0})

	if got, want := r.Count(), uint32(4); got != want {
		t.Fatalf("Count() = %d, want %d", got, want)
	}
	if got, want := r.TotalCount(), uint32(5); got != want {
		t.Fatalf("TotalCount() = %d, want %d", got, want)
	}

	cpu, err := r.GetInfo(r.CPUPort())
	if err != nil {
		t.Fatalf("GetInfo(cpu): %v", err)
	}
	if cpu.Kind != KindCpu {
		t.Errorf("cpu port kind = %v, want Cpu", cpu.Kind)
	}
	if !cpu.AdminUp || cpu.OperState != StateUp {
		t.Errorf("cpu port must be admin-up and oper-up by default: %+v", cpu)
	}
	if cpu.MacAddr != (packetbuf.MacAddr{0, 0, 0, 0, 0, 1}) {
		t.Errorf("cpu port mac = %v, want 00:00:00:00:00:01", cpu.MacAddr)
	}
}

func TestGenerateMACDistinctPerPort(t *testing.T) {
	base := packetbuf.MacAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x00}
	r := New(3, base)

	seen := map[packetbuf.MacAddr]bool{}
	for i := packetbuf.PortID(0); i < 3; i++ {
		e, err := r.GetInfo(i)
		if err != nil {
			t.Fatal(err)
		}
		if seen[e.MacAddr] {
			t.Fatalf("duplicate MAC generated for port %d: %v", i, e.MacAddr)
		}
		seen[e.MacAddr] = true
	}
}

func TestSetMacRejectsZeroAndMulticast(t *testing.T) {
	r := New(1, packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0})

	if err := r.SetMac(0, packetbuf.MacAddr{}); err == nil {
		t.Error("expected error setting unicast-zero MAC")
	}
	if err := r.SetMac(0, packetbuf.MacAddr{0x01, 0, 0, 0, 0, 0}); err == nil {
		t.Error("expected error setting multicast MAC")
	}
	if err := r.SetMac(0, packetbuf.MacAddr{0x02, 1, 2, 3, 4, 5}); err != nil {
		t.Errorf("valid MAC rejected: %v", err)
	}
}

func TestSetAdminStateDownClearsOperState(t *testing.T) {
	r := New(1, packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0})
	if err := r.SetOperState(0, StateForwarding); err != nil {
		t.Fatal(err)
	}
	if err := r.SetAdminState(0, false); err != nil {
		t.Fatal(err)
	}
	st, err := r.StateOf(0)
	if err != nil {
		t.Fatal(err)
	}
	if st != StateDown {
		t.Errorf("oper state after admin-down = %v, want Down", st)
	}
}

func TestCPUPortConfigImmutable(t *testing.T) {
	r := New(1, packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0})
	if err := r.SetAdminState(r.CPUPort(), false); err == nil {
		t.Error("expected error mutating cpu port admin state")
	}
}

func TestGetInfoUnknownPort(t *testing.T) {
	r := New(1, packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0})
	if _, err := r.GetInfo(99); err == nil {
		t.Error("expected error for unknown port id")
	}
}
