package core

import (
	"testing"
	"time"

	"github.com/nexswitch/vswitch/pkg/arp"
	"github.com/nexswitch/vswitch/pkg/backend/simulated"
	"github.com/nexswitch/vswitch/pkg/config"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
	"github.com/nexswitch/vswitch/pkg/vlan"
)

func testConfig(portCount int) *config.SwitchConfig {
	cfg := config.Default()
	cfg.Ports.DefaultPortCount = portCount
	// Disable STP so ports forward immediately; STP's own convergence
	// timing is covered by pkg/stp's own tests.
	cfg.Features.STP = false
	return cfg
}

func newTestSwitch(t *testing.T, portCount int) (*Core, *simulated.Backend) {
	t.Helper()
	be := simulated.New(uint32(portCount))
	c, err := New(testConfig(portCount), be)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	return c, be
}

// attachHost connects a single-port simulated backend to switch port p and
// returns a channel fed with every frame the host receives.
func attachHost(swBackend *simulated.Backend, p packetbuf.PortID) (*simulated.Backend, chan []byte) {
	host := simulated.New(1)
	swBackend.Connect(p, host, 0)
	rx := make(chan []byte, 16)
	host.SetReceiveFunc(func(_ packetbuf.PortID, frame []byte, _ uint64) {
		rx <- frame
	})
	return host, rx
}

func ethFrame(dst, src packetbuf.MacAddr, etherType uint16, payload []byte) []byte {
	f := make([]byte, 14+len(payload))
	copy(f[0:6], dst[:])
	copy(f[6:12], src[:])
	f[12] = byte(etherType >> 8)
	f[13] = byte(etherType)
	copy(f[14:], payload)
	return f
}

func recvOrTimeout(t *testing.T, ch chan []byte, want bool) []byte {
	t.Helper()
	select {
	case f := <-ch:
		if !want {
			t.Fatalf("unexpected frame delivered: % x", f)
		}
		return f
	case <-time.After(200 * time.Millisecond):
		if want {
			t.Fatal("expected a frame, got none")
		}
		return nil
	}
}

// S1: an unknown-destination unicast frame floods to every other port on
// the ingress VLAN, and the sender learns nothing back from itself.
func TestUnknownUnicastFloods(t *testing.T) {
	c, be := newTestSwitch(t, 3)
	_ = c
	hostA, _ := attachHost(be, 0)
	_, rxB := attachHost(be, 1)
	_, rxC := attachHost(be, 2)

	macA := packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0xAA}
	macX := packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0xFF}
	frame := ethFrame(macX, macA, 0x1234, []byte("hello"))

	if err := hostA.Transmit(0, frame); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	recvOrTimeout(t, rxB, true)
	recvOrTimeout(t, rxC, true)
}

// S2: once a destination MAC has been learned on a port, traffic to it is
// forwarded as unicast rather than flooded.
func TestLearnedMacIsForwardedNotFlooded(t *testing.T) {
	c, be := newTestSwitch(t, 3)
	_ = c
	hostA, _ := attachHost(be, 0)
	hostB, rxB := attachHost(be, 1)
	_, rxC := attachHost(be, 2)

	macA := packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0xAA}
	macB := packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0xBB}

	// B speaks first so the switch learns macB -> port 1.
	if err := hostB.Transmit(0, ethFrame(macA, macB, 0x1234, []byte("hi"))); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	// B's frame to the not-yet-learned macA was flooded to C as well; drain it.
	recvOrTimeout(t, rxC, true)

	_, rxA := attachRxOnly(hostA)
	if err := hostA.Transmit(0, ethFrame(macB, macA, 0x1234, []byte("reply"))); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	recvOrTimeout(t, rxA, false)
	recvOrTimeout(t, rxB, true)
	select {
	case <-rxC:
		t.Fatal("frame to a learned MAC should not flood to an uninvolved port")
	case <-time.After(100 * time.Millisecond):
	}
}

func attachRxOnly(host *simulated.Backend) (*simulated.Backend, chan []byte) {
	rx := make(chan []byte, 16)
	host.SetReceiveFunc(func(_ packetbuf.PortID, frame []byte, _ uint64) {
		rx <- frame
	})
	return host, rx
}

// S3: ports on different VLANs do not see each other's broadcast traffic.
func TestVlanIsolatesFlooding(t *testing.T) {
	c, be := newTestSwitch(t, 3)
	if err := c.Vlans().CreateVlan(20, "eng"); err != nil {
		t.Fatalf("CreateVlan: %v", err)
	}
	if err := c.Vlans().SetPortConfig(2, vlanAccessConfig(20)); err != nil {
		t.Fatalf("SetPortConfig: %v", err)
	}
	if err := c.Vlans().AddPort(20, 2, true); err != nil {
		t.Fatalf("AddPort: %v", err)
	}
	if err := c.Vlans().RemovePort(packetbuf.VlanID(config.Default().Vlans.DefaultVlanID), 2); err != nil {
		t.Fatalf("RemovePort: %v", err)
	}

	hostA, _ := attachHost(be, 0)
	_, rxB := attachHost(be, 1)
	_, rxC := attachHost(be, 2)

	macA := packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0xAA}
	macX := packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0xFF}
	if err := hostA.Transmit(0, ethFrame(macX, macA, 0x1234, []byte("hi"))); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	recvOrTimeout(t, rxB, true)
	select {
	case <-rxC:
		t.Fatal("frame leaked across vlans")
	case <-time.After(100 * time.Millisecond):
	}
}

// S4: an ARP request broadcast by one host still reaches another host on
// the same VLAN (the switch snoops it without removing it from the wire).
func TestArpBroadcastIsSwitchedToOtherHosts(t *testing.T) {
	c, be := newTestSwitch(t, 2)
	_ = c
	hostA, _ := attachHost(be, 0)
	_, rxB := attachHost(be, 1)

	macA := packetbuf.MacAddr{0x02, 0, 0, 0, 0, 0xAA}
	broadcast := arp.Broadcast

	arpReq := arp.Packet{
		HardwareType: arp.HardwareTypeEthernet,
		ProtoType:    arp.ProtoTypeIPv4,
		HwAddrLen:    arp.HwAddrLen,
		ProtoAddrLen: arp.ProtoAddrLen,
		Opcode:       arp.OpRequest,
		SenderMac:    macA,
		SenderIP:     [4]byte{10, 0, 0, 1},
		TargetIP:     [4]byte{10, 0, 0, 2},
	}.Encode()

	if err := hostA.Transmit(0, ethFrame(broadcast, macA, arp.EtherTypeARP, arpReq)); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	recvOrTimeout(t, rxB, true)
}

func vlanAccessConfig(pvid packetbuf.VlanID) vlan.PortConfig {
	return vlan.PortConfig{
		Mode:           vlan.ModeAccess,
		Pvid:           pvid,
		NativeVlan:     pvid,
		AcceptTagged:   true,
		AcceptUntagged: true,
		IngressFilter:  true,
		HybridTagged:   vlan.NewPortSet(),
	}
}
