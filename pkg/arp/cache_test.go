package arp

import (
	"testing"
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

type fakeAddrSource struct {
	ip  [4]byte
	mac packetbuf.MacAddr
}

func (f fakeAddrSource) AddressFor(port packetbuf.PortID) ([4]byte, packetbuf.MacAddr, bool) {
	return f.ip, f.mac, true
}

type fakeLearner struct {
	learned []packetbuf.MacAddr
}

func (f *fakeLearner) Learn(mac packetbuf.MacAddr, vlan packetbuf.VlanID, port packetbuf.PortID) {
	f.learned = append(f.learned, mac)
}

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(port packetbuf.PortID, frame []byte) error {
	f.sent = append(f.sent, frame)
	return nil
}

func mkMac(b byte) packetbuf.MacAddr {
	return packetbuf.MacAddr{0x02, 0, 0, 0, 0, b}
}

func TestLookupAbsentEntrySendsRequestAndReturnsPending(t *testing.T) {
	c := New(CacheSize)
	sender := &fakeSender{}
	c.SetFrameSender(sender)
	c.SetPortAddressSource(fakeAddrSource{ip: [4]byte{10, 0, 0, 1}, mac: mkMac(1)})

	now := time.Now()
	res, _, _ := c.Lookup([4]byte{10, 0, 0, 2}, packetbuf.PortID(1), now)
	if res != LookupPending {
		t.Fatalf("result = %v, want LookupPending", res)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d frames, want 1", len(sender.sent))
	}

	res2, _, _ := c.Lookup([4]byte{10, 0, 0, 2}, packetbuf.PortID(1), now)
	if res2 != LookupPending {
		t.Fatalf("second lookup result = %v, want LookupPending (still incomplete)", res2)
	}
}

func TestAddOrUpdateMakesEntryReachable(t *testing.T) {
	c := New(CacheSize)
	learner := &fakeLearner{}
	c.SetMacLearner(learner)

	now := time.Now()
	mac := mkMac(9)
	c.AddOrUpdate([4]byte{10, 0, 0, 2}, mac, packetbuf.PortID(3), now)

	res, gotMac, gotPort := c.Lookup([4]byte{10, 0, 0, 2}, packetbuf.PortID(3), now)
	if res != LookupOk {
		t.Fatalf("result = %v, want LookupOk", res)
	}
	if gotMac != mac || gotPort != packetbuf.PortID(3) {
		t.Fatalf("got mac=%v port=%v", gotMac, gotPort)
	}
	if len(learner.learned) != 1 {
		t.Fatalf("mac table learn calls = %d, want 1", len(learner.learned))
	}
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	c := New(CacheSize)
	c.SetFrameSender(&fakeSender{})
	c.SetPortAddressSource(fakeAddrSource{ip: [4]byte{10, 0, 0, 1}, mac: mkMac(1)})

	now := time.Now()
	c.Lookup([4]byte{10, 0, 0, 2}, packetbuf.PortID(1), now)

	for i := 0; i < RequestRetryCount; i++ {
		now = now.Add(RequestRetryInterval + time.Millisecond)
		c.ProcessRetries(now)
	}
	now = now.Add(RequestRetryInterval + time.Millisecond)
	c.ProcessRetries(now)

	e, ok := c.Get([4]byte{10, 0, 0, 2})
	if !ok {
		t.Fatal("expected entry to still exist")
	}
	if e.State != Failed {
		t.Fatalf("state = %v, want Failed", e.State)
	}

	res, _, _ := c.Lookup([4]byte{10, 0, 0, 2}, packetbuf.PortID(1), now)
	if res != LookupNotFound {
		t.Fatalf("result = %v, want LookupNotFound", res)
	}
}

func TestAgeEntriesEvictsStaleReachable(t *testing.T) {
	c := New(CacheSize)
	now := time.Now()
	c.AddOrUpdate([4]byte{10, 0, 0, 2}, mkMac(2), packetbuf.PortID(1), now)

	c.AgeEntries(now.Add(CacheTimeout - time.Second))
	if _, ok := c.Get([4]byte{10, 0, 0, 2}); !ok {
		t.Fatal("entry evicted too early")
	}

	c.AgeEntries(now.Add(CacheTimeout + time.Second))
	if _, ok := c.Get([4]byte{10, 0, 0, 2}); ok {
		t.Fatal("expected entry to be aged out")
	}
}

func TestEvictLRUWhenFull(t *testing.T) {
	c := New(2)
	now := time.Now()
	c.AddOrUpdate([4]byte{10, 0, 0, 1}, mkMac(1), packetbuf.PortID(1), now)
	c.AddOrUpdate([4]byte{10, 0, 0, 2}, mkMac(2), packetbuf.PortID(1), now.Add(time.Second))

	c.AddOrUpdate([4]byte{10, 0, 0, 3}, mkMac(3), packetbuf.PortID(1), now.Add(2*time.Second))

	if c.Count() > 2 {
		t.Fatalf("count = %d, want at most 2 after eviction", c.Count())
	}
	if _, ok := c.Get([4]byte{10, 0, 0, 1}); ok {
		t.Fatal("expected oldest entry to be recycled")
	}
	if _, ok := c.Get([4]byte{10, 0, 0, 3}); !ok {
		t.Fatal("expected newest entry to be present")
	}
}

func TestHandleFrameRepliesToRequestForLocalIP(t *testing.T) {
	c := New(CacheSize)
	sender := &fakeSender{}
	c.SetFrameSender(sender)
	localIP := [4]byte{10, 0, 0, 1}
	localMac := mkMac(0xAA)
	c.SetPortAddressSource(fakeAddrSource{ip: localIP, mac: localMac})

	req := Packet{
		HardwareType: HardwareTypeEthernet,
		ProtoType:    ProtoTypeIPv4,
		HwAddrLen:    HwAddrLen,
		ProtoAddrLen: ProtoAddrLen,
		Opcode:       OpRequest,
		SenderMac:    mkMac(0xBB),
		SenderIP:     [4]byte{10, 0, 0, 2},
		TargetIP:     localIP,
	}
	frame := req.Encode()

	if err := c.HandleFrame(frame, packetbuf.PortID(1), time.Now()); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("replies sent = %d, want 1", len(sender.sent))
	}

	reply, err := Decode(sender.sent[0][14:])
	if err != nil {
		t.Fatal(err)
	}
	if reply.Opcode != OpReply || reply.SenderIP != localIP || reply.TargetIP != req.SenderIP {
		t.Fatalf("unexpected reply packet: %+v", reply)
	}

	if e, ok := c.Get(req.SenderIP); !ok || e.Mac != req.SenderMac {
		t.Fatal("expected sender to be learned")
	}
}

func TestHandleFramePlainReplyLearnsSenderOnly(t *testing.T) {
	c := New(CacheSize)
	sender := &fakeSender{}
	c.SetFrameSender(sender)
	c.SetPortAddressSource(fakeAddrSource{ip: [4]byte{10, 0, 0, 1}, mac: mkMac(0xAA)})

	reply := Packet{
		HardwareType: HardwareTypeEthernet,
		ProtoType:    ProtoTypeIPv4,
		HwAddrLen:    HwAddrLen,
		ProtoAddrLen: ProtoAddrLen,
		Opcode:       OpReply,
		SenderMac:    mkMac(0xCC),
		SenderIP:     [4]byte{10, 0, 0, 5},
		TargetMac:    mkMac(0xAA),
		TargetIP:     [4]byte{10, 0, 0, 1},
	}
	if err := c.HandleFrame(reply.Encode(), packetbuf.PortID(2), time.Now()); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %d frames, want 0 for a reply", len(sender.sent))
	}
	if e, ok := c.Get(reply.SenderIP); !ok || e.State != Reachable {
		t.Fatal("expected reply sender to be learned as reachable")
	}
}

func TestWireEncodeDecodeRoundTrip(t *testing.T) {
	p := Packet{
		HardwareType: HardwareTypeEthernet,
		ProtoType:    ProtoTypeIPv4,
		HwAddrLen:    HwAddrLen,
		ProtoAddrLen: ProtoAddrLen,
		Opcode:       OpRequest,
		SenderMac:    mkMac(1),
		SenderIP:     [4]byte{1, 2, 3, 4},
		TargetMac:    mkMac(2),
		TargetIP:     [4]byte{5, 6, 7, 8},
	}
	got, err := Decode(p.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestDecodeRejectsBadHardwareType(t *testing.T) {
	p := Packet{HardwareType: 6, ProtoType: ProtoTypeIPv4, HwAddrLen: HwAddrLen, ProtoAddrLen: ProtoAddrLen}
	if _, err := Decode(p.Encode()); err != ErrBadHardwareType {
		t.Fatalf("err = %v, want ErrBadHardwareType", err)
	}
}
