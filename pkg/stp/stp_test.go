package stp

import (
	"testing"
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

func mac(b byte) packetbuf.MacAddr {
	return packetbuf.MacAddr{0x02, 0x00, 0x00, 0x00, 0x00, b}
}

func upPort(t *testing.T, b *Bridge, id packetbuf.PortID) {
	t.Helper()
	if err := b.AddPort(id); err != nil {
		t.Fatal(err)
	}
	b.SetEnabled(true)
	if err := b.SetPortLink(id, true, true); err != nil {
		t.Fatal(err)
	}
}

func TestBridgeBootstrapsAsOwnRoot(t *testing.T) {
	b := New(DefaultBridgePriority, mac(1))
	if !b.IsRootBridge() {
		t.Fatal("fresh bridge should be its own root")
	}
}

func TestSuperiorBpduBecomesRoot(t *testing.T) {
	b := New(DefaultBridgePriority, mac(2))
	upPort(t, b, 1)

	superior := BridgeID{Priority: 100, Mac: mac(1)}
	err := b.HandleBPDU(1, ConfigBPDU{
		RootID: superior, RootPathCost: 0, BridgeID: superior, PortID: 1,
		MaxAge: 20, HelloTime: 2, ForwardDelay: 15,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.IsRootBridge() {
		t.Fatal("bridge should have ceded root to the superior BPDU")
	}
	if got := b.RootID(); !got.Equal(superior) {
		t.Fatalf("root id = %+v, want %+v", got, superior)
	}
	rp, ok := b.RootPort()
	if !ok || rp != 1 {
		t.Fatalf("root port = %v,%v, want 1,true", rp, ok)
	}
}

func TestInferiorBpduDoesNotDisplaceRoot(t *testing.T) {
	b := New(10, mac(1)) // numerically low priority => already senior
	upPort(t, b, 1)

	inferior := BridgeID{Priority: 40000, Mac: mac(9)}
	if err := b.HandleBPDU(1, ConfigBPDU{
		RootID: inferior, RootPathCost: 5, BridgeID: inferior, PortID: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if !b.IsRootBridge() {
		t.Fatal("bridge should remain root against an inferior advertisement")
	}
}

func TestPortProgressesListeningLearningForwarding(t *testing.T) {
	b := New(DefaultBridgePriority, mac(3))
	b.forwardDelay = 1 * time.Second
	upPort(t, b, 1)

	superior := BridgeID{Priority: 1, Mac: mac(1)}
	if err := b.HandleBPDU(1, ConfigBPDU{RootID: superior, BridgeID: superior, PortID: 1}); err != nil {
		t.Fatal(err)
	}
	st, _ := b.GetPortState(1)
	if st != Listening {
		t.Fatalf("state after superior bpdu = %v, want listening", st)
	}

	now := time.Now()
	b.Update(now.Add(2 * time.Second))
	st, _ = b.GetPortState(1)
	if st != Learning {
		t.Fatalf("state after one forward delay = %v, want learning", st)
	}

	b.Update(now.Add(4 * time.Second))
	st, _ = b.GetPortState(1)
	if st != Forwarding {
		t.Fatalf("state after two forward delays = %v, want forwarding", st)
	}
}

func TestDisablingStpForcesForwarding(t *testing.T) {
	b := New(DefaultBridgePriority, mac(4))
	upPort(t, b, 1)
	if err := b.AddPort(2); err != nil {
		t.Fatal(err)
	}
	b.SetEnabled(false)
	st, err := b.GetPortState(2)
	if err != nil {
		t.Fatal(err)
	}
	if st != Forwarding {
		t.Fatalf("port state with stp disabled = %v, want forwarding", st)
	}
}

func TestLinkDownOnRootPortTriggersReconvergence(t *testing.T) {
	b := New(DefaultBridgePriority, mac(5))
	upPort(t, b, 1)

	superior := BridgeID{Priority: 1, Mac: mac(1)}
	if err := b.HandleBPDU(1, ConfigBPDU{RootID: superior, BridgeID: superior, PortID: 1}); err != nil {
		t.Fatal(err)
	}
	if b.IsRootBridge() {
		t.Fatal("expected to have ceded root")
	}
	if err := b.SetPortLink(1, true, false); err != nil {
		t.Fatal(err)
	}
	if !b.IsRootBridge() {
		t.Fatal("losing the root port should make the bridge its own root again")
	}
}

func TestConfigBpduEncodeDecodeRoundTrip(t *testing.T) {
	src := mac(7)
	in := ConfigBPDU{
		Flags:        0,
		RootID:       BridgeID{Priority: 4096, Mac: mac(1)},
		RootPathCost: 19,
		BridgeID:     BridgeID{Priority: 32768, Mac: mac(7)},
		PortID:       0x8001,
		MessageAge:   0,
		MaxAge:       20,
		HelloTime:    2,
		ForwardDelay: 15,
	}
	frame := EncodeConfig(src, in)
	if len(frame) != configFrameLen {
		t.Fatalf("frame len = %d, want %d", len(frame), configFrameLen)
	}
	out, err := DecodeConfig(frame)
	if err != nil {
		t.Fatal(err)
	}
	if out.RootID != in.RootID || out.BridgeID != in.BridgeID || out.RootPathCost != in.RootPathCost {
		t.Fatalf("decode mismatch: got %+v, want %+v", out, in)
	}
	if out.HelloTime != in.HelloTime || out.MaxAge != in.MaxAge || out.ForwardDelay != in.ForwardDelay {
		t.Fatalf("timer decode mismatch: got %+v, want %+v", out, in)
	}
}

func TestTcnFrameShapeAndDetection(t *testing.T) {
	frame := EncodeTCN(mac(1))
	if len(frame) != tcnFrameLen {
		t.Fatalf("tcn frame len = %d, want %d", len(frame), tcnFrameLen)
	}
	if !IsTCN(frame) {
		t.Fatal("EncodeTCN output should be detected by IsTCN")
	}
	cfg := EncodeConfig(mac(1), ConfigBPDU{})
	if IsTCN(cfg) {
		t.Fatal("a config bpdu must not be misdetected as tcn")
	}
}

func TestDecodeConfigRejectsShortFrame(t *testing.T) {
	if _, err := DecodeConfig(make([]byte, 10)); err == nil {
		t.Fatal("expected error decoding a too-short frame")
	}
}

func TestTopologyChangeCallbackFiresOnFirstForwarding(t *testing.T) {
	b := New(DefaultBridgePriority, mac(6))
	b.forwardDelay = 1 * time.Second
	upPort(t, b, 1)

	fired := 0
	b.SetTCCallback(func(TCEvent) { fired++ })

	superior := BridgeID{Priority: 1, Mac: mac(1)}
	if err := b.HandleBPDU(1, ConfigBPDU{RootID: superior, BridgeID: superior, PortID: 1}); err != nil {
		t.Fatal(err)
	}
	// Listening -> Learning -> Forwarding; entering Forwarding fires TC.
	now := time.Now()
	b.Update(now.Add(2 * time.Second))
	b.Update(now.Add(4 * time.Second))
	if fired == 0 {
		t.Fatal("expected at least one topology-change notification")
	}
}
