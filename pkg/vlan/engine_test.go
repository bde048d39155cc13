package vlan

import (
	"testing"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

func untaggedFrame(t *testing.T) *packetbuf.Buffer {
	t.Helper()
	b, err := packetbuf.Allocate(64)
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]byte, 64)
	frame[12] = 0x08 // ethertype 0x0800 (IPv4), arbitrary payload
	frame[13] = 0x00
	if err := b.Append(frame); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestIngressUsesPVIDForUntagged(t *testing.T) {
	e := New()
	if err := e.CreateVlan(10, "ten"); err != nil {
		t.Fatal(err)
	}
	if err := e.AddPort(10, 1, true); err != nil {
		t.Fatal(err)
	}
	if err := e.SetPortConfig(1, PortConfig{
		Mode: ModeAccess, Pvid: 10, AcceptUntagged: true, AcceptTagged: false, IngressFilter: true,
	}); err != nil {
		t.Fatal(err)
	}

	pkt := untaggedFrame(t)
	drop, err := e.Ingress(1, pkt)
	if err != nil {
		t.Fatal(err)
	}
	if drop {
		t.Fatal("expected frame to be accepted")
	}
	if pkt.Metadata.Vlan != 10 {
		t.Fatalf("metadata.vlan = %d, want 10", pkt.Metadata.Vlan)
	}
}

func TestIngressFilterDropsNonMember(t *testing.T) {
	e := New()
	if err := e.CreateVlan(10, "ten"); err != nil {
		t.Fatal(err)
	}
	// port 1 is NOT added as a member of vlan 10
	if err := e.SetPortConfig(1, PortConfig{
		Mode: ModeAccess, Pvid: 10, AcceptUntagged: true, IngressFilter: true,
	}); err != nil {
		t.Fatal(err)
	}
	drop, err := e.Ingress(1, untaggedFrame(t))
	if err != nil {
		t.Fatal(err)
	}
	if !drop {
		t.Fatal("expected frame from non-member port to be dropped")
	}
}

func TestEgressTrunkTagsNonNative(t *testing.T) {
	e := New()
	if err := e.CreateVlan(10, "ten"); err != nil {
		t.Fatal(err)
	}
	if err := e.SetPortConfig(2, PortConfig{
		Mode: ModeTrunk, NativeVlan: 1, AcceptTagged: true, AcceptUntagged: true,
	}); err != nil {
		t.Fatal(err)
	}
	pkt := untaggedFrame(t)
	if err := e.Egress(2, 10, pkt); err != nil {
		t.Fatal(err)
	}
	tagged, err := IsTagged(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if !tagged {
		t.Fatal("expected trunk egress for non-native vlan to tag the frame")
	}
	vid, _, _, err := ParseTag(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if vid != 10 {
		t.Fatalf("tag vid = %d, want 10", vid)
	}
}

func TestEgressTrunkStripsNative(t *testing.T) {
	e := New()
	if err := e.SetPortConfig(2, PortConfig{Mode: ModeTrunk, NativeVlan: 1}); err != nil {
		t.Fatal(err)
	}
	pkt := untaggedFrame(t)
	if err := AddTag(pkt, 1, 0, false); err != nil {
		t.Fatal(err)
	}
	if err := e.Egress(2, 1, pkt); err != nil {
		t.Fatal(err)
	}
	tagged, err := IsTagged(pkt)
	if err != nil {
		t.Fatal(err)
	}
	if tagged {
		t.Fatal("expected native-vlan egress on trunk to strip the tag")
	}
}

func TestAddRemoveTagRoundTrip(t *testing.T) {
	pkt := untaggedFrame(t)
	originalLen := pkt.Len()
	if err := AddTag(pkt, 42, 3, true); err != nil {
		t.Fatal(err)
	}
	if err := RemoveTag(pkt); err != nil {
		t.Fatal(err)
	}
	if pkt.Len() != originalLen {
		t.Fatalf("round trip len = %d, want %d", pkt.Len(), originalLen)
	}
}
