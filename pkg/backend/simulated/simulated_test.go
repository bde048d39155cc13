package simulated

import (
	"testing"
	"time"

	"github.com/nexswitch/vswitch/pkg/backend"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

func TestTransmitDeliversAcrossConnectedPorts(t *testing.T) {
	a := New(2)
	b := New(2)
	a.Connect(0, b, 0)

	received := make(chan []byte, 1)
	b.SetReceiveFunc(func(port packetbuf.PortID, frame []byte, rxTimeUs uint64) {
		received <- frame
	})

	frame := []byte{1, 2, 3, 4}
	if err := a.Transmit(0, frame); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if len(got) != len(frame) {
			t.Fatalf("got %d bytes, want %d", len(got), len(frame))
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestTransmitOnDisconnectedPortIsDropped(t *testing.T) {
	a := New(2)
	if err := a.Transmit(1, []byte{1}); err == nil {
		t.Fatal("expected port-down error on an unconnected port")
	}
}

func TestConnectEmitsLinkUpOnBothSides(t *testing.T) {
	a := New(1)
	b := New(1)
	a.Connect(0, b, 0)

	select {
	case ev := <-a.LinkEvents():
		if ev.State != backend.LinkUp {
			t.Fatalf("state = %v, want up", ev.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no link event on a")
	}
	select {
	case ev := <-b.LinkEvents():
		if ev.State != backend.LinkUp {
			t.Fatalf("state = %v, want up", ev.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no link event on b")
	}
}

func TestSetLinkDownStopsDelivery(t *testing.T) {
	a := New(1)
	b := New(1)
	a.Connect(0, b, 0)
	a.SetLinkUp(0, false)

	if err := a.Transmit(0, []byte{1}); err == nil {
		t.Fatal("expected transmit to fail once link is down")
	}
}

func TestTransmitCopiesFrameBuffer(t *testing.T) {
	a := New(1)
	b := New(1)
	a.Connect(0, b, 0)

	var got []byte
	b.SetReceiveFunc(func(port packetbuf.PortID, frame []byte, rxTimeUs uint64) {
		got = frame
	})

	frame := []byte{9, 9, 9}
	if err := a.Transmit(0, frame); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	frame[0] = 0
	if got[0] != 9 {
		t.Fatal("delivered frame aliases the caller's buffer")
	}
}
