// Package backend defines the simulated-hardware boundary (C10): the
// interface every ingress/egress path in pkg/core talks to instead of a
// real NIC, plus the link-event and time-source primitives the rest of
// the switch depends on. Interface-first design is grounded on
// pkg/protocol/interfaces.go.
package backend

import (
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// LinkState mirrors the carrier transitions a real NIC driver reports.
type LinkState int

const (
	LinkDown LinkState = iota
	LinkUp
)

func (s LinkState) String() string {
	if s == LinkUp {
		return "up"
	}
	return "down"
}

// LinkEvent is delivered whenever a backend port's carrier changes.
type LinkEvent struct {
	Port  packetbuf.PortID
	State LinkState
	At    time.Time
}

// ReceiveFunc is invoked by a Backend for every frame it receives on a
// port. pkg/core's registered handler runs the frame through the whole
// processor pipeline, including any transmit, before it returns.
type ReceiveFunc func(port packetbuf.PortID, frame []byte, rxTimeUs uint64)

// Backend is the hardware abstraction spec.md §4.10 describes: a
// declared set of ports, frame transmit, and a source of receive and
// link-state events. Time is sourced through the backend so a simulated
// backend can run on a synthetic clock in tests.
type Backend interface {
	// DeclaredPortCount returns the number of physical ports this
	// backend exposes (not counting the CPU port).
	DeclaredPortCount() uint32

	// Start begins delivering receive and link events. Must be called
	// once, after SetReceiveFunc.
	Start() error

	// Stop halts delivery and releases any underlying resources.
	Stop() error

	// Transmit sends frame out port. On failure it returns a corerr
	// error of kind InvalidArgument (unknown port), PortDown (link
	// down) or BackendError (I/O error).
	Transmit(port packetbuf.PortID, frame []byte) error

	// SetReceiveFunc registers the callback invoked for every received
	// frame. Must be called before Start.
	SetReceiveFunc(fn ReceiveFunc)

	// LinkEvents returns the stream of link up/down transitions, per
	// spec.md §4.10's link_event_stream(). The channel is closed by
	// Stop.
	LinkEvents() <-chan LinkEvent

	// NowUs returns the backend's current time in microseconds, used to
	// stamp packetbuf.Metadata.TimestampUs.
	NowUs() uint64

	// NowSeconds returns the backend's current time in seconds.
	NowSeconds() float64
}
