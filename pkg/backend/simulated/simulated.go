// Package simulated implements an in-process backend (C10's reference
// implementation): ports deliver frames to each other (or to a test
// harness) over Go channels, with zero external side effects so it stays
// deterministic under test. Standard library only, justified in
// DESIGN.md: a backend used by the test suite must not touch real
// network devices.
package simulated

import (
	"sync"
	"time"

	"github.com/nexswitch/vswitch/pkg/backend"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Wire connects two ports of (possibly different) Backend instances so a
// Transmit on one delivers as a receive on the other, modeling a cable.
type Wire struct {
	A, B *Backend
	PA, PB packetbuf.PortID
}

// Backend is the simulated hardware: a fixed number of ports, each with
// its own admin/link state, wired to whatever a test or cmd/vswitchd
// (run without -bindings) topology connects it to via Connect.
type Backend struct {
	mu      sync.Mutex
	portCnt uint32
	linkUp  []bool
	peers   []*peerLink
	recvFn  backend.ReceiveFunc
	linkCh  chan backend.LinkEvent
	started bool
	clockUs uint64
}

type peerLink struct {
	dst     *Backend
	dstPort packetbuf.PortID
}

// New creates a simulated backend with portCnt physical ports, all
// initially link-down until Connect or SetLinkUp is called.
func New(portCnt uint32) *Backend {
	return &Backend{
		portCnt: portCnt,
		linkUp:  make([]bool, portCnt),
		peers:   make([]*peerLink, portCnt),
		linkCh:  make(chan backend.LinkEvent, 64),
	}
}

func (b *Backend) DeclaredPortCount() uint32 { return b.portCnt }

// Connect wires port pa of b to port pb of peer, bidirectionally, and
// brings both sides' link state up. This is the "cable" a test topology
// or cmd/vswitchd (run without -bindings) builds between two switch
// instances, or between a switch and a loopback test harness.
func (b *Backend) Connect(pa packetbuf.PortID, peer *Backend, pb packetbuf.PortID) {
	b.mu.Lock()
	b.peers[pa] = &peerLink{dst: peer, dstPort: pb}
	b.linkUp[pa] = true
	b.mu.Unlock()

	peer.mu.Lock()
	peer.peers[pb] = &peerLink{dst: b, dstPort: pa}
	peer.linkUp[pb] = true
	peer.mu.Unlock()

	b.emitLink(pa, backend.LinkUp)
	peer.emitLink(pb, backend.LinkUp)
}

// SetLinkUp flips a port's carrier state without requiring a peer,
// useful for link-flap tests that don't care about frame delivery.
func (b *Backend) SetLinkUp(port packetbuf.PortID, up bool) {
	b.mu.Lock()
	b.linkUp[port] = up
	b.mu.Unlock()
	state := backend.LinkDown
	if up {
		state = backend.LinkUp
	}
	b.emitLink(port, state)
}

func (b *Backend) emitLink(port packetbuf.PortID, state backend.LinkState) {
	select {
	case b.linkCh <- backend.LinkEvent{Port: port, State: state, At: time.Now()}:
	default:
	}
}

func (b *Backend) Start() error {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	close(b.linkCh)
	return nil
}

// Transmit implements backend.Backend. If the port is wired via Connect,
// the frame is delivered synchronously to the peer's receive callback.
// A link-down port returns a port-down error; a port brought up with
// SetLinkUp but never connected drops the frame silently.
func (b *Backend) Transmit(port packetbuf.PortID, frame []byte) error {
	b.mu.Lock()
	if int(port) >= len(b.linkUp) {
		b.mu.Unlock()
		return backend.ErrUnknownPort("Transmit")
	}
	if !b.linkUp[port] {
		b.mu.Unlock()
		return backend.ErrPortDown("Transmit")
	}
	peer := b.peers[port]
	b.mu.Unlock()

	if peer == nil {
		return nil
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	peer.dst.deliver(peer.dstPort, cp)
	return nil
}

func (b *Backend) deliver(port packetbuf.PortID, frame []byte) {
	b.mu.Lock()
	fn := b.recvFn
	now := b.advanceClockLocked()
	b.mu.Unlock()
	if fn != nil {
		fn(port, frame, now)
	}
}

func (b *Backend) advanceClockLocked() uint64 {
	b.clockUs += 1
	return b.clockUs
}

func (b *Backend) SetReceiveFunc(fn backend.ReceiveFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recvFn = fn
}

func (b *Backend) LinkEvents() <-chan backend.LinkEvent { return b.linkCh }

func (b *Backend) NowUs() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(time.Now().UnixMicro())
}

func (b *Backend) NowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
