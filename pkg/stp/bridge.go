package stp

import (
	"sync"
	"time"

	"github.com/nexswitch/vswitch/pkg/corelog"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Bridge is the StpBridge engine (C6). Per spec.md §5 it sits after the
// MAC Table and before the Routing Table in the global lock order.
type Bridge struct {
	mu sync.Mutex

	enabled       bool
	bridgeID      BridgeID
	rootID        BridgeID
	rootPathCost  uint32
	rootPort      *packetbuf.PortID
	maxAge        time.Duration
	helloTime     time.Duration
	forwardDelay  time.Duration
	lastHello     time.Time
	lastUpdate    time.Time
	tcActive      bool
	tcUntil       time.Time

	ports   map[packetbuf.PortID]*Port
	onTC    TCCallback
	txBPDU  func(port packetbuf.PortID, frame []byte)
}

// New builds a Bridge identified by (priority, mac), initially root of
// itself, per the usual 802.1D bootstrap.
func New(priority uint16, mac packetbuf.MacAddr) *Bridge {
	id := BridgeID{Priority: priority, Mac: mac}
	return &Bridge{
		enabled:      false,
		bridgeID:     id,
		rootID:       id,
		rootPathCost: 0,
		maxAge:       DefaultMaxAge,
		helloTime:    DefaultHelloTime,
		forwardDelay: DefaultForwardDelay,
		ports:        make(map[packetbuf.PortID]*Port),
	}
}

// SetTransmitFunc registers the callback used to emit BPDUs on enabled
// ports; wiring to the backend is Core's job, not this package's.
func (b *Bridge) SetTransmitFunc(fn func(port packetbuf.PortID, frame []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txBPDU = fn
}

func (b *Bridge) SetTCCallback(cb TCCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTC = cb
}

// AddPort registers a port with default priority/path cost.
func (b *Bridge) AddPort(id packetbuf.PortID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ports[id]; ok {
		return &BridgeError{Op: "AddPort", Err: ErrPortExists}
	}
	b.ports[id] = &Port{
		PortID:           id,
		State:            Disabled,
		Priority:         DefaultPortPriority,
		PathCost:         DefaultPathCost,
		DesignatedRoot:   b.rootID,
		DesignatedBridge: b.bridgeID,
		PerVlanState:     make(map[packetbuf.VlanID]PortState),
	}
	return nil
}

// SetEnabled toggles STP for the whole bridge. Per Design Notes §9 (open
// question, preserved intentionally): disabling STP forces every port to
// Forwarding rather than leaving it "transparent" -- this mirrors the
// source behavior spec.md flags as surprising but requires be kept.
func (b *Bridge) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
	if !enabled {
		for _, p := range b.ports {
			p.State = Forwarding
		}
		return
	}
	for _, p := range b.ports {
		if p.AdminUp && p.LinkUp {
			p.State = Blocking
		} else {
			p.State = Disabled
		}
	}
}

// SetPortLink updates admin/link state and runs the Disabled<->Blocking
// transition from spec.md §4.6's transition table.
func (b *Bridge) SetPortLink(id packetbuf.PortID, adminUp, linkUp bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.ports[id]
	if !ok {
		return &BridgeError{Op: "SetPortLink", Err: ErrPortNotFound}
	}
	p.AdminUp = adminUp
	p.LinkUp = linkUp

	if !b.enabled {
		p.State = Forwarding
		return nil
	}
	if !adminUp || !linkUp {
		p.State = Disabled
		if b.rootPort != nil && *b.rootPort == id {
			b.reconvergeAsRootLocked()
		}
		return nil
	}
	if p.State == Disabled {
		p.State = Blocking
		p.DesignatedRoot = b.rootID
		p.DesignatedBridge = b.bridgeID
		p.RootPathCost = 0
	}
	return nil
}

// GetPortState returns a port's current state.
func (b *Bridge) GetPortState(id packetbuf.PortID) (PortState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.ports[id]
	if !ok {
		return Disabled, &BridgeError{Op: "GetPortState", Err: ErrPortNotFound}
	}
	return p.State, nil
}

// ListPorts returns a copy of every port's STP state, for the management
// surface's read-only listing endpoint.
func (b *Bridge) ListPorts() []Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Port, 0, len(b.ports))
	for _, p := range b.ports {
		out = append(out, *p)
	}
	return out
}

// IsForwarding reports whether data frames should be relayed through id --
// the gate spec.md §4.6/S3 requires before MAC learning and forwarding.
func (b *Bridge) IsForwarding(id packetbuf.PortID) bool {
	st, err := b.GetPortState(id)
	return err == nil && st == Forwarding
}

// CanLearn reports whether MAC learning should occur on id (Learning or
// Forwarding, per 802.1D).
func (b *Bridge) CanLearn(id packetbuf.PortID) bool {
	st, err := b.GetPortState(id)
	return err == nil && (st == Learning || st == Forwarding)
}

// HandleBPDU processes a received Config BPDU on port id, implementing
// spec.md §4.6's superiority comparison and root-port/role recomputation.
func (b *Bridge) HandleBPDU(id packetbuf.PortID, bpdu ConfigBPDU) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.ports[id]
	if !ok {
		return &BridgeError{Op: "HandleBPDU", Err: ErrPortNotFound}
	}
	if !b.enabled || p.State == Disabled {
		return nil
	}
	p.BpduReceived = true
	p.MessageAge = 0
	p.Timers.MessageAge = 0

	received := superiorityTuple{
		RootID:       bpdu.RootID,
		RootPathCost: bpdu.RootPathCost,
		BridgeID:     bpdu.BridgeID,
		PortID:       bpdu.PortID,
	}
	current := p.currentTuple()

	if received.less(current) {
		p.DesignatedRoot = bpdu.RootID
		p.RootPathCost = bpdu.RootPathCost
		p.DesignatedBridge = bpdu.BridgeID
		p.DesignatedPort = bpdu.PortID

		candidateCost := bpdu.RootPathCost + p.PathCost
		if bpdu.RootID.Less(b.rootID) ||
			(bpdu.RootID.Equal(b.rootID) && candidateCost < b.rootPathCost) {
			b.rootID = bpdu.RootID
			b.rootPathCost = candidateCost
			port := id
			b.rootPort = &port
			b.recomputeTopologyLocked()
		} else if b.rootPort != nil && *b.rootPort == id {
			b.rootPathCost = candidateCost
		}

		if p.State == Blocking {
			b.transitionLocked(p, Listening)
		}
	} else if current.less(received) {
		// Our info is superior: this port should be designated, not
		// blocked by an inferior advertisement.
		if p.State != Disabled && (b.rootPort == nil || *b.rootPort != id) {
			b.transitionLocked(p, Blocking)
		}
	}
	return nil
}

// recomputeTopologyLocked re-evaluates every port's role now that the
// bridge's notion of root/rootPathCost has changed.
func (b *Bridge) recomputeTopologyLocked() {
	for pid, p := range b.ports {
		if p.State == Disabled {
			continue
		}
		if b.rootPort != nil && pid == *b.rootPort {
			continue
		}
		// Ports other than the root port become designated for this
		// bridge unless a more senior BPDU has already claimed them
		// (handled in HandleBPDU); default them back to advertising us.
		p.DesignatedRoot = b.rootID
		p.RootPathCost = b.rootPathCost
		p.DesignatedBridge = b.bridgeID
	}
}

// reconvergeAsRootLocked implements spec.md §4.6's "root port loses
// message-age" transition: the bridge becomes its own root and every port
// is reevaluated.
func (b *Bridge) reconvergeAsRootLocked() {
	b.rootID = b.bridgeID
	b.rootPathCost = 0
	b.rootPort = nil
	for _, p := range b.ports {
		if p.State == Disabled {
			continue
		}
		p.DesignatedRoot = b.rootID
		p.RootPathCost = 0
		p.DesignatedBridge = b.bridgeID
		if p.State == Blocking {
			b.transitionLocked(p, Listening)
		}
	}
	b.markTopologyChangeLocked()
	corelog.For("stp").WithField("bridge_id", b.bridgeID).Warn("root port lost, reconverging as root")
}

func (b *Bridge) transitionLocked(p *Port, to PortState) {
	p.State = to
	p.Timers.ForwardDelay = 0
	if to == Forwarding || to == Blocking {
		b.markTopologyChangeLocked()
	}
}

func (b *Bridge) markTopologyChangeLocked() {
	b.tcActive = true
	b.tcUntil = time.Now().Add(2 * b.forwardDelay)
	if b.onTC != nil {
		b.onTC(TCEvent{At: time.Now()})
	}
}

// Update advances all timers by the elapsed time since the last call
// (one second on the first call),
// driving Listening->Learning->Forwarding transitions and periodic Config
// BPDU emission from the root, per spec.md §4.6 and §5's single-driver
// tick model.
func (b *Bridge) Update(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dt := 1.0
	if !b.lastUpdate.IsZero() {
		dt = now.Sub(b.lastUpdate).Seconds()
	}
	b.lastUpdate = now
	if !b.enabled {
		return
	}

	isRoot := b.rootID.Equal(b.bridgeID)

	for id, p := range b.ports {
		if p.State == Disabled {
			continue
		}
		p.Timers.ForwardDelay += dt
		p.Timers.MessageAge += dt

		if p.Timers.MessageAge > b.maxAge.Seconds() && b.rootPort != nil && *b.rootPort == id {
			b.reconvergeAsRootLocked()
			continue
		}

		switch p.State {
		case Listening:
			if p.Timers.ForwardDelay >= b.forwardDelay.Seconds() {
				b.transitionLocked(p, Learning)
			}
		case Learning:
			if p.Timers.ForwardDelay >= b.forwardDelay.Seconds() {
				b.transitionLocked(p, Forwarding)
			}
		}
	}

	if isRoot && b.txBPDU != nil {
		if now.Sub(b.lastHello) >= b.helloTime {
			b.lastHello = now
			b.emitHelloLocked(now)
		}
	}

	if b.tcActive && now.After(b.tcUntil) {
		b.tcActive = false
	}
}

func (b *Bridge) emitHelloLocked(now time.Time) {
	for id, p := range b.ports {
		if p.State == Disabled {
			continue
		}
		frame := EncodeConfig(b.bridgeID.Mac, ConfigBPDU{
			RootID:       b.rootID,
			RootPathCost: b.rootPathCost,
			BridgeID:     b.bridgeID,
			PortID:       uint16(p.Priority)<<8 | uint16(id),
			MessageAge:   0,
			MaxAge:       b.maxAge.Seconds(),
			HelloTime:    b.helloTime.Seconds(),
			ForwardDelay: b.forwardDelay.Seconds(),
		})
		b.txBPDU(id, frame)
	}
}

// RootID, RootPathCost, RootPort report the bridge's current view of the
// spanning tree, used by the mgmt API and by tests.
func (b *Bridge) RootID() BridgeID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rootID
}

func (b *Bridge) IsRootBridge() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rootID.Equal(b.bridgeID)
}

func (b *Bridge) RootPort() (packetbuf.PortID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rootPort == nil {
		return 0, false
	}
	return *b.rootPort, true
}

func (b *Bridge) BridgeID() BridgeID { return b.bridgeID }
