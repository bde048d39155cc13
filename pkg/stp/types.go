// Package stp implements the Spanning Tree bridge state machine (C6): per
// port state transitions, BPDU encode/decode, and root-bridge election.
// Grounded on pkg/router/failover.go's explicit state machine with timers
// and a superiority comparison (failover.go's WAN priority comparison is
// the direct model for BPDU superiority comparison here) and
// pkg/network/bridge/types.go's bridge/port struct shapes, which already
// carry STPPriority/STPForwardDelay/STPHelloTime/STPMaxAge fields.
package stp

import (
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// BridgeID is spec.md §3's (priority, mac) pair, ordered priority-then-mac.
type BridgeID struct {
	Priority uint16
	Mac      packetbuf.MacAddr
}

// Less implements the ordering spec.md §3 defines: "(priority asc, mac
// byte-lex asc)".
func (b BridgeID) Less(o BridgeID) bool {
	if b.Priority != o.Priority {
		return b.Priority < o.Priority
	}
	return b.Mac.Less(o.Mac)
}

func (b BridgeID) Equal(o BridgeID) bool {
	return b.Priority == o.Priority && b.Mac == o.Mac
}

// PortState is the five-state machine from spec.md §4.6.
type PortState int

const (
	Disabled PortState = iota
	Blocking
	Listening
	Learning
	Forwarding
)

func (s PortState) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Blocking:
		return "blocking"
	case Listening:
		return "listening"
	case Learning:
		return "learning"
	case Forwarding:
		return "forwarding"
	default:
		return "unknown"
	}
}

// Timers mirrors spec.md §3's StpPort.timers group; each field is elapsed
// seconds since the corresponding event, compared against the bridge-wide
// timer values on Update.
type Timers struct {
	Hello        float64
	Tcn          float64
	ForwardDelay float64
	MessageAge   float64
}

// Port is StpPort from spec.md §3.
type Port struct {
	PortID            packetbuf.PortID
	State             PortState
	Priority          uint8
	PathCost          uint32
	DesignatedRoot    BridgeID
	RootPathCost      uint32
	DesignatedBridge  BridgeID
	DesignatedPort    uint16
	MessageAge        float64
	Timers            Timers
	TopologyChange    bool
	TopologyChangeAck bool
	BpduReceived      bool
	AdminUp           bool
	LinkUp            bool
	PerVlanState      map[packetbuf.VlanID]PortState
}

// superiorityTuple returns the comparison key spec.md §4.6 specifies:
// "(received_root_id, received_root_path_cost, received_bridge_id,
// received_port_id)", lower wins lexicographically.
type superiorityTuple struct {
	RootID       BridgeID
	RootPathCost uint32
	BridgeID     BridgeID
	PortID       uint16
}

func (t superiorityTuple) less(o superiorityTuple) bool {
	if !t.RootID.Equal(o.RootID) {
		return t.RootID.Less(o.RootID)
	}
	if t.RootPathCost != o.RootPathCost {
		return t.RootPathCost < o.RootPathCost
	}
	if !t.BridgeID.Equal(o.BridgeID) {
		return t.BridgeID.Less(o.BridgeID)
	}
	return t.PortID < o.PortID
}

func (p *Port) currentTuple() superiorityTuple {
	return superiorityTuple{
		RootID:       p.DesignatedRoot,
		RootPathCost: p.RootPathCost,
		BridgeID:     p.DesignatedBridge,
		PortID:       p.DesignatedPort,
	}
}

// Defaults from spec.md §4.6.
const (
	DefaultBridgePriority uint16 = 32768
	DefaultPortPriority   uint8  = 128
	DefaultPathCost       uint32 = 19
	DefaultHelloTime             = 2 * time.Second
	DefaultMaxAge                = 20 * time.Second
	DefaultForwardDelay          = 15 * time.Second
)

// TCEvent is published when the bridge detects a topology change, per
// spec.md §4.6's "STP publishes a TC event" contract.
type TCEvent struct {
	Port packetbuf.PortID
	At   time.Time
}

type TCCallback func(TCEvent)
