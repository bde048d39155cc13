package vlan

import (
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// PortSet is the bitset referenced by spec.md §3's VlanEntry
// (member_ports, untagged_ports). Backed by a map rather than a raw word
// array since port ids can range up to 65535 (CONFIG_MAX_PORTS); set
// membership semantics are identical to a bitset, just not packed.
type PortSet map[packetbuf.PortID]struct{}

func NewPortSet(ports ...packetbuf.PortID) PortSet {
	s := make(PortSet, len(ports))
	for _, p := range ports {
		s[p] = struct{}{}
	}
	return s
}

func (s PortSet) Has(p packetbuf.PortID) bool { _, ok := s[p]; return ok }
func (s PortSet) Add(p packetbuf.PortID)      { s[p] = struct{}{} }
func (s PortSet) Remove(p packetbuf.PortID)   { delete(s, p) }

// IsSubsetOf reports whether every member of s is also a member of o,
// the invariant spec.md §3 requires of untagged_ports vs member_ports.
func (s PortSet) IsSubsetOf(o PortSet) bool {
	for p := range s {
		if !o.Has(p) {
			return false
		}
	}
	return true
}

func (s PortSet) Clone() PortSet {
	out := make(PortSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

func (s PortSet) Slice() []packetbuf.PortID {
	out := make([]packetbuf.PortID, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

// Entry is VlanEntry from spec.md §3.
type Entry struct {
	VlanID         packetbuf.VlanID
	Name           string
	Active         bool
	MemberPorts    PortSet
	UntaggedPorts  PortSet
	LearningEnabled bool
	StpEnabled     bool
}

// PortMode is VlanPortConfig.mode from spec.md §3.
type PortMode int

const (
	ModeAccess PortMode = iota
	ModeTrunk
	ModeHybrid
)

func (m PortMode) String() string {
	switch m {
	case ModeAccess:
		return "access"
	case ModeTrunk:
		return "trunk"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// PortConfig is VlanPortConfig from spec.md §3.
type PortConfig struct {
	Mode            PortMode
	Pvid            packetbuf.VlanID
	NativeVlan      packetbuf.VlanID
	AcceptUntagged  bool
	AcceptTagged    bool
	IngressFilter   bool
	// HybridTagged marks which VLANs this hybrid port egresses tagged;
	// all other member VLANs egress untagged. Its bits are VLAN ids, not
	// port ids. Unused for Access/Trunk.
	HybridTagged PortSet
}

// EventType is the VLAN engine's event taxonomy from spec.md §4.5.
type EventType int

const (
	EventCreate EventType = iota
	EventDelete
	EventPortAdded
	EventPortRemoved
	EventConfigChange
)

// Event is delivered to the single registered callback (spec.md §4.5).
type Event struct {
	Type   EventType
	VlanID packetbuf.VlanID
	Port   packetbuf.PortID
}

type EventCallback func(Event)

const (
	TPID8021Q uint16 = 0x8100
)
