package port

import (
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Kind is PortEntry.kind from spec.md §3.
type Kind int

const (
	KindPhysical Kind = iota
	KindLag
	KindLoopback
	KindCpu
)

func (k Kind) String() string {
	switch k {
	case KindPhysical:
		return "physical"
	case KindLag:
		return "lag"
	case KindLoopback:
		return "loopback"
	case KindCpu:
		return "cpu"
	default:
		return "unknown"
	}
}

// OperState is PortEntry.oper_state from spec.md §3.
type OperState int

const (
	StateDown OperState = iota
	StateUp
	StateLearning
	StateForwarding
	StateBlocking
	StateTesting
)

func (s OperState) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateUp:
		return "up"
	case StateLearning:
		return "learning"
	case StateForwarding:
		return "forwarding"
	case StateBlocking:
		return "blocking"
	case StateTesting:
		return "testing"
	default:
		return "unknown"
	}
}

// Duplex describes a port's link duplex setting.
type Duplex int

const (
	DuplexUnknown Duplex = iota
	DuplexHalf
	DuplexFull
)

// Entry is PortEntry from spec.md §3.
type Entry struct {
	ID         packetbuf.PortID
	Kind       Kind
	Name       string
	AdminUp    bool
	OperState  OperState
	SpeedMbps  uint64
	Duplex     Duplex
	Mtu        int
	Pvid       packetbuf.VlanID
	MacAddr    packetbuf.MacAddr
	// IPv4/IPv4Mask are the address used to source ARP and to decide
	// "destination is local" in the IP pipeline (C7). Zero value means
	// the port has no routed address (pure L2 access/trunk port).
	IPv4       [4]byte
	IPv4Mask   int
}

// Snapshot is a read-only copy of Entry safe to hand to callers outside the
// registry's lock.
type Snapshot = Entry
