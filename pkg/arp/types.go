package arp

import (
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// State is spec.md §3's ArpEntry.state enum.
type State int

const (
	Incomplete State = iota
	Reachable
	Stale
	Delay
	Probe
	Failed
)

func (s State) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Reachable:
		return "reachable"
	case Stale:
		return "stale"
	case Delay:
		return "delay"
	case Probe:
		return "probe"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is spec.md §3's ArpEntry.
type Entry struct {
	IP         [4]byte
	Mac        packetbuf.MacAddr
	State      State
	PortIndex  packetbuf.PortID
	CreatedTs  time.Time
	UpdatedTs  time.Time
	RetryCount int
}

// LookupResult is spec.md §4.9's lookup() three-way result.
type LookupResult int

const (
	LookupOk LookupResult = iota
	LookupPending
	LookupNotFound
)

// Defaults from spec.md §4.9/§6.
const (
	CacheSize           = 1024
	RequestRetryInterval = 1000 * time.Millisecond
	RequestRetryCount   = 3
	CacheTimeout        = 1200 * time.Second
)

// PortAddressSource resolves the switch's own IP/MAC for a given port so
// outbound ARP requests carry a real sender address, per DESIGN.md's
// resolution of the "who sends the ARP request" open question.
type PortAddressSource interface {
	AddressFor(port packetbuf.PortID) (ip [4]byte, mac packetbuf.MacAddr, ok bool)
}

// MacLearner is the subset of pkg/mactable.Table the cache needs for
// add_or_update's "also inserts into MAC table (Dynamic)" step.
type MacLearner interface {
	Learn(mac packetbuf.MacAddr, vlan packetbuf.VlanID, port packetbuf.PortID)
}

// FrameSender transmits a raw Ethernet frame out a port, the boundary to
// C10 used for broadcasting ARP requests and unicasting replies.
type FrameSender interface {
	Send(port packetbuf.PortID, frame []byte) error
}
