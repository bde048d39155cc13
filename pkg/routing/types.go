// Package routing implements the dual exact-match/LPM routing table
// (C8): IPv4 and IPv6 prefixes, admin-distance/metric tie-breaking, and a
// pluggable hardware-sync hook. Grounded on the teacher's own
// pkg/routing/types.go and manager.go, which already model a RouteEntry
// with admin distance, metric and a RouteType enum.
package routing

import (
	"net"
	"time"
)

// Family distinguishes IPv4 from IPv6 routing contexts.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

// RouteType is spec.md §3's RouteEntry.type enum.
type RouteType int

const (
	Connected RouteType = iota
	Static
	Rip
	Ospf
	Bgp
)

func (t RouteType) String() string {
	switch t {
	case Connected:
		return "connected"
	case Static:
		return "static"
	case Rip:
		return "rip"
	case Ospf:
		return "ospf"
	case Bgp:
		return "bgp"
	default:
		return "unknown"
	}
}

// Default admin distances, per spec.md §3/§4.8.
const (
	DistanceConnected = 0
	DistanceStatic    = 1
	DistanceOspf      = 110
	DistanceRip       = 120
	DistanceBgp       = 20
)

// Prefix is a family-tagged network prefix; IPv4 addresses are stored in
// the low 4 bytes of Addr, matching net.IP's 16-byte form.
type Prefix struct {
	Family    Family
	Addr      [16]byte
	PrefixLen int
}

// RouteEntry is spec.md §3's RouteEntry.
type RouteEntry struct {
	Prefix        Prefix
	NextHop       [16]byte
	IfaceIndex    int
	IfaceName     string
	Type          RouteType
	AdminDistance int
	Metric        int
	Active        bool
	Timestamp     time.Time
}

func (e RouteEntry) Age(now time.Time) time.Duration { return now.Sub(e.Timestamp) }

// better reports whether candidate should replace incumbent under
// spec.md §4.8's duplicate-destination resolution: lower admin distance
// wins, then lower metric, then older timestamp.
func better(candidate, incumbent RouteEntry) bool {
	if candidate.AdminDistance != incumbent.AdminDistance {
		return candidate.AdminDistance < incumbent.AdminDistance
	}
	if candidate.Metric != incumbent.Metric {
		return candidate.Metric < incumbent.Metric
	}
	return candidate.Timestamp.Before(incumbent.Timestamp)
}

// HwOpKind enumerates the hardware-sync event kinds emitted on
// add/delete/update when hw_sync is enabled, per spec.md §4.8.
type HwOpKind int

const (
	HwOpAdd HwOpKind = iota
	HwOpRemove
	HwOpUpdate
)

type HwOp struct {
	Kind  HwOpKind
	Entry RouteEntry
}

// HwSyncBackend mirrors routing decisions into an external forwarding
// plane. NullHwSync and RtnetlinkHwSync are the two implementations
// SPEC_FULL.md's domain-stack section wires in.
type HwSyncBackend interface {
	Sync(op HwOp) error
}

// NetmaskV4 converts a 0..32 prefix length to its dotted netmask.
func NetmaskV4(prefixLen int) net.IPMask {
	return net.CIDRMask(prefixLen, 32)
}

// PrefixLenV4 is NetmaskV4's inverse; returns -1 for a non-contiguous mask.
func PrefixLenV4(mask net.IPMask) int {
	ones, bits := mask.Size()
	if bits != 32 {
		return -1
	}
	return ones
}

// NetmaskV6 / PrefixLenV6 are the IPv6 analogues, over 0..128.
func NetmaskV6(prefixLen int) net.IPMask {
	return net.CIDRMask(prefixLen, 128)
}

func PrefixLenV6(mask net.IPMask) int {
	ones, bits := mask.Size()
	if bits != 128 {
		return -1
	}
	return ones
}
