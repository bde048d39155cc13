package routing

import (
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"

	"github.com/nexswitch/vswitch/pkg/corelog"
)

// NullHwSync is the default HwSyncBackend: it records every HwOp for
// tests/inspection without touching anything outside the process.
type NullHwSync struct {
	Ops []HwOp
}

func NewNullHwSync() *NullHwSync { return &NullHwSync{} }

func (n *NullHwSync) Sync(op HwOp) error {
	n.Ops = append(n.Ops, op)
	return nil
}

// RtnetlinkHwSync mirrors accepted routes into a real Linux routing
// table via github.com/jsimonetti/rtnetlink, useful when the simulator
// runs alongside a kernel network namespace for integration testing.
type RtnetlinkHwSync struct {
	conn    *rtnetlink.Conn
	tableID uint32
}

// NewRtnetlinkHwSync dials the rtnetlink socket and targets tableID
// (spec.md's simulator default is table 254, the kernel "main" table).
func NewRtnetlinkHwSync(tableID uint32) (*RtnetlinkHwSync, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("rtnetlink dial: %w", err)
	}
	return &RtnetlinkHwSync{conn: conn, tableID: tableID}, nil
}

func (r *RtnetlinkHwSync) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *RtnetlinkHwSync) Sync(op HwOp) error {
	dst := routeNetForFamily(op.Entry.Prefix)
	attrs := rtnetlink.RouteAttributes{
		Dst:      dst,
		OutIface: uint32(op.Entry.IfaceIndex),
		Priority: uint32(op.Entry.Metric),
	}
	if gw := gatewayForFamily(op.Entry); gw != nil {
		attrs.Gateway = gw
	}

	msg := &rtnetlink.RouteMessage{
		Family:     familyToLinux(op.Entry.Prefix.Family),
		DstLength:  uint8(op.Entry.Prefix.PrefixLen),
		Table:      uint8(r.tableID),
		Protocol:   unix.RTPROT_STATIC,
		Scope:      unix.RT_SCOPE_UNIVERSE,
		Type:       unix.RTN_UNICAST,
		Attributes: attrs,
	}

	switch op.Kind {
	case HwOpAdd, HwOpUpdate:
		return r.conn.Route.Replace(msg)
	case HwOpRemove:
		return r.conn.Route.Delete(msg)
	default:
		corelog.For("routing").Warn("unknown hw op kind")
		return nil
	}
}

func familyToLinux(f Family) uint8 {
	if f == FamilyV4 {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func routeNetForFamily(p Prefix) net.IP {
	if p.Family == FamilyV4 {
		return net.IPv4(p.Addr[12], p.Addr[13], p.Addr[14], p.Addr[15])
	}
	ip := make(net.IP, 16)
	copy(ip, p.Addr[:])
	return ip
}

func gatewayForFamily(e RouteEntry) net.IP {
	zero := [16]byte{}
	if e.NextHop == zero {
		return nil
	}
	if e.Prefix.Family == FamilyV4 {
		return net.IPv4(e.NextHop[12], e.NextHop[13], e.NextHop[14], e.NextHop[15])
	}
	ip := make(net.IP, 16)
	copy(ip, e.NextHop[:])
	return ip
}
