package core

import (
	"github.com/nexswitch/vswitch/pkg/packetbuf"
	"github.com/nexswitch/vswitch/pkg/port"
)

// portAddrSource adapts the port registry to arp.PortAddressSource so the
// ARP cache can learn which IP/MAC pair to put in the sender fields of a
// request it originates on a given port.
type portAddrSource struct {
	ports *port.Registry
}

func (s *portAddrSource) AddressFor(p packetbuf.PortID) (ip [4]byte, mac packetbuf.MacAddr, ok bool) {
	entry, err := s.ports.GetInfo(p)
	if err != nil {
		return ip, mac, false
	}
	if entry.IPv4 == [4]byte{} {
		return ip, mac, false
	}
	return entry.IPv4, entry.MacAddr, true
}

// portLocalAddrs adapts the port registry to ippipeline.LocalAddressSet,
// telling the IP pipeline which destination addresses are the switch's
// own routed interfaces rather than something to forward on.
type portLocalAddrs struct {
	ports *port.Registry
}

func (s *portLocalAddrs) IsLocalIPv4(addr [4]byte) bool {
	for _, e := range s.ports.All() {
		if e.IPv4 != [4]byte{} && e.IPv4 == addr {
			return true
		}
	}
	return false
}

// IsLocalIPv6 always reports false: port entries carry no IPv6 address
// field, so the switch has no routed IPv6 interfaces to match against.
func (s *portLocalAddrs) IsLocalIPv6(addr [16]byte) bool {
	return false
}

// coreFrameSender adapts Core to arp.FrameSender so the ARP cache can
// transmit requests and replies through the backend.
type coreFrameSender struct {
	core *Core
}

func (s *coreFrameSender) Send(p packetbuf.PortID, frame []byte) error {
	return s.core.be.Transmit(p, frame)
}

// ipv4To16 places a 4-byte address at the offset-12 convention used
// throughout pkg/routing, leaving the first 12 bytes zero.
func ipv4To16(addr [4]byte) [16]byte {
	var out [16]byte
	copy(out[12:], addr[:])
	return out
}

// ipv4From16 extracts the low 4 bytes of a routing-table address back
// into the [4]byte form used everywhere else.
func ipv4From16(addr [16]byte) [4]byte {
	var out [4]byte
	copy(out[:], addr[12:])
	return out
}
