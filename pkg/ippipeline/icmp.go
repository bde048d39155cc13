package ippipeline

import (
	"encoding/binary"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/nexswitch/vswitch/pkg/corelog"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// buildTimeExceededV4 constructs an ICMP Time Exceeded datagram in
// response to a TTL-exhausted packet, per the SPEC_FULL.md ICMP-emission
// addition layered on spec.md §4.7 step 5 (which leaves emission "out of
// scope" but names it as optional). The returned buffer holds a complete
// IPv4 packet (header + ICMP body), addressed back to the original
// sender; Core is responsible for Ethernet/VLAN wrapping at egress.
func buildTimeExceededV4(origHeader []byte, h Ipv4Header) *packetbuf.Buffer {
	return buildIcmpErrorV4(origHeader, h, ipv4.ICMPTypeTimeExceeded, 0, 0)
}

// buildFragNeededV4 constructs an ICMP Destination Unreachable /
// Fragmentation Needed datagram, used when DF is set and the egress MTU
// is too small (spec.md §4.7 step 6).
func buildFragNeededV4(origHeader []byte, h Ipv4Header, nextHopMTU uint16) *packetbuf.Buffer {
	// code 4 = fragmentation needed and DF set; the "next-hop MTU" goes
	// in the normally-unused second word of the ICMP header.
	return buildIcmpErrorV4(origHeader, h, ipv4.ICMPTypeDestinationUnreachable, 4, nextHopMTU)
}

func buildIcmpErrorV4(origHeader []byte, h Ipv4Header, typ icmp.Type, code int, mtu uint16) *packetbuf.Buffer {
	// RFC 792: ICMP error payload is a 4-byte unused/MTU word followed by
	// the offending IP header plus the first 8 bytes of its payload
	// (already included by the caller in origHeader).
	quote := make([]byte, 4, 4+len(origHeader))
	if mtu != 0 {
		binary.BigEndian.PutUint16(quote[2:4], mtu)
	}
	quote = append(quote, origHeader...)

	msg := &icmp.Message{Type: typ, Code: code, Body: &icmp.RawBody{Data: quote}}

	wire, err := msg.Marshal(nil)
	if err != nil {
		corelog.For("ippipeline").WithError(err).Warn("failed to marshal icmp error")
		return nil
	}

	ipTotal := 20 + len(wire)
	pkt := make([]byte, ipTotal)
	pkt[0] = 0x45
	binary.BigEndian.PutUint16(pkt[2:4], uint16(ipTotal))
	pkt[8] = 64 // TTL
	pkt[9] = 1  // ICMP
	copy(pkt[12:16], ourSourceForReply(h)[:])
	copy(pkt[16:20], h.Src[:])
	binary.BigEndian.PutUint16(pkt[10:12], checksum16(pkt[:20]))
	copy(pkt[20:], wire)

	buf, err := packetbuf.Allocate(len(pkt))
	if err != nil {
		return nil
	}
	if err := buf.Append(pkt); err != nil {
		return nil
	}
	return buf
}

// ourSourceForReply picks the reply's source address. Without a bound
// local-address table at this layer, it replies from the packet's own
// destination, matching common simulator behavior for a directly
// connected responder.
func ourSourceForReply(h Ipv4Header) [4]byte {
	return h.Dst
}
