package core

import (
	"encoding/binary"
	"time"

	"github.com/nexswitch/vswitch/pkg/arp"
	"github.com/nexswitch/vswitch/pkg/ippipeline"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
	"github.com/nexswitch/vswitch/pkg/pipeline"
	"github.com/nexswitch/vswitch/pkg/routing"
	"github.com/nexswitch/vswitch/pkg/stp"
)

// Processor priorities implement spec.md §4.2's fixed ingress order:
// VLAN classification, then BPDU interception, then the STP forwarding
// gate, then MAC learning, then the forward/route decision.
const (
	prioVlanIngress  uint32 = 10
	prioBpduClassify uint32 = 15
	prioStpGate      uint32 = 20
	prioMacLearn     uint32 = 30
	prioForward      uint32 = 40
)

func (c *Core) registerProcessors() error {
	if _, err := c.pipe.Register(prioVlanIngress, c.vlanIngress, nil); err != nil {
		return err
	}
	if _, err := c.pipe.Register(prioBpduClassify, c.bpduClassify, nil); err != nil {
		return err
	}
	if _, err := c.pipe.Register(prioStpGate, c.stpGate, nil); err != nil {
		return err
	}
	if _, err := c.pipe.Register(prioMacLearn, c.macLearn, nil); err != nil {
		return err
	}
	if _, err := c.pipe.Register(prioForward, c.forward, nil); err != nil {
		return err
	}
	return nil
}

// onReceive is the backend.ReceiveFunc wired at construction time: it
// turns a raw frame into a packetbuf.Buffer and runs it through the
// pipeline.
func (c *Core) onReceive(port packetbuf.PortID, frame []byte, rxTimeUs uint64) {
	c.bump(func(s *Stats) { s.FramesReceived++ })

	buf, err := packetbuf.Allocate(len(frame))
	if err != nil {
		c.bump(func(s *Stats) { s.FramesDropped++ })
		return
	}
	if err := buf.Append(frame); err != nil {
		c.bump(func(s *Stats) { s.FramesDropped++ })
		return
	}
	buf.Metadata.Port = port
	buf.Metadata.Direction = packetbuf.DirRx
	buf.Metadata.TimestampUs = rxTimeUs

	if err := stampEthernet(buf); err != nil {
		c.bump(func(s *Stats) { s.FramesDropped++ })
		return
	}

	if c.pipe.Process(buf) == pipeline.Drop {
		c.bump(func(s *Stats) { s.FramesDropped++ })
	}
}

func (c *Core) vlanIngress(pkt *packetbuf.Buffer, _ any, _ int) pipeline.Verdict {
	drop, err := c.vlans.Ingress(pkt.Metadata.Port, pkt)
	if err != nil || drop {
		return pipeline.Drop
	}
	if err := refreshEtherType(pkt); err != nil {
		return pipeline.Drop
	}
	return pipeline.Forward
}

func (c *Core) bpduClassify(pkt *packetbuf.Buffer, _ any, _ int) pipeline.Verdict {
	if !isBpdu(pkt.Metadata.DstMac) {
		return pipeline.Forward
	}
	raw := pkt.Bytes()
	if stp.IsTCN(raw) {
		// The bridge only exposes topology-change notification through
		// config BPDUs it originates itself; a received TCN has the same
		// effect as the bridge's own TC event, so flush directly.
		c.mac.Flush(nil, nil, false)
		return pipeline.Consume
	}
	bpdu, err := stp.DecodeConfig(raw)
	if err != nil {
		return pipeline.Consume
	}
	if err := c.stpB.HandleBPDU(pkt.Metadata.Port, bpdu); err != nil {
		c.log.WithError(err).Debug("bpdu handling failed")
	}
	return pipeline.Consume
}

func (c *Core) stpGate(pkt *packetbuf.Buffer, _ any, _ int) pipeline.Verdict {
	if !c.stpB.CanLearn(pkt.Metadata.Port) {
		return pipeline.Drop
	}
	return pipeline.Forward
}

func (c *Core) macLearn(pkt *packetbuf.Buffer, _ any, _ int) pipeline.Verdict {
	c.mac.Learn(pkt.Metadata.SrcMac, pkt.Metadata.Vlan, pkt.Metadata.Port)
	return pipeline.Forward
}

func (c *Core) forward(pkt *packetbuf.Buffer, _ any, _ int) pipeline.Verdict {
	if !c.stpB.IsForwarding(pkt.Metadata.Port) {
		return pipeline.Drop
	}

	// Only frames addressed to the ingress port's own MAC take the L3 path;
	// other IP traffic is switched at L2 like any other frame.
	portMac, macErr := c.ports.GetMac(pkt.Metadata.Port)
	routed := macErr == nil && portMac == pkt.Metadata.DstMac

	switch {
	case isArp(pkt.Metadata.EtherType):
		// Snoop the packet into the ARP cache (and reply if it targets one
		// of our own addresses) without removing it from the L2 path: two
		// hosts resolving each other's addresses through this switch still
		// need their broadcast requests and unicast replies switched.
		if err := c.arpCache.HandleFrame(pkt.Bytes()[ipOffset(pkt):], pkt.Metadata.Port, time.Now()); err != nil {
			c.log.WithError(err).Debug("arp frame handling failed")
		}
		return c.forwardL2(pkt)

	case routed && pkt.Metadata.EtherType == etherTypeIPv4:
		return c.forwardL3v4(pkt)

	case routed && pkt.Metadata.EtherType == etherTypeIPv6:
		return c.forwardL3v6(pkt)

	default:
		return c.forwardL2(pkt)
	}
}

func (c *Core) forwardL2(pkt *packetbuf.Buffer) pipeline.Verdict {
	if outPort, ok := c.mac.Lookup(pkt.Metadata.DstMac, pkt.Metadata.Vlan); ok {
		if outPort == pkt.Metadata.Port {
			return pipeline.Drop
		}
		if err := c.vlans.Egress(outPort, pkt.Metadata.Vlan, pkt); err != nil {
			return pipeline.Drop
		}
		if err := c.be.Transmit(outPort, pkt.Bytes()); err != nil {
			c.log.WithError(err).WithField("port", outPort).Debug("l2 transmit failed")
			return pipeline.Drop
		}
		c.bump(func(s *Stats) { s.FramesForwarded++ })
		return pipeline.Consume
	}

	v, err := c.vlans.GetVlan(pkt.Metadata.Vlan)
	if err != nil {
		return pipeline.Drop
	}
	flooded := false
	for _, p := range v.MemberPorts.Slice() {
		if p == pkt.Metadata.Port {
			continue
		}
		clone := pkt.Clone()
		if err := c.vlans.Egress(p, pkt.Metadata.Vlan, clone); err != nil {
			continue
		}
		if err := c.be.Transmit(p, clone.Bytes()); err != nil {
			c.log.WithError(err).WithField("port", p).Debug("flood transmit failed")
			continue
		}
		flooded = true
	}
	if flooded {
		c.bump(func(s *Stats) { s.FramesFlooded++ })
	}
	return pipeline.Consume
}

func (c *Core) forwardL3v4(pkt *packetbuf.Buffer) pipeline.Verdict {
	off := ipOffset(pkt)
	res := c.ipPipe.IngressV4(pkt, off, pkt.Metadata)
	switch res.Verdict {
	case ippipeline.VerdictDrop:
		return pipeline.Drop
	case ippipeline.VerdictLocal:
		return pipeline.Consume
	case ippipeline.VerdictReassembled:
		return pipeline.Drop
	}

	return c.routeAndTransmitV4(pkt, res.Header4.Dst)
}

// routeAndTransmitV4 resolves a route and next-hop MAC for dst, rewrites
// pkt's Ethernet header in place, and transmits it out the routed port.
// pkt must already carry a 14-byte Ethernet header (and VLAN tag, if
// Metadata.IsTagged) ahead of its IP payload.
func (c *Core) routeAndTransmitV4(pkt *packetbuf.Buffer, dst [4]byte) pipeline.Verdict {
	route, ok := c.routes.Lookup(routing.FamilyV4, ipv4To16(dst))
	if !ok {
		return pipeline.Drop
	}
	nextHopIP := dst
	if route.NextHop != ([16]byte{}) {
		nextHopIP = ipv4From16(route.NextHop)
	}
	outPort := packetbuf.PortID(route.IfaceIndex)

	lookup, mac, _ := c.arpCache.Lookup(nextHopIP, outPort, time.Now())
	if lookup != arp.LookupOk {
		return pipeline.Drop
	}

	srcMac, err := c.ports.GetMac(outPort)
	if err != nil {
		return pipeline.Drop
	}
	if err := rewriteEthernetHeader(pkt, mac, srcMac); err != nil {
		return pipeline.Drop
	}
	if err := c.vlans.Egress(outPort, pkt.Metadata.Vlan, pkt); err != nil {
		return pipeline.Drop
	}
	if err := c.be.Transmit(outPort, pkt.Bytes()); err != nil {
		c.log.WithError(err).WithField("port", outPort).Debug("l3 transmit failed")
		return pipeline.Drop
	}
	c.bump(func(s *Stats) { s.RoutedPackets++ })
	return pipeline.Consume
}

func (c *Core) forwardL3v6(pkt *packetbuf.Buffer) pipeline.Verdict {
	off := ipOffset(pkt)
	res := c.ipPipe.IngressV6(pkt, off, pkt.Metadata)
	switch res.Verdict {
	case ippipeline.VerdictDrop, ippipeline.VerdictReassembled:
		return pipeline.Drop
	case ippipeline.VerdictLocal:
		return pipeline.Consume
	}
	// IPv6 routing/neighbor resolution is not wired: port entries carry
	// no IPv6 address and the ARP cache only resolves IPv4 next hops.
	return pipeline.Drop
}

// sendICMPReply hands a locally-generated ICMP packet (built by
// pkg/ippipeline for TTL-exceeded or fragmentation-needed errors, and
// handed back as a bare IPv4 datagram with no link-layer framing) to the
// routing/ARP path for transmission, as if it had originated on the CPU
// port.
func (c *Core) sendICMPReply(ipPkt *packetbuf.Buffer) {
	raw := ipPkt.Bytes()
	if len(raw) < 20 {
		c.bump(func(s *Stats) { s.FramesDropped++ })
		return
	}
	var dst [4]byte
	copy(dst[:], raw[16:20])

	framed, err := packetbuf.Allocate(ethHeaderLen + len(raw))
	if err != nil {
		c.bump(func(s *Stats) { s.FramesDropped++ })
		return
	}
	var placeholder [ethHeaderLen]byte
	binary.BigEndian.PutUint16(placeholder[12:14], etherTypeIPv4)
	if err := framed.Append(placeholder[:]); err != nil {
		c.bump(func(s *Stats) { s.FramesDropped++ })
		return
	}
	if err := framed.Append(raw); err != nil {
		c.bump(func(s *Stats) { s.FramesDropped++ })
		return
	}
	framed.Metadata.Port = c.ports.CPUPort()
	framed.Metadata.Direction = packetbuf.DirInternal
	framed.Metadata.Vlan = packetbuf.VlanID(c.cfg.Vlans.DefaultVlanID)
	framed.Metadata.EtherType = etherTypeIPv4

	if c.routeAndTransmitV4(framed, dst) != pipeline.Consume {
		c.bump(func(s *Stats) { s.FramesDropped++ })
	}
}
