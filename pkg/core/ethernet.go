package core

import (
	"encoding/binary"

	"github.com/nexswitch/vswitch/pkg/arp"
	"github.com/nexswitch/vswitch/pkg/corerr"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
	"github.com/nexswitch/vswitch/pkg/stp"
)

const (
	ethHeaderLen = 14
	vlanTagLen   = 4

	etherTypeIPv4 uint16 = 0x0800
	etherTypeIPv6 uint16 = 0x86DD
)

// stampEthernet implements the "set by ingress" half of spec.md §4.1's
// PacketMetadata: reads the destination/source MAC and EtherType of a
// freshly received frame into buf.Metadata.
func stampEthernet(buf *packetbuf.Buffer) error {
	raw := buf.Bytes()
	if len(raw) < ethHeaderLen {
		return corerr.New("core.stampEthernet", corerr.InvalidPacket, "frame shorter than ethernet header")
	}
	copy(buf.Metadata.DstMac[:], raw[0:6])
	copy(buf.Metadata.SrcMac[:], raw[6:12])
	buf.Metadata.EtherType = binary.BigEndian.Uint16(raw[12:14])
	return nil
}

// refreshEtherType re-reads EtherType after vlan ingress has determined
// whether an 802.1Q tag sits between the MACs and the real EtherType.
func refreshEtherType(buf *packetbuf.Buffer) error {
	raw := buf.Bytes()
	off := ethHeaderLen - 2
	if buf.Metadata.IsTagged {
		off += vlanTagLen
	}
	if len(raw) < off+2 {
		return corerr.New("core.refreshEtherType", corerr.InvalidPacket, "frame too short for tag")
	}
	buf.Metadata.EtherType = binary.BigEndian.Uint16(raw[off : off+2])
	return nil
}

// ipOffset returns the byte offset of the IP header, accounting for an
// 802.1Q tag if present.
func ipOffset(buf *packetbuf.Buffer) int {
	if buf.Metadata.IsTagged {
		return ethHeaderLen + vlanTagLen
	}
	return ethHeaderLen
}

// rewriteEthernetHeader overwrites the destination/source MAC at the
// front of buf for an L3-forwarded frame, leaving any VLAN tag and the
// IP payload untouched.
func rewriteEthernetHeader(buf *packetbuf.Buffer, dst, src packetbuf.MacAddr) error {
	var hdr [12]byte
	copy(hdr[0:6], dst[:])
	copy(hdr[6:12], src[:])
	return buf.Update(0, hdr[:], 12)
}

func isBpdu(dst packetbuf.MacAddr) bool { return dst == stp.BpduDestMac }

func isArp(etherType uint16) bool { return etherType == arp.EtherTypeARP }
