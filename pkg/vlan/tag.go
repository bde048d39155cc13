package vlan

import (
	"encoding/binary"

	"github.com/nexswitch/vswitch/pkg/corerr"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Ethernet II layout: dst(6) src(6) [tag(4)] ethertype(2) payload...
const (
	ethDstOff   = 0
	ethSrcOff   = 6
	ethTypeOff  = 12
	tagLen      = 4
)

// IsTagged reports whether the frame carries an 802.1Q tag at offset 12.
func IsTagged(pkt *packetbuf.Buffer) (bool, error) {
	if pkt.Len() < 14 {
		return false, corerr.New("vlan.IsTagged", corerr.InvalidPacket, "frame shorter than ethernet header")
	}
	var buf [2]byte
	if err := pkt.Peek(ethTypeOff, 2, buf[:]); err != nil {
		return false, err
	}
	return binary.BigEndian.Uint16(buf[:]) == TPID8021Q, nil
}

// ParseTag returns the VID/PCP/DEI of a tagged frame. Callers must check
// IsTagged first.
func ParseTag(pkt *packetbuf.Buffer) (vid packetbuf.VlanID, pcp uint8, dei bool, err error) {
	var buf [2]byte
	if err = pkt.Peek(ethTypeOff+2, 2, buf[:]); err != nil {
		return 0, 0, false, err
	}
	word := binary.BigEndian.Uint16(buf[:])
	vid = packetbuf.VlanID(word & 0x0FFF)
	pcp = uint8(word >> 13)
	dei = (word>>12)&0x1 == 1
	return vid, pcp, dei, nil
}

// AddTag inserts an 802.1Q tag after the source MAC, preserving the rest
// of the L2 payload, per spec.md §4.5's tag-manipulation contract.
func AddTag(pkt *packetbuf.Buffer, vid packetbuf.VlanID, pcp uint8, dei bool) error {
	tagged, err := IsTagged(pkt)
	if err != nil {
		return err
	}
	if tagged {
		return ReplaceTag(pkt, vid, pcp, dei)
	}
	var tag [tagLen]byte
	binary.BigEndian.PutUint16(tag[0:2], TPID8021Q)
	word := (uint16(pcp&0x7) << 13) | (boolBit(dei) << 12) | (uint16(vid) & 0x0FFF)
	binary.BigEndian.PutUint16(tag[2:4], word)
	return pkt.Insert(ethTypeOff, tag[:], tagLen)
}

// RemoveTag strips an existing 802.1Q tag, restoring the original
// EtherType that followed it, per spec.md §4.5.
func RemoveTag(pkt *packetbuf.Buffer) error {
	tagged, err := IsTagged(pkt)
	if err != nil {
		return err
	}
	if !tagged {
		return nil
	}
	return pkt.Remove(ethTypeOff, tagLen)
}

// ReplaceTag rewrites vid/pcp/dei of an existing tag, or adds one if the
// frame is untagged.
func ReplaceTag(pkt *packetbuf.Buffer, vid packetbuf.VlanID, pcp uint8, dei bool) error {
	tagged, err := IsTagged(pkt)
	if err != nil {
		return err
	}
	if !tagged {
		return AddTag(pkt, vid, pcp, dei)
	}
	word := (uint16(pcp&0x7) << 13) | (boolBit(dei) << 12) | (uint16(vid) & 0x0FFF)
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], word)
	return pkt.Update(ethTypeOff+2, buf[:], 2)
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
