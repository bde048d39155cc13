// Package arp implements the IPv4 ARP cache state machine (C9): a
// hash-chained ipv4->MAC table, request/retry lifecycle, and an RFC 826
// wire codec. Grounded on pkg/nat/stun.go's hand-rolled RFC wire-format
// encode/decode and pkg/health/ping_checker.go's retry-with-timeout loop
// shape.
package arp

import (
	"encoding/binary"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

const (
	HardwareTypeEthernet uint16 = 1
	ProtoTypeIPv4        uint16 = 0x0800
	HwAddrLen            uint8  = 6
	ProtoAddrLen         uint8  = 4

	OpRequest uint16 = 1
	OpReply   uint16 = 2

	PayloadLen = 28

	EtherTypeARP uint16 = 0x0806
)

var Broadcast = packetbuf.MacAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Packet is the 28-byte RFC 826 ARP payload.
type Packet struct {
	HardwareType uint16
	ProtoType    uint16
	HwAddrLen    uint8
	ProtoAddrLen uint8
	Opcode       uint16
	SenderMac    packetbuf.MacAddr
	SenderIP     [4]byte
	TargetMac    packetbuf.MacAddr
	TargetIP     [4]byte
}

// Encode writes the 28-byte wire form.
func (p Packet) Encode() []byte {
	buf := make([]byte, PayloadLen)
	binary.BigEndian.PutUint16(buf[0:2], p.HardwareType)
	binary.BigEndian.PutUint16(buf[2:4], p.ProtoType)
	buf[4] = p.HwAddrLen
	buf[5] = p.ProtoAddrLen
	binary.BigEndian.PutUint16(buf[6:8], p.Opcode)
	copy(buf[8:14], p.SenderMac[:])
	copy(buf[14:18], p.SenderIP[:])
	copy(buf[18:24], p.TargetMac[:])
	copy(buf[24:28], p.TargetIP[:])
	return buf
}

// Decode parses and validates a 28-byte ARP payload per spec.md §4.9:
// hardware-type=1, proto-type=0x0800, hw-len=6, proto-len=4.
func Decode(buf []byte) (Packet, error) {
	var p Packet
	if len(buf) < PayloadLen {
		return p, ErrFrameTooShort
	}
	p.HardwareType = binary.BigEndian.Uint16(buf[0:2])
	p.ProtoType = binary.BigEndian.Uint16(buf[2:4])
	p.HwAddrLen = buf[4]
	p.ProtoAddrLen = buf[5]
	p.Opcode = binary.BigEndian.Uint16(buf[6:8])
	copy(p.SenderMac[:], buf[8:14])
	copy(p.SenderIP[:], buf[14:18])
	copy(p.TargetMac[:], buf[18:24])
	copy(p.TargetIP[:], buf[24:28])

	if p.HardwareType != HardwareTypeEthernet {
		return p, ErrBadHardwareType
	}
	if p.ProtoType != ProtoTypeIPv4 {
		return p, ErrBadProtoType
	}
	if p.HwAddrLen != HwAddrLen || p.ProtoAddrLen != ProtoAddrLen {
		return p, ErrBadAddrLengths
	}
	return p, nil
}

// EncodeEthernetFrame wraps payload in a 14-byte Ethernet header, used
// for broadcasting ARP requests per spec.md §4.9's "destination
// FF:FF:FF:FF:FF:FF and EtherType 0x0806".
func EncodeEthernetFrame(srcMac, dstMac packetbuf.MacAddr, payload Packet) []byte {
	body := payload.Encode()
	frame := make([]byte, 14+len(body))
	copy(frame[0:6], dstMac[:])
	copy(frame[6:12], srcMac[:])
	binary.BigEndian.PutUint16(frame[12:14], EtherTypeARP)
	copy(frame[14:], body)
	return frame
}
