package stp

import (
	"encoding/binary"

	"github.com/nexswitch/vswitch/pkg/corerr"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// BpduDestMac is the reserved STP multicast destination from spec.md §4.6/§6.
var BpduDestMac = packetbuf.MacAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x00}

// BPDU type codes from spec.md §4.6.
const (
	TypeConfig uint8 = 0x00
	TypeTCN    uint8 = 0x80
)

const (
	llcLen         = 3
	configBodyLen  = 35
	tcnBodyLen     = 4
	ethHeaderLen   = 14
	configFrameLen = ethHeaderLen + llcLen + configBodyLen // 52
	tcnFrameLen    = ethHeaderLen + llcLen + tcnBodyLen     // 21
)

// ConfigBPDU is the Config BPDU body from spec.md §4.6. The four timer
// fields are seconds (fractional, since the wire encoding is 1/256s
// resolution per spec.md §4.6's "value×256" rule).
type ConfigBPDU struct {
	Flags        uint8
	RootID       BridgeID
	RootPathCost uint32
	BridgeID     BridgeID
	PortID       uint16
	MessageAge   float64
	MaxAge       float64
	HelloTime    float64
	ForwardDelay float64
}

// EncodeConfig builds the full 52-byte wire frame (Ethernet + LLC + BPDU
// body) for a Config BPDU sent from srcMac.
func EncodeConfig(srcMac packetbuf.MacAddr, b ConfigBPDU) []byte {
	buf := make([]byte, configFrameLen)
	copy(buf[0:6], BpduDestMac[:])
	copy(buf[6:12], srcMac[:])
	binary.BigEndian.PutUint16(buf[12:14], llcLen+configBodyLen)

	buf[14] = 0x42 // DSAP
	buf[15] = 0x42 // SSAP
	buf[16] = 0x03 // Control (UI)

	off := 17
	binary.BigEndian.PutUint16(buf[off:], 0x0000) // protocol id
	off += 2
	buf[off] = 0x00 // protocol version
	off++
	buf[off] = TypeConfig
	off++
	buf[off] = b.Flags
	off++
	binary.BigEndian.PutUint16(buf[off:], b.RootID.Priority)
	off += 2
	copy(buf[off:off+6], b.RootID.Mac[:])
	off += 6
	binary.BigEndian.PutUint32(buf[off:], b.RootPathCost)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], b.BridgeID.Priority)
	off += 2
	copy(buf[off:off+6], b.BridgeID.Mac[:])
	off += 6
	binary.BigEndian.PutUint16(buf[off:], b.PortID)
	off += 2
	putTimer(buf[off:], b.MessageAge)
	off += 2
	putTimer(buf[off:], b.MaxAge)
	off += 2
	putTimer(buf[off:], b.HelloTime)
	off += 2
	putTimer(buf[off:], b.ForwardDelay)

	return buf
}

// DecodeConfig parses a 52-byte Config BPDU frame.
func DecodeConfig(frame []byte) (ConfigBPDU, error) {
	if len(frame) < configFrameLen {
		return ConfigBPDU{}, corerr.New("stp.DecodeConfig", corerr.HeaderError, "frame too short")
	}
	if frame[16] != 0x03 || frame[14] != 0x42 || frame[15] != 0x42 {
		return ConfigBPDU{}, corerr.New("stp.DecodeConfig", corerr.HeaderError, "bad llc header")
	}
	off := 17
	off += 2 // protocol id
	off++    // version
	typ := frame[off]
	off++
	if typ != TypeConfig {
		return ConfigBPDU{}, corerr.New("stp.DecodeConfig", corerr.HeaderError, "not a config bpdu")
	}
	var b ConfigBPDU
	b.Flags = frame[off]
	off++
	b.RootID.Priority = binary.BigEndian.Uint16(frame[off:])
	off += 2
	copy(b.RootID.Mac[:], frame[off:off+6])
	off += 6
	b.RootPathCost = binary.BigEndian.Uint32(frame[off:])
	off += 4
	b.BridgeID.Priority = binary.BigEndian.Uint16(frame[off:])
	off += 2
	copy(b.BridgeID.Mac[:], frame[off:off+6])
	off += 6
	b.PortID = binary.BigEndian.Uint16(frame[off:])
	off += 2
	b.MessageAge = getTimer(frame[off:])
	off += 2
	b.MaxAge = getTimer(frame[off:])
	off += 2
	b.HelloTime = getTimer(frame[off:])
	off += 2
	b.ForwardDelay = getTimer(frame[off:])

	return b, nil
}

// EncodeTCN builds a TCN BPDU frame.
func EncodeTCN(srcMac packetbuf.MacAddr) []byte {
	buf := make([]byte, tcnFrameLen)
	copy(buf[0:6], BpduDestMac[:])
	copy(buf[6:12], srcMac[:])
	binary.BigEndian.PutUint16(buf[12:14], llcLen+tcnBodyLen)
	buf[14] = 0x42
	buf[15] = 0x42
	buf[16] = 0x03
	binary.BigEndian.PutUint16(buf[17:19], 0x0000)
	buf[19] = 0x00
	buf[20] = TypeTCN
	return buf
}

// IsTCN reports whether frame is a TCN BPDU (by length and type byte).
func IsTCN(frame []byte) bool {
	return len(frame) >= tcnFrameLen && frame[20] == TypeTCN
}

// putTimer/getTimer implement spec.md §4.6's "value×256" big-endian 16-bit
// timer encoding (1/256-second units, the real 802.1D convention).
func putTimer(dst []byte, seconds float64) {
	binary.BigEndian.PutUint16(dst, uint16(seconds*256))
}

func getTimer(src []byte) float64 {
	return float64(binary.BigEndian.Uint16(src)) / 256.0
}
