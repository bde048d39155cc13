package ippipeline

import (
	"encoding/binary"
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Ipv4Header is the parsed form of an IPv4 header, offsets per RFC 791.
type Ipv4Header struct {
	Version  uint8
	IHL      uint8 // in 32-bit words, 5..15
	TOS      uint8
	TotalLen uint16
	Ident    uint16
	Flags    uint8 // bit1=DF, bit0=MF (bit2 reserved)
	FragOff  uint16 // in 8-byte units
	TTL      uint8
	Proto    uint8
	Checksum uint16
	Src      [4]byte
	Dst      [4]byte
}

const (
	flagDF = 0x2
	flagMF = 0x1
)

func (h Ipv4Header) headerLenBytes() int { return int(h.IHL) * 4 }

// parseIpv4Header reads the fixed 20-byte header plus any options implied
// by IHL, from buf (which must start at the IP header, not the Ethernet
// header).
func parseIpv4Header(buf []byte) (Ipv4Header, error) {
	var h Ipv4Header
	if len(buf) < 20 {
		return h, ErrFrameTooShort
	}
	verIhl := buf[0]
	h.Version = verIhl >> 4
	h.IHL = verIhl & 0x0F
	if h.Version != 4 {
		return h, ErrBadVersion
	}
	if h.IHL < 5 || h.IHL > 15 {
		return h, ErrBadIhl
	}
	if len(buf) < h.headerLenBytes() {
		return h, ErrFrameTooShort
	}
	h.TOS = buf[1]
	h.TotalLen = binary.BigEndian.Uint16(buf[2:4])
	h.Ident = binary.BigEndian.Uint16(buf[4:6])
	flagsFrag := binary.BigEndian.Uint16(buf[6:8])
	h.Flags = uint8(flagsFrag >> 13)
	h.FragOff = flagsFrag & 0x1FFF
	h.TTL = buf[8]
	h.Proto = buf[9]
	h.Checksum = binary.BigEndian.Uint16(buf[10:12])
	copy(h.Src[:], buf[12:16])
	copy(h.Dst[:], buf[16:20])
	if int(h.TotalLen) > len(buf) {
		return h, ErrTotalLengthBad
	}
	return h, nil
}

// LocalAddressSet answers whether an address belongs to one of the
// switch's own interfaces, gating step 4 of spec.md §4.7's ingress
// algorithm (deliver-local vs forward).
type LocalAddressSet interface {
	IsLocalIPv4(addr [4]byte) bool
	IsLocalIPv6(addr [16]byte) bool
}

// Config holds the tunable knobs SPEC_FULL.md's ICMP-emission addition
// introduces on top of spec.md §4.7's base algorithm.
type Config struct {
	EmitICMPErrors  bool
	FragmentTimeout time.Duration
	MaxFragments    int
}

func DefaultConfig() Config {
	return Config{EmitICMPErrors: false, FragmentTimeout: FragmentReassemblyTimeout, MaxFragments: MaxFragments}
}

// IngressResult is returned by IngressV4/IngressV6 and carries enough for
// the caller to drive counters, local delivery, or the forward path.
type IngressResult struct {
	Verdict     Verdict
	Reason      DropReason
	Header4     Ipv4Header
	Reassembled *packetbuf.Buffer // set only on VerdictReassembled
}

// IngressV4 implements spec.md §4.7 steps 1-5 for IPv4. buf must begin at
// the IP header. The sender registered with SetICMPSender receives ICMP
// Time Exceeded messages if cfg.EmitICMPErrors is set.
func (p *Pipeline) IngressV4(pkt *packetbuf.Buffer, ipOffset int, meta packetbuf.Metadata) IngressResult {
	buf := pkt.Bytes()
	if ipOffset > len(buf) {
		return IngressResult{Verdict: VerdictDrop, Reason: DropHeaderError}
	}
	body := buf[ipOffset:]

	h, err := parseIpv4Header(body)
	if err != nil {
		reason := DropHeaderError
		return IngressResult{Verdict: VerdictDrop, Reason: reason}
	}
	hlen := h.headerLenBytes()
	if !verifyChecksum(body[:hlen]) {
		return IngressResult{Verdict: VerdictDrop, Reason: DropChecksumError, Header4: h}
	}

	p.walkIpv4Options(body[20:hlen])

	if h.Flags&flagMF != 0 || h.FragOff > 0 {
		reassembled, dropped := p.reassembleV4(h, body[hlen:int(h.TotalLen)], meta, time.Now())
		if dropped != DropNone {
			return IngressResult{Verdict: VerdictDrop, Reason: dropped, Header4: h}
		}
		if reassembled == nil {
			return IngressResult{Verdict: VerdictDrop, Reason: DropNone, Header4: h} // absorbed into context, more fragments expected
		}
		return IngressResult{Verdict: VerdictReassembled, Header4: h, Reassembled: reassembled}
	}

	if p.localAddrs != nil && p.localAddrs.IsLocalIPv4(h.Dst) {
		return IngressResult{Verdict: VerdictLocal, Header4: h}
	}

	if h.TTL == 0 || h.TTL-1 < TTLThreshold {
		if p.cfg.EmitICMPErrors && p.icmpSend != nil {
			quoteEnd := hlen + 8
			if quoteEnd > len(body) {
				quoteEnd = len(body)
			}
			p.icmpSend(buildTimeExceededV4(body[:quoteEnd], h))
		}
		return IngressResult{Verdict: VerdictDrop, Reason: DropTtlExceeded, Header4: h}
	}
	h.TTL--
	encodeIpv4TTLAndChecksum(body[:hlen], h.TTL)

	return IngressResult{Verdict: VerdictForward, Header4: h}
}

// walkIpv4Options scans the options area. Unsupported option kinds
// increment a counter (via the optional callback) but never drop the
// packet, per spec.md §4.7 step 2; only option-length sanity is enforced.
func (p *Pipeline) walkIpv4Options(opts []byte) {
	for i := 0; i < len(opts); {
		kind := opts[i]
		if kind == 0x00 { // end of options
			break
		}
		if kind == 0x01 { // no-op
			i++
			continue
		}
		if i+1 >= len(opts) {
			break
		}
		length := int(opts[i+1])
		if length < 2 || i+length > len(opts) {
			break
		}
		switch kind {
		case 0x07, 0x44, 0x89, 0x83: // record-route, timestamp, strict/loose source route
			// recognized but otherwise unhandled in this simulator
		default:
			p.unsupportedOptions++
		}
		i += length
	}
}

func encodeIpv4TTLAndChecksum(header []byte, ttl uint8) {
	header[8] = ttl
	header[10] = 0
	header[11] = 0
	cs := checksum16(header)
	binary.BigEndian.PutUint16(header[10:12], cs)
}

// FragmentV4 splits payload (header+data starting at the IP header) into
// egress_mtu-sized pieces on 8-byte boundaries, setting MF on all but the
// last, per spec.md §4.7 step 6. Returns nil,false if df is set and the
// datagram exceeds egressMTU, or if egressMTU leaves no room for 8 data bytes.
func FragmentV4(datagram []byte, egressMTU int, df bool) ([][]byte, bool) {
	if len(datagram) <= egressMTU {
		return [][]byte{datagram}, true
	}
	if df {
		return nil, false
	}
	hlen := int(datagram[0]&0x0F) * 4
	payload := datagram[hlen:]
	maxChunk := ((egressMTU - hlen) / 8) * 8
	if maxChunk <= 0 {
		return nil, false
	}

	var out [][]byte
	for off := 0; off < len(payload); off += maxChunk {
		end := off + maxChunk
		last := end >= len(payload)
		if last {
			end = len(payload)
		}
		frame := make([]byte, hlen+(end-off))
		copy(frame, datagram[:hlen])
		copy(frame[hlen:], payload[off:end])
		binary.BigEndian.PutUint16(frame[2:4], uint16(len(frame)))
		flagsFrag := uint16(off/8) & 0x1FFF
		if !last {
			flagsFrag |= flagMF << 13
		}
		binary.BigEndian.PutUint16(frame[6:8], flagsFrag)
		frame[10] = 0
		frame[11] = 0
		binary.BigEndian.PutUint16(frame[10:12], checksum16(frame[:hlen]))
		out = append(out, frame)
	}
	return out, true
}
