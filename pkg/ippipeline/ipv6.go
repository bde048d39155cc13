package ippipeline

import (
	"encoding/binary"
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Ipv6Header is the fixed 40-byte IPv6 header, per spec.md §4.7.
type Ipv6Header struct {
	Version      uint8
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src          [16]byte
	Dst          [16]byte
}

const (
	extHopByHop    = 0
	extRouting     = 43
	extFragment    = 44
	extDestOptions = 60
)

func parseIpv6Header(buf []byte) (Ipv6Header, error) {
	var h Ipv6Header
	if len(buf) < Ipv6HeaderLen {
		return h, ErrFrameTooShort
	}
	verClassFlow := binary.BigEndian.Uint32(buf[0:4])
	h.Version = uint8(verClassFlow >> 28)
	if h.Version != 6 {
		return h, ErrBadVersion
	}
	h.TrafficClass = uint8(verClassFlow >> 20)
	h.FlowLabel = verClassFlow & 0xFFFFF
	h.PayloadLen = binary.BigEndian.Uint16(buf[4:6])
	h.NextHeader = buf[6]
	h.HopLimit = buf[7]
	copy(h.Src[:], buf[8:24])
	copy(h.Dst[:], buf[24:40])
	if int(h.PayloadLen)+Ipv6HeaderLen > len(buf) {
		return h, ErrTotalLengthBad
	}
	return h, nil
}

// fragmentHeaderV6 is the 8-byte IPv6 Fragment extension header.
type fragmentHeaderV6 struct {
	nextHeader uint8
	fragOffset uint16 // in 8-byte units
	moreFrags  bool
	ident      uint32
}

func parseFragmentHeaderV6(buf []byte) (fragmentHeaderV6, int, error) {
	if len(buf) < 8 {
		return fragmentHeaderV6{}, 0, ErrFrameTooShort
	}
	var f fragmentHeaderV6
	f.nextHeader = buf[0]
	offsetFlags := binary.BigEndian.Uint16(buf[2:4])
	f.fragOffset = offsetFlags >> 3
	f.moreFrags = offsetFlags&0x1 != 0
	f.ident = binary.BigEndian.Uint32(buf[4:8])
	return f, 8, nil
}

// walkExtensionHeadersV6 walks Hop-by-Hop, Routing, Fragment and
// Destination Options headers, returning the offset of the upper-layer
// payload, the effective next-header, and the fragment header if present.
// Routing header segments_left is inspected but left untouched, per
// spec.md §4.7's "no-op beyond forwarding" note.
func walkExtensionHeadersV6(buf []byte, firstNextHeader uint8) (payloadOff int, upperProto uint8, frag *fragmentHeaderV6, err error) {
	off := 0
	next := firstNextHeader
	for {
		switch next {
		case extHopByHop, extDestOptions:
			if off+2 > len(buf) {
				return 0, 0, nil, ErrFrameTooShort
			}
			hdrLen := (int(buf[off+1]) + 1) * 8
			if off+hdrLen > len(buf) {
				return 0, 0, nil, ErrFrameTooShort
			}
			next = buf[off]
			off += hdrLen
		case extRouting:
			if off+2 > len(buf) {
				return 0, 0, nil, ErrFrameTooShort
			}
			hdrLen := (int(buf[off+1]) + 1) * 8
			if off+hdrLen > len(buf) {
				return 0, 0, nil, ErrFrameTooShort
			}
			next = buf[off]
			off += hdrLen
		case extFragment:
			fh, flen, perr := parseFragmentHeaderV6(buf[off:])
			if perr != nil {
				return 0, 0, nil, perr
			}
			next = fh.nextHeader
			off += flen
			frag = &fh
		default:
			return off, next, frag, nil
		}
	}
}

// IngressV6 mirrors IngressV4 per spec.md §4.7's "(1)-(6) with hop_limit
// instead of TTL" instruction.
func (p *Pipeline) IngressV6(pkt *packetbuf.Buffer, ipOffset int, meta packetbuf.Metadata) IngressResult {
	buf := pkt.Bytes()
	if ipOffset > len(buf) {
		return IngressResult{Verdict: VerdictDrop, Reason: DropHeaderError}
	}
	body := buf[ipOffset:]

	h, err := parseIpv6Header(body)
	if err != nil {
		return IngressResult{Verdict: VerdictDrop, Reason: DropHeaderError}
	}

	extOff, upperProto, frag, err := walkExtensionHeadersV6(body[Ipv6HeaderLen:], h.NextHeader)
	if err != nil {
		return IngressResult{Verdict: VerdictDrop, Reason: DropHeaderError}
	}
	payloadOff := Ipv6HeaderLen + extOff

	if frag != nil {
		reassembled, dropped := p.reassembleV6(h, *frag, upperProto, body[payloadOff:Ipv6HeaderLen+int(h.PayloadLen)], meta, time.Now())
		if dropped != DropNone {
			return IngressResult{Verdict: VerdictDrop, Reason: dropped}
		}
		if reassembled == nil {
			return IngressResult{Verdict: VerdictDrop, Reason: DropNone}
		}
		return IngressResult{Verdict: VerdictReassembled, Reassembled: reassembled}
	}

	if p.localAddrs != nil && p.localAddrs.IsLocalIPv6(h.Dst) {
		return IngressResult{Verdict: VerdictLocal}
	}

	if h.HopLimit == 0 || h.HopLimit-1 < TTLThreshold {
		return IngressResult{Verdict: VerdictDrop, Reason: DropTtlExceeded}
	}
	h.HopLimit--
	body[7] = h.HopLimit

	return IngressResult{Verdict: VerdictForward}
}

func (p *Pipeline) reassembleV6(h Ipv6Header, frag fragmentHeaderV6, upperProto uint8, fragPayload []byte, meta packetbuf.Metadata, now time.Time) (*packetbuf.Buffer, DropReason) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fragKeyV6{Src: h.Src, Dst: h.Dst, Ident: frag.ident}
	ctx, ok := p.v6frags[key]
	if !ok {
		if len(p.v6frags) >= p.cfg.MaxFragments {
			p.evictOldestV6Locked()
		}
		ctx = &fragmentContext{arrivalTs: now, srcMac: meta.SrcMac, dstMac: meta.DstMac, vlan: meta.Vlan, port: packetbuf.PortID(meta.Port)}
		p.v6frags[key] = ctx
	}

	offsetBytes := int(frag.fragOffset) * 8
	if offsetBytes+len(fragPayload) > len(ctx.payload) {
		grown := make([]byte, offsetBytes+len(fragPayload))
		copy(grown, ctx.payload)
		ctx.payload = grown
	}
	copy(ctx.payload[offsetBytes:], fragPayload)
	ctx.received = append(ctx.received, fragSpan{offset: offsetBytes, length: len(fragPayload)})
	ctx.fragmentsReceived++

	if !frag.moreFrags {
		ctx.totalLength = offsetBytes + len(fragPayload)
		ctx.haveTotalLength = true
	}

	if !ctx.haveTotalLength || !contiguousCoverage(ctx.received, ctx.totalLength) {
		return nil, DropNone
	}

	delete(p.v6frags, key)
	buf, err := packetbuf.Allocate(len(ctx.payload))
	if err != nil {
		return nil, DropHeaderError
	}
	if err := buf.Append(ctx.payload); err != nil {
		return nil, DropHeaderError
	}
	p.reassembledCount++
	return buf, DropNone
}

func (p *Pipeline) evictOldestV6Locked() {
	var oldestKey fragKeyV6
	var oldestTs time.Time
	first := true
	for k, ctx := range p.v6frags {
		if first || ctx.arrivalTs.Before(oldestTs) {
			oldestKey, oldestTs, first = k, ctx.arrivalTs, false
		}
	}
	if !first {
		delete(p.v6frags, oldestKey)
		p.reassemblyTimeouts++
	}
}
