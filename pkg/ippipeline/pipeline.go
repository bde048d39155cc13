package ippipeline

import (
	"sync"
	"time"

	"github.com/nexswitch/vswitch/pkg/corelog"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Pipeline is the StpBridge-sibling engine for C7: IPv4/IPv6 validation,
// TTL handling and fragment reassembly. Grounded on pkg/health's
// checker structs for the general "validate, then act, with counters"
// shape and on golang.org/x/net/icmp for ICMP construction.
type Pipeline struct {
	mu sync.Mutex

	cfg        Config
	localAddrs LocalAddressSet
	icmpSend   func(*packetbuf.Buffer)

	v4frags map[fragKeyV4]*fragmentContext
	v6frags map[fragKeyV6]*fragmentContext

	unsupportedOptions uint64
	reassembledCount   uint64
	reassemblyTimeouts uint64
}

// New builds a Pipeline with cfg. A zero FragmentTimeout or MaxFragments
// falls back to the package default.
func New(cfg Config) *Pipeline {
	if cfg.FragmentTimeout == 0 {
		cfg.FragmentTimeout = FragmentReassemblyTimeout
	}
	if cfg.MaxFragments == 0 {
		cfg.MaxFragments = MaxFragments
	}
	return &Pipeline{
		cfg:     cfg,
		v4frags: make(map[fragKeyV4]*fragmentContext),
		v6frags: make(map[fragKeyV6]*fragmentContext),
	}
}

// SetLocalAddressSet wires the interface-address lookup used by step 4 of
// spec.md §4.7's ingress algorithm.
func (p *Pipeline) SetLocalAddressSet(s LocalAddressSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localAddrs = s
}

// SetICMPSender wires the transmit hook used when cfg.EmitICMPErrors is
// set; Core is responsible for routing the returned buffer back out a
// port via the backend.
func (p *Pipeline) SetICMPSender(fn func(*packetbuf.Buffer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.icmpSend = fn
}

// EmitFragNeeded sends an ICMP Fragmentation Needed error for a packet
// that carried DF but exceeded the egress MTU (spec.md §4.7 step 6). A
// no-op unless EmitICMPErrors is enabled and a sender is wired.
func (p *Pipeline) EmitFragNeeded(origHeader []byte, h Ipv4Header, nextHopMTU uint16) {
	p.mu.Lock()
	emit, sender := p.cfg.EmitICMPErrors, p.icmpSend
	p.mu.Unlock()
	if !emit || sender == nil {
		return
	}
	sender(buildFragNeededV4(origHeader, h, nextHopMTU))
}

func (p *Pipeline) UnsupportedOptionCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsupportedOptions
}

func (p *Pipeline) ReassembledCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reassembledCount
}

func (p *Pipeline) ReassemblyTimeoutCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reassemblyTimeouts
}

// reassembleV4 folds one fragment into its FragmentContext, returning the
// reassembled datagram payload once every byte offset is covered, or nil
// while fragments are still outstanding.
func (p *Pipeline) reassembleV4(h Ipv4Header, fragPayload []byte, meta packetbuf.Metadata, now time.Time) (*packetbuf.Buffer, DropReason) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := fragKeyV4{Src: h.Src, Dst: h.Dst, Ident: h.Ident, Proto: h.Proto}
	ctx, ok := p.v4frags[key]
	if !ok {
		if len(p.v4frags) >= p.cfg.MaxFragments {
			p.evictOldestV4Locked()
		}
		ctx = &fragmentContext{arrivalTs: now, srcMac: meta.SrcMac, dstMac: meta.DstMac, vlan: meta.Vlan, port: packetbuf.PortID(meta.Port)}
		p.v4frags[key] = ctx
	}

	offsetBytes := int(h.FragOff) * 8
	if offsetBytes+len(fragPayload) > len(ctx.payload) {
		grown := make([]byte, offsetBytes+len(fragPayload))
		copy(grown, ctx.payload)
		ctx.payload = grown
	}
	copy(ctx.payload[offsetBytes:], fragPayload)
	ctx.received = append(ctx.received, fragSpan{offset: offsetBytes, length: len(fragPayload)})
	ctx.fragmentsReceived++

	if h.Flags&flagMF == 0 {
		ctx.totalLength = offsetBytes + len(fragPayload)
		ctx.haveTotalLength = true
	}

	if !ctx.haveTotalLength || !contiguousCoverage(ctx.received, ctx.totalLength) {
		return nil, DropNone
	}

	delete(p.v4frags, key)
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

// contiguousCoverage reports whether the union of received spans covers
// [0, total) without gaps.
func contiguousCoverage(spans []fragSpan, total int) bool {
	if total == 0 {
		return false
	}
	covered := make([]bool, total)
	for _, s := range spans {
		for i := s.offset; i < s.offset+s.length && i < total; i++ {
			covered[i] = true
		}
	}
	for _, c := range covered {
		if !c {
			return false
		}
	}
	return true
}

func (p *Pipeline) evictOldestV4Locked() {
	var oldestKey fragKeyV4
	var oldestTs time.Time
	first := true
	for k, ctx := range p.v4frags {
		if first || ctx.arrivalTs.Before(oldestTs) {
			oldestKey, oldestTs, first = k, ctx.arrivalTs, false
		}
	}
	if !first {
		delete(p.v4frags, oldestKey)
		p.reassemblyTimeouts++
	}
}

// Sweep expires fragment contexts older than the configured timeout,
// implementing spec.md §4.7's "timer expires the context after 30s and
// drops partials." Intended to be called from Core's scheduler tick.
func (p *Pipeline) Sweep(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, ctx := range p.v4frags {
		if now.Sub(ctx.arrivalTs) > p.cfg.FragmentTimeout {
			delete(p.v4frags, k)
			p.reassemblyTimeouts++
			corelog.For("ippipeline").WithField("ident", k.Ident).Debug("ipv4 reassembly timed out")
		}
	}
	for k, ctx := range p.v6frags {
		if now.Sub(ctx.arrivalTs) > p.cfg.FragmentTimeout {
			delete(p.v6frags, k)
			p.reassemblyTimeouts++
			corelog.For("ippipeline").WithField("ident", k.Ident).Debug("ipv6 reassembly timed out")
		}
	}
}
