package ippipeline

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// buildIpv4 constructs a minimal valid IPv4 packet (20-byte header, no
// options) with a correct checksum.
func buildIpv4(t *testing.T, ttl uint8, flags uint8, fragOff uint16, ident uint16, payload []byte) []byte {
	t.Helper()
	total := 20 + len(payload)
	buf := make([]byte, total)
	buf[0] = 0x45
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint16(buf[4:6], ident)
	flagsFrag := (uint16(flags) << 13) | (fragOff & 0x1FFF)
	binary.BigEndian.PutUint16(buf[6:8], flagsFrag)
	buf[8] = ttl
	buf[9] = 17 // UDP
	copy(buf[12:16], []byte{10, 0, 0, 1})
	copy(buf[16:20], []byte{10, 0, 0, 2})
	copy(buf[20:], payload)
	binary.BigEndian.PutUint16(buf[10:12], checksum16(buf[:20]))
	return buf
}

func toBuffer(t *testing.T, raw []byte) *packetbuf.Buffer {
	t.Helper()
	b, err := packetbuf.Allocate(len(raw))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Append(raw); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestChecksumRoundTrip(t *testing.T) {
	raw := buildIpv4(t, 64, 0, 0, 1, []byte("hello"))
	if !verifyChecksum(raw[:20]) {
		t.Fatal("expected a freshly built header to verify")
	}
	raw[0] ^= 0xFF // corrupt
	if verifyChecksum(raw[:20]) {
		t.Fatal("expected corrupted header to fail verification")
	}
}

func TestIngressV4RejectsBadChecksum(t *testing.T) {
	p := New(DefaultConfig())
	raw := buildIpv4(t, 64, 0, 0, 1, []byte("hi"))
	raw[11] ^= 0x01 // flip a checksum bit
	res := p.IngressV4(toBuffer(t, raw), 0, packetbuf.Metadata{})
	if res.Verdict != VerdictDrop || res.Reason != DropChecksumError {
		t.Fatalf("got %+v, want drop/checksum-error", res)
	}
}

func TestIngressV4DecrementsTTL(t *testing.T) {
	p := New(DefaultConfig())
	raw := buildIpv4(t, 64, 0, 0, 1, []byte("hi"))
	pkt := toBuffer(t, raw)
	res := p.IngressV4(pkt, 0, packetbuf.Metadata{})
	if res.Verdict != VerdictForward {
		t.Fatalf("verdict = %v, want forward", res.Verdict)
	}
	if pkt.Bytes()[8] != 63 {
		t.Fatalf("ttl after forward = %d, want 63", pkt.Bytes()[8])
	}
}

func TestIngressV4DropsOnTTLExpiry(t *testing.T) {
	p := New(DefaultConfig())
	raw := buildIpv4(t, 1, 0, 0, 1, []byte("hi"))
	res := p.IngressV4(toBuffer(t, raw), 0, packetbuf.Metadata{})
	if res.Verdict != VerdictDrop || res.Reason != DropTtlExceeded {
		t.Fatalf("got %+v, want drop/ttl-exceeded", res)
	}
}

func TestIngressV4ReassemblesTwoFragments(t *testing.T) {
	p := New(DefaultConfig())
	first := buildIpv4(t, 64, flagMF, 0, 0x1234, make([]byte, 1480))
	second := buildIpv4(t, 64, 0, 1480/8, 0x1234, make([]byte, 500))

	res1 := p.IngressV4(toBuffer(t, first), 0, packetbuf.Metadata{})
	if res1.Verdict != VerdictDrop || res1.Reason != DropNone {
		t.Fatalf("first fragment verdict = %+v, want absorbed", res1)
	}
	res2 := p.IngressV4(toBuffer(t, second), 0, packetbuf.Metadata{})
	if res2.Verdict != VerdictReassembled {
		t.Fatalf("second fragment verdict = %v, want reassembled", res2.Verdict)
	}
	if res2.Reassembled.Len() != 1980 {
		t.Fatalf("reassembled len = %d, want 1980", res2.Reassembled.Len())
	}
	if p.ReassembledCount() != 1 {
		t.Fatalf("reassembled count = %d, want 1", p.ReassembledCount())
	}
}

func TestSweepExpiresLoneFragment(t *testing.T) {
	p := New(Config{EmitICMPErrors: false, FragmentTimeout: time.Millisecond, MaxFragments: 64})
	first := buildIpv4(t, 64, flagMF, 0, 0x5678, make([]byte, 100))
	p.IngressV4(toBuffer(t, first), 0, packetbuf.Metadata{})

	p.Sweep(time.Now().Add(time.Second))
	if p.ReassemblyTimeoutCount() != 1 {
		t.Fatalf("timeout count = %d, want 1", p.ReassemblyTimeoutCount())
	}
}

func TestFragmentV4RespectsDF(t *testing.T) {
	raw := buildIpv4(t, 64, flagDF, 0, 1, make([]byte, 2000))
	_, ok := FragmentV4(raw, 1500, true)
	if ok {
		t.Fatal("expected fragmentation to be refused when df is set and mtu is too small")
	}
}

func TestFragmentV4SplitsOnEightByteBoundary(t *testing.T) {
	raw := buildIpv4(t, 64, 0, 0, 1, make([]byte, 3000))
	frags, ok := FragmentV4(raw, 1400, false)
	if !ok {
		t.Fatal("expected fragmentation to succeed")
	}
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}
	for i, f := range frags {
		if !verifyChecksum(f[:20]) {
			t.Fatalf("fragment %d has bad checksum", i)
		}
		flagsFrag := binary.BigEndian.Uint16(f[6:8])
		mf := uint8(flagsFrag>>13) & flagMF
		isLast := i == len(frags)-1
		if !isLast && (len(f)-20)%8 != 0 {
			t.Fatalf("fragment %d carries %d data bytes, not a multiple of 8", i, len(f)-20)
		}
		if isLast && mf != 0 {
			t.Fatal("last fragment must not carry MF")
		}
		if !isLast && mf == 0 {
			t.Fatalf("fragment %d should carry MF", i)
		}
	}
}
