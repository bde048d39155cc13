// Package packetbuf implements the packet buffer and metadata layer (C1):
// a fixed-capacity byte buffer plus the per-packet metadata every pipeline
// stage reads and mutates. The binary, offset-tracked encode/decode style
// is grounded on pkg/packet/processor.go's hand-rolled frame layout code.
package packetbuf

import (
	"github.com/nexswitch/vswitch/pkg/corerr"
)

// MaxPacketSize is the hard ceiling from spec.md §3/§6.
const MaxPacketSize = 9216

// Direction classifies which way a packet is travelling through the core.
type Direction int

const (
	DirInvalid Direction = iota
	DirRx
	DirTx
	DirInternal
)

func (d Direction) String() string {
	switch d {
	case DirRx:
		return "rx"
	case DirTx:
		return "tx"
	case DirInternal:
		return "internal"
	default:
		return "invalid"
	}
}

// PortID, VlanID and MacAddr mirror the primitives in spec.md §3. They live
// here (rather than in pkg/port or pkg/vlan) because Metadata references
// them and packetbuf must not import the higher-level engines.
type PortID uint16

const (
	PortBroadcast PortID = 0xFFFF
	PortInternal  PortID = 0xFFFE
	PortInvalid   PortID = 0xFFFD
)

type VlanID uint16

const DefaultVlan VlanID = 1

type MacAddr [6]byte

// Less implements the canonical byte-lex ordering from spec.md §3.
func (m MacAddr) Less(o MacAddr) bool {
	for i := range m {
		if m[i] != o[i] {
			return m[i] < o[i]
		}
	}
	return false
}

func (m MacAddr) IsZero() bool { return m == MacAddr{} }

func (m MacAddr) IsMulticast() bool { return m[0]&0x01 != 0 }

func (m MacAddr) IsBroadcast() bool { return m == MacAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} }

// Metadata is PacketMetadata from spec.md §3.
type Metadata struct {
	Port        PortID
	Direction   Direction
	Vlan        VlanID
	Priority    uint8
	SrcMac      MacAddr
	DstMac      MacAddr
	EtherType   uint16
	IsTagged    bool
	IsDropped   bool
	TimestampUs uint64
}

func defaultMetadata() Metadata {
	return Metadata{Port: PortInvalid, Direction: DirInvalid}
}

// Buffer is PacketBuffer from spec.md §4.1.
type Buffer struct {
	data     []byte
	len      int
	Metadata Metadata
	userData any
}

// Allocate returns a zero-initialized buffer of the given capacity.
func Allocate(size int) (*Buffer, error) {
	if size <= 0 || size > MaxPacketSize {
		return nil, corerr.New("packetbuf.Allocate", corerr.InvalidArgument, "size out of range")
	}
	return &Buffer{
		data:     make([]byte, size),
		len:      0,
		Metadata: defaultMetadata(),
	}, nil
}

// Len returns the current occupied length.
func (b *Buffer) Len() int { return b.len }

// Capacity returns the fixed backing-array size.
func (b *Buffer) Capacity() int { return len(b.data) }

// Bytes exposes the occupied prefix of the backing array. Callers must not
// retain the slice past the buffer's lifetime.
func (b *Buffer) Bytes() []byte { return b.data[:b.len] }

// Reset clears len to zero and restores default metadata; capacity is kept.
func (b *Buffer) Reset() {
	b.len = 0
	b.Metadata = defaultMetadata()
	b.userData = nil
}

// UserData / SetUserData let pipeline processors stash opaque per-packet state.
func (b *Buffer) UserData() any          { return b.userData }
func (b *Buffer) SetUserData(v any)      { b.userData = v }

// Append grows len by len(src), copying src in starting at the old len.
func (b *Buffer) Append(src []byte) error {
	if b.len+len(src) > len(b.data) {
		return corerr.New("packetbuf.Append", corerr.Overflow, "append exceeds capacity")
	}
	copy(b.data[b.len:], src)
	b.len += len(src)
	return nil
}

// PeekByte reads a single byte at off.
func (b *Buffer) PeekByte(off int) (byte, error) {
	if off < 0 || off >= b.len {
		return 0, corerr.New("packetbuf.PeekByte", corerr.OutOfBounds, "offset out of range")
	}
	return b.data[off], nil
}

// Peek copies n bytes starting at off into dst without mutating the buffer.
func (b *Buffer) Peek(off, n int, dst []byte) error {
	if n == 0 {
		return nil
	}
	if off < 0 || n < 0 || off+n > b.len {
		return corerr.New("packetbuf.Peek", corerr.OutOfBounds, "range out of bounds")
	}
	copy(dst, b.data[off:off+n])
	return nil
}

// Copy is an alias for Peek kept to mirror spec.md §4.1's named operation.
func (b *Buffer) Copy(off, n int, dst []byte) error { return b.Peek(off, n, dst) }

// Update overwrites n bytes starting at off with src, in place.
func (b *Buffer) Update(off int, src []byte, n int) error {
	if n == 0 {
		return nil
	}
	if off < 0 || n < 0 || off+n > b.len {
		return corerr.New("packetbuf.Update", corerr.OutOfBounds, "range out of bounds")
	}
	copy(b.data[off:off+n], src[:n])
	return nil
}

// Clone returns an independent buffer with copied bytes and metadata; the
// clone's user data always starts nil per spec.md §4.1.
func (b *Buffer) Clone() *Buffer {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return &Buffer{
		data:     data,
		len:      b.len,
		Metadata: b.Metadata,
		userData: nil,
	}
}

// Resize adjusts len, growing the backing array if necessary. On
// reallocation failure the buffer is left unchanged.
func (b *Buffer) Resize(newLen int) error {
	if newLen < 0 {
		return corerr.New("packetbuf.Resize", corerr.InvalidArgument, "negative length")
	}
	if newLen <= len(b.data) {
		if newLen > b.len {
			for i := b.len; i < newLen; i++ {
				b.data[i] = 0
			}
		}
		b.len = newLen
		return nil
	}
	if newLen > MaxPacketSize {
		return corerr.New("packetbuf.Resize", corerr.ResourceExhausted, "exceeds MaxPacketSize")
	}
	grown := make([]byte, newLen)
	copy(grown, b.data[:b.len])
	b.data = grown
	b.len = newLen
	return nil
}

// Insert shifts bytes at and after off to the right by n and writes src
// into the gap, growing the buffer via Resize if needed.
func (b *Buffer) Insert(off int, src []byte, n int) error {
	if off < 0 || off > b.len || n < 0 || n != len(src) {
		return corerr.New("packetbuf.Insert", corerr.InvalidArgument, "bad insert range")
	}
	oldLen := b.len
	if err := b.Resize(oldLen + n); err != nil {
		return err
	}
	copy(b.data[off+n:b.len], b.data[off:oldLen])
	copy(b.data[off:off+n], src)
	return nil
}

// Remove shifts bytes after off+n left by n, shrinking len by n.
func (b *Buffer) Remove(off, n int) error {
	if off < 0 || n < 0 || off+n > b.len {
		return corerr.New("packetbuf.Remove", corerr.OutOfBounds, "range out of bounds")
	}
	copy(b.data[off:], b.data[off+n:b.len])
	b.len -= n
	return nil
}
