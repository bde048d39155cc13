// Package mactable implements the MAC learning/aging table (C4): a
// hash-keyed (mac, vlan) -> port table with chaining, LRU eviction among
// dynamic entries, static-entry precedence, and an aging sweep. Grounded
// on pkg/server/session_manager.go's map+mutex+TTL-sweep shape and
// pkg/health/manager.go's periodic-sweep-under-lock pattern.
package mactable

import (
	"sync"
	"time"

	"github.com/nexswitch/vswitch/pkg/corelog"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Kind is MacEntry.kind from spec.md §3.
type Kind int

const (
	Dynamic Kind = iota
	Static
	Management
)

// Aging is MacEntry.aging from spec.md §3.
type Aging int

const (
	AgingActive Aging = iota
	AgingDisabled
)

// Entry is MacEntry from spec.md §3.
type Entry struct {
	Mac        packetbuf.MacAddr
	Vlan       packetbuf.VlanID
	Port       packetbuf.PortID
	Kind       Kind
	AgingState Aging
	CreatedTs  time.Time
	LastUsedTs time.Time
	HitCount   uint64
}

type key struct {
	mac  packetbuf.MacAddr
	vlan packetbuf.VlanID
}

// MoveCallback fires on add/update (isAdded=true) and delete (isAdded=false),
// matching spec.md §4.4's event contract.
type MoveCallback func(e Entry, isAdded bool)

// node is a chain link inside a bucket.
type node struct {
	e    Entry
	next *node
}

// Table is the MAC Table engine (C4). Per spec.md §5 it sits after the
// VLAN Engine and before the STP Bridge in the global lock order.
type Table struct {
	mu         sync.Mutex
	buckets    []*node
	mask       uint32
	count      int
	maxEntries int
	agingTime  time.Duration
	onEvent    MoveCallback
}

// New builds a table sized to the next power of two >= maxEntries, per
// spec.md §4.4 ("table size is a power of two derived from
// CONFIG_MAX_MAC_TABLE_ENTRIES").
func New(maxEntries int, agingTime time.Duration) *Table {
	size := nextPow2(maxEntries)
	if size < 16 {
		size = 16
	}
	return &Table{
		buckets:    make([]*node, size),
		mask:       uint32(size - 1),
		maxEntries: maxEntries,
		agingTime:  agingTime,
	}
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// SetEventCallback registers the single move/delete event sink.
func (t *Table) SetEventCallback(cb MoveCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = cb
}

// hash combines mac bytes and vlan into a bucket index, FNV-1a style,
// matching the hand-rolled fnv-ish hashing in pkg/router/router.go's
// flow-key map usage elsewhere in the teacher's codebase (that code uses
// hash/fnv directly on a struct; here the hash is inlined since the key
// is a small fixed-size value, not a variable-length byte stream).
func (t *Table) hash(k key) uint32 {
	var h uint32 = 2166136261
	for _, b := range k.mac {
		h ^= uint32(b)
		h *= 16777619
	}
	h ^= uint32(k.vlan)
	h *= 16777619
	return h & t.mask
}

func (t *Table) find(k key) *node {
	for n := t.buckets[t.hash(k)]; n != nil; n = n.next {
		if n.e.Mac == k.mac && n.e.Vlan == k.vlan {
			return n
		}
	}
	return nil
}

// Add inserts or updates an entry. Static always overrides Dynamic;
// Dynamic never overrides Static (spec.md §4.4, invariant #2 of spec.md §8).
func (t *Table) Add(mac packetbuf.MacAddr, vlan packetbuf.VlanID, p packetbuf.PortID, isStatic bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(mac, vlan, p, isStatic, time.Now())
}

func (t *Table) addLocked(mac packetbuf.MacAddr, vlan packetbuf.VlanID, p packetbuf.PortID, isStatic bool, now time.Time) error {
	k := key{mac, vlan}
	if existing := t.find(k); existing != nil {
		if existing.e.Kind == Static && !isStatic {
			return nil // Dynamic insert on Static key is a silent no-op
		}
		moved := existing.e.Port != p
		existing.e.Port = p
		if isStatic {
			existing.e.Kind = Static
			existing.e.AgingState = AgingDisabled
		}
		existing.e.LastUsedTs = now
		existing.e.HitCount++
		t.fireEvent(existing.e, true)
		_ = moved
		return nil
	}

	if t.count >= t.maxEntries {
		if !t.evictOneDynamicLocked() {
			return &TableError{Op: "Add", Err: ErrTableFull}
		}
	}

	kind := Dynamic
	aging := AgingActive
	if isStatic {
		kind = Static
		aging = AgingDisabled
	}
	e := Entry{
		Mac: mac, Vlan: vlan, Port: p, Kind: kind, AgingState: aging,
		CreatedTs: now, LastUsedTs: now, HitCount: 1,
	}
	idx := t.hash(k)
	t.buckets[idx] = &node{e: e, next: t.buckets[idx]}
	t.count++
	t.fireEvent(e, true)
	return nil
}

// evictOneDynamicLocked removes the least-recently-used Dynamic entry.
// Returns false if no Dynamic entry exists to evict.
func (t *Table) evictOneDynamicLocked() bool {
	var oldest *node
	var oldestBucket int
	found := false
	for i, head := range t.buckets {
		for n := head; n != nil; n = n.next {
			if n.e.Kind != Dynamic {
				continue
			}
			if !found || n.e.LastUsedTs.Before(oldest.e.LastUsedTs) {
				oldest = n
				oldestBucket = i
				found = true
			}
		}
	}
	if !found {
		return false
	}
	t.removeLocked(oldestBucket, oldest.e.Mac, oldest.e.Vlan)
	return true
}

// Learn is the ingress side-effect described in spec.md §4.4: insert or
// refresh a Dynamic entry for (mac, vlan) at inPort, emitting a Move event
// if the port changed for an existing key.
func (t *Table) Learn(mac packetbuf.MacAddr, vlan packetbuf.VlanID, inPort packetbuf.PortID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	k := key{mac, vlan}
	if existing := t.find(k); existing != nil {
		if existing.e.Kind == Static {
			return
		}
		if existing.e.Port != inPort {
			corelog.For("mactable").WithField("mac", mac).WithField("vlan", vlan).
				WithField("from", existing.e.Port).WithField("to", inPort).Info("mac move detected")
			existing.e.Port = inPort
		}
		existing.e.LastUsedTs = now
		existing.e.HitCount++
		t.fireEvent(existing.e, true)
		return
	}
	_ = t.addLocked(mac, vlan, inPort, false, now)
}

// Lookup returns the learned port for (mac, vlan), if any.
func (t *Table) Lookup(mac packetbuf.MacAddr, vlan packetbuf.VlanID) (packetbuf.PortID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.find(key{mac, vlan}); n != nil {
		return n.e.Port, true
	}
	return 0, false
}

// GetPort is an alias for Lookup matching spec.md §4.4's named operation.
func (t *Table) GetPort(dstMac packetbuf.MacAddr, vlan packetbuf.VlanID) (packetbuf.PortID, bool) {
	return t.Lookup(dstMac, vlan)
}

// Delete removes a specific (mac, vlan) entry.
func (t *Table) Delete(mac packetbuf.MacAddr, vlan packetbuf.VlanID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.hash(key{mac, vlan})
	if !t.removeLocked(int(idx), mac, vlan) {
		return &TableError{Op: "Delete", Err: ErrEntryNotFound}
	}
	return nil
}

func (t *Table) removeLocked(bucket int, mac packetbuf.MacAddr, vlan packetbuf.VlanID) bool {
	var prev *node
	for n := t.buckets[bucket]; n != nil; n = n.next {
		if n.e.Mac == mac && n.e.Vlan == vlan {
			if prev == nil {
				t.buckets[bucket] = n.next
			} else {
				prev.next = n.next
			}
			t.count--
			t.fireEvent(n.e, false)
			return true
		}
		prev = n
	}
	return false
}

// Flush removes entries matching the optional vlan/port filters. When
// includeStatic is false, Static/Management entries are preserved.
func (t *Table) Flush(vlan *packetbuf.VlanID, p *packetbuf.PortID, includeStatic bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, head := range t.buckets {
		var prev *node
		n := head
		for n != nil {
			next := n.next
			match := (vlan == nil || n.e.Vlan == *vlan) && (p == nil || n.e.Port == *p)
			if match && (includeStatic || n.e.Kind == Dynamic) {
				if prev == nil {
					t.buckets[i] = next
				} else {
					prev.next = next
				}
				t.count--
				t.fireEvent(n.e, false)
			} else {
				prev = n
			}
			n = next
		}
	}
}

// ProcessAging evicts Dynamic entries idle longer than agingTime. A zero
// agingTime disables aging entirely, per spec.md §4.4.
func (t *Table) ProcessAging(now time.Time) {
	if t.agingTime == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, head := range t.buckets {
		var prev *node
		n := head
		for n != nil {
			next := n.next
			if n.e.Kind == Dynamic && n.e.AgingState == AgingActive && now.Sub(n.e.LastUsedTs) > t.agingTime {
				if prev == nil {
					t.buckets[i] = next
				} else {
					prev.next = next
				}
				t.count--
				t.fireEvent(n.e, false)
			} else {
				prev = n
			}
			n = next
		}
	}
}

// Iterate calls cb for every entry currently in the table.
func (t *Table) Iterate(cb func(Entry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, head := range t.buckets {
		for n := head; n != nil; n = n.next {
			cb(n.e)
		}
	}
}

// Count returns the current number of entries.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *Table) fireEvent(e Entry, added bool) {
	if t.onEvent != nil {
		t.onEvent(e, added)
	}
}
