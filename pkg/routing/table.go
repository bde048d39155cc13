package routing

import (
	"sync"
	"time"

	"github.com/nexswitch/vswitch/pkg/corelog"
)

// exactKey is the exact-match hash key from spec.md §4.8: prefix bytes
// masked to prefix_len, plus prefix_len and family. Per DESIGN.md's
// resolution of the hash_ipv4_prefix open question, the address is
// masked to the prefix before being used as a key so that equal-prefix
// entries always collide on the same bucket.
type exactKey struct {
	family    Family
	prefixLen int
	addr      [16]byte
}

type trieNode struct {
	children [2]int32 // -1 = absent
	entry    *RouteEntry
}

const nilNode int32 = -1

// Table is the C8 routing engine: an exact-match hash for fast
// add/delete alongside a binary LPM trie (arena-indexed, no pointer
// nodes) per family for lookup, per Design Notes §9.
type Table struct {
	mu sync.Mutex

	maxEntries int
	count      int

	candidates map[exactKey][]RouteEntry

	v4nodes []trieNode
	v6nodes []trieNode
	v4root  int32
	v6root  int32

	hwSync        HwSyncBackend
	hwSyncEnabled bool
}

func New(maxEntries int) *Table {
	return &Table{
		maxEntries: maxEntries,
		candidates: make(map[exactKey][]RouteEntry),
		v4nodes:    []trieNode{{children: [2]int32{nilNode, nilNode}}},
		v6nodes:    []trieNode{{children: [2]int32{nilNode, nilNode}}},
		v4root:     0,
		v6root:     0,
	}
}

// SetHwSync enables or disables hardware mirroring; entries already in
// the table are not retroactively synced.
func (t *Table) SetHwSync(enabled bool, backend HwSyncBackend) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hwSyncEnabled = enabled
	t.hwSync = backend
}

func maskAddr(addr [16]byte, family Family, prefixLen int) [16]byte {
	var out [16]byte
	start, length := addrRange(family)
	full := prefixLen / 8
	rem := prefixLen % 8
	for i := 0; i < length; i++ {
		switch {
		case i < full:
			out[start+i] = addr[start+i]
		case i == full && rem > 0:
			mask := byte(0xFF << (8 - rem))
			out[start+i] = addr[start+i] & mask
		default:
			out[start+i] = 0
		}
	}
	return out
}

// addrRange returns the byte offset/length of the address within the
// 16-byte Addr field: IPv4 uses the last 4 bytes (net.IP's 4-in-16 form).
func addrRange(family Family) (start, length int) {
	if family == FamilyV4 {
		return 12, 4
	}
	return 0, 16
}

func bit(addr [16]byte, family Family, i int) int {
	start, _ := addrRange(family)
	byteIdx := start + i/8
	bitIdx := 7 - uint(i%8)
	return int((addr[byteIdx] >> bitIdx) & 1)
}

// Add implements spec.md §4.8's add(entry). Duplicate-destination
// resolution: the better entry (by admin distance, then metric, then
// older timestamp) becomes active; the loser is retained as an inactive
// candidate only when it shares the same RouteType as the winner,
// otherwise it is discarded entirely.
func (t *Table) Add(entry RouteEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, length := addrRange(entry.Prefix.Family)
	if entry.Prefix.PrefixLen < 0 || entry.Prefix.PrefixLen > length*8 {
		return &TableError{Op: "Add", Err: ErrInvalidPrefix}
	}
	entry.Prefix.Addr = maskAddr(entry.Prefix.Addr, entry.Prefix.Family, entry.Prefix.PrefixLen)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	key := exactKey{family: entry.Prefix.Family, prefixLen: entry.Prefix.PrefixLen, addr: entry.Prefix.Addr}
	cands, exists := t.candidates[key]
	if !exists && t.count >= t.maxEntries {
		return &TableError{Op: "Add", Err: ErrTableFull}
	}

	if !exists {
		entry.Active = true
		t.candidates[key] = []RouteEntry{entry}
		t.insertTrie(entry)
		t.count++
		t.syncLocked(HwOpAdd, entry)
		return nil
	}

	activeIdx := activeIndex(cands)
	active := cands[activeIdx]
	if better(entry, active) {
		entry.Active = true
		t.removeTrie(active)
		t.insertTrie(entry)
		if active.Type == entry.Type {
			cands[activeIdx].Active = false
			cands = append(cands, entry)
		} else {
			cands = []RouteEntry{entry}
		}
		t.syncLocked(HwOpUpdate, entry)
	} else if active.Type == entry.Type {
		entry.Active = false
		cands = append(cands, entry)
	}
	t.candidates[key] = cands
	return nil
}

func activeIndex(cands []RouteEntry) int {
	for i, c := range cands {
		if c.Active {
			return i
		}
	}
	return 0
}

// Delete implements spec.md §4.8's delete(prefix, prefix_len, family).
func (t *Table) Delete(family Family, addr [16]byte, prefixLen int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr = maskAddr(addr, family, prefixLen)
	key := exactKey{family: family, prefixLen: prefixLen, addr: addr}
	cands, ok := t.candidates[key]
	if !ok {
		return &TableError{Op: "Delete", Err: ErrRouteNotFound}
	}
	active := cands[activeIndex(cands)]
	t.removeTrie(active)
	delete(t.candidates, key)
	t.count--
	t.syncLocked(HwOpRemove, active)
	return nil
}

// Lookup implements spec.md §4.8's lookup(addr, family): a trie walk
// returning the entry with the longest matching prefix among active
// entries.
func (t *Table) Lookup(family Family, addr [16]byte) (RouteEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nodes, root := t.nodesFor(family)
	_, length := addrRange(family)

	var best *RouteEntry
	idx := root
	for i := 0; i < length*8; i++ {
		if idx == nilNode {
			break
		}
		n := &nodes[idx]
		if n.entry != nil {
			best = n.entry
		}
		idx = n.children[bit(addr, family, i)]
	}
	if idx != nilNode && nodes[idx].entry != nil {
		best = nodes[idx].entry
	}
	if best == nil {
		return RouteEntry{}, false
	}
	return *best, true
}

// GetAllRoutes implements spec.md §4.8's get_all_routes(max, &out).
func (t *Table) GetAllRoutes(max int) []RouteEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []RouteEntry
	for _, cands := range t.candidates {
		out = append(out, cands[activeIndex(cands)])
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

func (t *Table) nodesFor(family Family) ([]trieNode, int32) {
	if family == FamilyV4 {
		return t.v4nodes, t.v4root
	}
	return t.v6nodes, t.v6root
}

func (t *Table) insertTrie(entry RouteEntry) {
	nodes, root := t.trieStorage(entry.Prefix.Family)
	idx := root
	for i := 0; i < entry.Prefix.PrefixLen; i++ {
		b := bit(entry.Prefix.Addr, entry.Prefix.Family, i)
		child := (*nodes)[idx].children[b]
		if child == nilNode {
			*nodes = append(*nodes, trieNode{children: [2]int32{nilNode, nilNode}})
			child = int32(len(*nodes) - 1)
			(*nodes)[idx].children[b] = child
		}
		idx = child
	}
	e := entry
	(*nodes)[idx].entry = &e
}

func (t *Table) removeTrie(entry RouteEntry) {
	nodes, root := t.trieStorage(entry.Prefix.Family)
	idx := root
	for i := 0; i < entry.Prefix.PrefixLen; i++ {
		if idx == nilNode {
			return
		}
		b := bit(entry.Prefix.Addr, entry.Prefix.Family, i)
		idx = (*nodes)[idx].children[b]
	}
	if idx != nilNode {
		(*nodes)[idx].entry = nil
	}
}

func (t *Table) trieStorage(family Family) (*[]trieNode, int32) {
	if family == FamilyV4 {
		return &t.v4nodes, t.v4root
	}
	return &t.v6nodes, t.v6root
}

func (t *Table) syncLocked(kind HwOpKind, entry RouteEntry) {
	if !t.hwSyncEnabled || t.hwSync == nil {
		return
	}
	if err := t.hwSync.Sync(HwOp{Kind: kind, Entry: entry}); err != nil {
		corelog.For("routing").WithError(err).Warn("hw sync failed")
	}
}

func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
