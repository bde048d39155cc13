// Package pipeline implements the processor pipeline (C3): an ordered
// chain of packet processors invoked against a snapshot of the registered
// set, with bounded recirculation. Grounded on pkg/plugin/manager.go's
// handle-based register/unregister and pkg/packet/processor.go's
// sequential per-packet processing.
//
// Design Notes §9 calls out two patterns to re-architect versus a typical
// C implementation: recirculation depth must be threaded as a parameter
// rather than stored in thread-local storage, and callback handles must be
// a slot table with generation counters so a stale handle from a reused
// slot is detectable -- both are implemented here.
package pipeline

import (
	"sort"
	"sync"

	"github.com/nexswitch/vswitch/pkg/corelog"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

// Verdict is the processor return code from spec.md §4.3.
type Verdict int

const (
	Forward Verdict = iota
	Drop
	Consume
	Recirculate
)

// MaxRecirculation bounds Recirculate loops per spec.md §4.3.
const MaxRecirculation = 16

// Callback is a registered processor function. depth is the current
// recirculation depth, passed explicitly instead of via goroutine-local
// storage (Design Notes §9).
type Callback func(pkt *packetbuf.Buffer, userData any, depth int) Verdict

// Handle identifies a registered processor. Generation detects reuse of a
// slot index after Unregister.
type Handle struct {
	slot int
	gen  uint64
}

type slot struct {
	occupied bool
	gen      uint64
	priority uint32
	seq      uint64 // insertion order, for stable ties
	callback Callback
	userData any
	active   bool
}

// Pipeline is the registered processor chain.
type Pipeline struct {
	mu       sync.Mutex
	slots    []slot
	freeList []int
	nextSeq  uint64
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Register adds a processor at the given priority (lower runs first);
// ties are broken by registration order, matching spec.md §4.3.
func (p *Pipeline) Register(priority uint32, cb Callback, userData any) (Handle, error) {
	if cb == nil {
		return Handle{}, &PipelineError{Op: "Register", Err: ErrNilCallback}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var idx int
	if n := len(p.freeList); n > 0 {
		idx = p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.slots[idx].gen++
	} else {
		idx = len(p.slots)
		p.slots = append(p.slots, slot{})
	}

	p.nextSeq++
	p.slots[idx] = slot{
		occupied: true,
		gen:      p.slots[idx].gen,
		priority: priority,
		seq:      p.nextSeq,
		callback: cb,
		userData: userData,
		active:   true,
	}
	return Handle{slot: idx, gen: p.slots[idx].gen}, nil
}

// Unregister removes a processor. The slot is recycled for a future
// Register call but its generation is bumped so old handles become stale.
func (p *Pipeline) Unregister(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.slot < 0 || h.slot >= len(p.slots) {
		return &PipelineError{Op: "Unregister", Err: ErrInvalidHandle}
	}
	s := &p.slots[h.slot]
	if !s.occupied || s.gen != h.gen {
		return &PipelineError{Op: "Unregister", Err: ErrInvalidHandle}
	}
	*s = slot{gen: s.gen}
	p.freeList = append(p.freeList, h.slot)
	return nil
}

// SetActive toggles a processor without unregistering it.
func (p *Pipeline) SetActive(h Handle, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.slot < 0 || h.slot >= len(p.slots) {
		return &PipelineError{Op: "SetActive", Err: ErrInvalidHandle}
	}
	s := &p.slots[h.slot]
	if !s.occupied || s.gen != h.gen {
		return &PipelineError{Op: "SetActive", Err: ErrInvalidHandle}
	}
	s.active = active
	return nil
}

// snapshot copies the currently active, priority-sorted processor list.
// Per spec.md §4.3: "registrations during traversal take effect only on
// subsequent packets" -- by copying here under the lock and then releasing
// it before invoking callbacks, traversal never holds the registration
// mutex (spec.md §5's lock-free-relative-to-registration requirement).
func (p *Pipeline) snapshot() []slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]slot, 0, len(p.slots))
	for _, s := range p.slots {
		if s.occupied && s.active {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Process runs pkt through the pipeline once, recirculating as requested
// by processors up to MaxRecirculation times.
func (p *Pipeline) Process(pkt *packetbuf.Buffer) Verdict {
	return p.processAt(pkt, 0)
}

func (p *Pipeline) processAt(pkt *packetbuf.Buffer, depth int) Verdict {
	if depth > MaxRecirculation {
		corelog.For("pipeline").WithField("depth", depth).Error("recirculation depth limit exceeded, dropping packet")
		return Drop
	}
	list := p.snapshot()
	for _, s := range list {
		switch s.callback(pkt, s.userData, depth) {
		case Drop:
			return Drop
		case Consume:
			return Consume
		case Recirculate:
			return p.processAt(pkt, depth+1)
		case Forward:
			continue
		}
	}
	return Forward
}

// Len reports the number of occupied slots (active or not); useful for
// tests and /stats reporting.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.occupied {
			n++
		}
	}
	return n
}
