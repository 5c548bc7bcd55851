package managed

import (
	"fmt"
	"sync"
	"time"

	"github.com/mrzor/fiberstate/gc"
	"go.uber.org/zap"
)

// Stats describes one collection.
type Stats struct {
	Live     int
	Freed    int
	Moved    int
	External uintptr // bytes reported by live gc.Sizer objects
	Duration time.Duration
	Time     time.Time
}

// Heap is a moving mark-sweep-compact heap of Go values addressed by
// reference words. Every collection slides survivors toward slot 0, so
// object references change; holders learn the new values through
// gc.RootSet, pins, and gc.Object.Compact.
type Heap struct {
	mu     sync.Mutex
	slots  []any
	roots  []gc.RootSet
	pins   map[*gc.Ref]int
	last   Stats
	logger *zap.Logger
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		pins:   make(map[*gc.Ref]int),
		logger: Logger(),
	}
}

// Alloc stores v and returns a reference to it.
func (h *Heap) Alloc(v any) gc.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.slots = append(h.slots, v)
	return objectRef(len(h.slots) - 1)
}

// Get returns the object r refers to.
func (h *Heap) Get(r gc.Ref) (any, bool) {
	if !IsObject(r) {
		return nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	slot := slotOf(r)
	if slot >= len(h.slots) {
		return nil, false
	}
	return h.slots[slot], true
}

// Len returns the number of objects on the heap, live or not yet collected.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.slots)
}

// AddRoots registers a root set scanned by every collection.
func (h *Heap) AddRoots(rs gc.RootSet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = append(h.roots, rs)
}

// Pin makes *r a root until Unpin. The collector rewrites *r when its
// referent moves. Pins nest.
func (h *Heap) Pin(r *gc.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pins[r]++
}

// Unpin releases one Pin of r.
func (h *Heap) Unpin(r *gc.Ref) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pins[r] <= 1 {
		delete(h.pins, r)
		return
	}
	h.pins[r]--
}

// LastStats returns the statistics of the most recent collection.
func (h *Heap) LastStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Collect runs a full collection: mark from roots and pins, finalize the
// unreachable, slide survivors down, then rewrite every holder.
func (h *Heap) Collect() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()

	m := &marker{heap: h, marked: make([]bool, len(h.slots))}
	for _, rs := range h.roots {
		rs.VisitRoots(func(r gc.Ref) gc.Ref {
			m.MarkMovable(r)
			return r
		})
	}
	for p := range h.pins {
		m.MarkMovable(*p)
	}
	m.drain()

	stats := Stats{Time: start}
	for slot, v := range h.slots {
		if m.marked[slot] {
			continue
		}
		if obj, ok := v.(gc.Object); ok {
			obj.Finalize()
		}
		stats.Freed++
	}

	reloc := relocator{forward: make([]int, len(h.slots))}
	live := h.slots[:0]
	for slot, v := range h.slots {
		if !m.marked[slot] {
			reloc.forward[slot] = -1
			continue
		}
		reloc.forward[slot] = len(live)
		if len(live) != slot {
			stats.Moved++
		}
		live = append(live, v)
	}
	clear(h.slots[len(live):])
	h.slots = live

	for _, rs := range h.roots {
		rs.VisitRoots(reloc.Location)
	}
	for p := range h.pins {
		*p = reloc.Location(*p)
	}
	for _, v := range h.slots {
		if obj, ok := v.(gc.Object); ok {
			obj.Compact(reloc)
		}
		if sz, ok := v.(gc.Sizer); ok {
			stats.External += sz.MemSize()
		}
	}

	stats.Live = len(h.slots)
	stats.Duration = time.Since(start)
	h.last = stats

	h.logger.Debug("Collection finished",
		zap.Int("live", stats.Live),
		zap.Int("freed", stats.Freed),
		zap.Int("moved", stats.Moved),
		zap.Uintptr("external_bytes", stats.External),
		zap.Duration("duration", stats.Duration))

	return stats
}

type marker struct {
	heap   *Heap
	marked []bool
	work   []int
}

func (m *marker) MarkMovable(r gc.Ref) {
	if !IsObject(r) {
		return
	}
	slot := slotOf(r)
	if slot >= len(m.marked) || m.marked[slot] {
		return
	}
	m.marked[slot] = true
	m.work = append(m.work, slot)
}

func (m *marker) drain() {
	for len(m.work) > 0 {
		slot := m.work[len(m.work)-1]
		m.work = m.work[:len(m.work)-1]
		if obj, ok := m.heap.slots[slot].(gc.Object); ok {
			obj.Mark(m)
		}
	}
}

type relocator struct {
	forward []int
}

func (r relocator) Location(ref gc.Ref) gc.Ref {
	if !IsObject(ref) {
		return ref
	}
	slot := slotOf(ref)
	if slot >= len(r.forward) || r.forward[slot] < 0 {
		return ref
	}
	return objectRef(r.forward[slot])
}

// Describe renders r for logs and error messages.
func (h *Heap) Describe(r gc.Ref) string {
	switch KindOf(r) {
	case KindNil:
		return "nil"
	case KindInt:
		return fmt.Sprintf("%d", IntValue(r))
	case KindSymbol:
		return fmt.Sprintf("symbol#%d", SymbolID(r))
	default:
		v, ok := h.Get(r)
		if !ok {
			return fmt.Sprintf("#<dangling %#x>", uint64(r))
		}
		return fmt.Sprintf("#<%T %#x>", v, uint64(r))
	}
}
