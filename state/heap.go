package state

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Allocator provides memory that never moves for table blocks.
// *arena.Arena satisfies it.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)
}

// ReleaseWatcher is told the address of every table about to be freed, while
// its memory is still valid.
type ReleaseWatcher interface {
	Released(addr uintptr)
}

// Heap creates states backed by a single Allocator and notifies watchers
// before any table memory is released.
type Heap struct {
	alloc Allocator

	mu       sync.RWMutex
	watchers map[int]ReleaseWatcher
	nextID   int

	live atomic.Int64
}

// NewHeap creates a Heap allocating from alloc.
func NewHeap(alloc Allocator) *Heap {
	return &Heap{
		alloc:    alloc,
		watchers: make(map[int]ReleaseWatcher),
	}
}

// Allocator returns the heap's allocator.
func (h *Heap) Allocator() Allocator {
	return h.alloc
}

// Watch registers w for release notifications. The returned function
// removes the registration.
func (h *Heap) Watch(w ReleaseWatcher) (unwatch func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.watchers[id] = w

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.watchers, id)
	}
}

// Live returns the number of tables currently holding backing memory.
func (h *Heap) Live() int {
	return int(h.live.Load())
}

// New returns an Uninitialized state bound to this heap.
func (h *Heap) New() *State {
	return &State{heap: h}
}

// Construct builds a Ready state holding pairs.
func (h *Heap) Construct(pairs ...Pair) (*State, error) {
	s := h.New()
	if err := s.Init(pairs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Derive returns a new state holding base's pairs overridden and extended by
// updates. base is never modified. With no updates base itself is returned.
// A nil or Uninitialized base is treated as empty.
func (h *Heap) Derive(base *State, updates ...Pair) (*State, error) {
	if len(updates) == 0 {
		return base, nil
	}

	if err := validateKeys(updates); err != nil {
		return nil, err
	}

	newCount := 0
	for i, u := range updates {
		if _, ok := base.Lookup(u.Key); ok {
			continue
		}
		if containsKey(updates[:i], u.Key) {
			continue
		}
		newCount++
	}

	s := h.New()
	if err := s.allocate(NextPowerOfTwo(base.Size() + newCount)); err != nil {
		return nil, err
	}

	for k, v := range base.All() {
		if err := s.insert(k, v); err != nil {
			s.release(phaseUninitialized)
			return nil, fmt.Errorf("copying key %d from base: %w", k, err)
		}
	}

	for _, u := range updates {
		if err := s.insert(u.Key, u.Value); err != nil {
			s.release(phaseUninitialized)
			return nil, fmt.Errorf("applying update for key %d: %w", u.Key, err)
		}
	}

	return s, nil
}

// notifyReleased tells every watcher that addr is about to be freed.
func (h *Heap) notifyReleased(addr uintptr) {
	h.mu.RLock()
	watchers := make([]ReleaseWatcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		watchers = append(watchers, w)
	}
	h.mu.RUnlock()

	for _, w := range watchers {
		w.Released(addr)
	}
}

func containsKey(pairs []Pair, key Key) bool {
	for _, p := range pairs {
		if p.Key == key {
			return true
		}
	}
	return false
}
