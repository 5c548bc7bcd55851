package state

import (
	"fmt"
	"iter"
	"unsafe"

	"github.com/mrzor/fiberstate/gc"
)

type phase uint8

const (
	phaseUninitialized phase = iota
	phaseReady
	phaseFinalized
)

func (p phase) String() string {
	switch p {
	case phaseUninitialized:
		return "uninitialized"
	case phaseReady:
		return "ready"
	case phaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// State is an immutable key-value table stored in memory that never moves.
//
// A State starts Uninitialized (no backing memory, size 0, every lookup
// absent). Init sizes and fills it exactly once; afterwards its keys and
// values only change through the collector's Compact callback. Use
// Heap.Derive to get a modified copy.
//
// Methods that only read are safe on a nil *State.
type State struct {
	heap  *Heap
	phase phase
	block []byte
	hdr   *header
	pairs []Pair
}

// Init constructs the table from pairs. Capacity is the next power of two of
// len(pairs). Later duplicates of a key overwrite earlier ones.
//
// Init fails with ErrDoubleConstruction if the state was already constructed.
// On any failure the state is left Uninitialized.
func (s *State) Init(pairs ...Pair) error {
	if s.phase != phaseUninitialized {
		return fmt.Errorf("init on %s state: %w", s.phase, ErrDoubleConstruction)
	}

	if err := validateKeys(pairs); err != nil {
		return err
	}

	if err := s.allocate(NextPowerOfTwo(len(pairs))); err != nil {
		return err
	}

	for _, p := range pairs {
		if err := s.insert(p.Key, p.Value); err != nil {
			s.release(phaseUninitialized)
			return fmt.Errorf("inserting key %d into %d slots: %w", p.Key, len(s.pairs), err)
		}
	}

	return nil
}

// Ready reports whether the state has been constructed and not finalized.
func (s *State) Ready() bool {
	return s != nil && s.phase == phaseReady
}

// Size returns the number of pairs. Uninitialized states have size 0.
func (s *State) Size() int {
	if !s.Ready() {
		return 0
	}
	return int(s.hdr.size)
}

// Capacity returns the number of slots.
func (s *State) Capacity() int {
	if !s.Ready() {
		return 0
	}
	return int(s.hdr.capacity)
}

// Addr returns the address external readers use to find the table, or 0 if
// the state has no backing memory.
func (s *State) Addr() uintptr {
	if !s.Ready() {
		return 0
	}
	//nolint:gosec // Address of off-heap memory published to external readers
	return uintptr(unsafe.Pointer(s.hdr))
}

// Lookup returns the value stored under key.
func (s *State) Lookup(key Key) (gc.Ref, bool) {
	if !s.Ready() {
		return 0, false
	}
	p := s.find(key)
	if p == nil {
		return 0, false
	}
	return p.Value, true
}

// All yields every pair in slot order. The order follows hash buckets and
// differs between tables of different capacity.
func (s *State) All() iter.Seq2[Key, gc.Ref] {
	return func(yield func(Key, gc.Ref) bool) {
		if !s.Ready() {
			return
		}
		for i := range s.pairs {
			p := s.pairs[i]
			if p.Key == 0 {
				continue
			}
			if !yield(p.Key, p.Value) {
				return
			}
		}
	}
}

// Pairs returns a copy of every pair in slot order.
func (s *State) Pairs() []Pair {
	out := make([]Pair, 0, s.Size())
	for k, v := range s.All() {
		out = append(out, Pair{Key: k, Value: v})
	}
	return out
}

func (s *State) String() string {
	if !s.Ready() {
		if s == nil {
			return "State(nil)"
		}
		return fmt.Sprintf("State(%s)", s.phase)
	}
	return fmt.Sprintf("State(%#x size=%d capacity=%d)", s.Addr(), s.hdr.size, s.hdr.capacity)
}

// allocate obtains zeroed backing memory for capacity slots and moves the
// state to Ready.
func (s *State) allocate(capacity int) error {
	if capacity > MaxCapacity {
		return fmt.Errorf("table of %d slots exceeds maximum of %d: %w", capacity, MaxCapacity, ErrCapacityExceeded)
	}

	block, err := s.heap.alloc.Alloc(BlockSize(capacity))
	if err != nil {
		return fmt.Errorf("%w with %d slots: %w", ErrAllocationFailure, capacity, err)
	}

	//nolint:gosec // Block is off-heap, 16-byte aligned and sized for the layout
	s.hdr = (*header)(unsafe.Pointer(unsafe.SliceData(block)))
	s.hdr.size = 0
	s.hdr.capacity = uint64(capacity)
	//nolint:gosec // Pairs follow the header inside the same block
	s.pairs = unsafe.Slice((*Pair)(unsafe.Pointer(&block[HeaderSize])), capacity)
	s.block = block
	s.phase = phaseReady
	s.heap.live.Add(1)
	return nil
}

// release frees the backing memory and moves the state to next.
func (s *State) release(next phase) {
	if s.block != nil {
		s.heap.alloc.Free(s.block)
		s.heap.live.Add(-1)
	}
	s.block = nil
	s.hdr = nil
	s.pairs = nil
	s.phase = next
}

func validateKeys(pairs []Pair) error {
	for i, p := range pairs {
		if p.Key == 0 {
			return fmt.Errorf("pair %d: key 0 is not an interned identifier: %w", i, ErrInvalidKey)
		}
	}
	return nil
}
