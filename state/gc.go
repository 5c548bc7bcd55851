package state

import (
	"unsafe"

	"github.com/mrzor/fiberstate/gc"
)

var (
	_ gc.Object = (*State)(nil)
	_ gc.Sizer  = (*State)(nil)
)

// Mark reports every stored value as reachable. Keys are plain integers and
// are not reported.
func (s *State) Mark(m gc.Marker) {
	if !s.Ready() {
		return
	}
	for i := range s.pairs {
		if s.pairs[i].Key != 0 {
			m.MarkMovable(s.pairs[i].Value)
		}
	}
}

// Compact rewrites every stored value with its post-move location.
func (s *State) Compact(r gc.Relocator) {
	if !s.Ready() {
		return
	}
	for i := range s.pairs {
		if s.pairs[i].Key != 0 {
			s.pairs[i].Value = r.Location(s.pairs[i].Value)
		}
	}
}

// Finalize releases the table. Watchers are notified first so that no
// published current pointer is left referring to freed memory.
func (s *State) Finalize() {
	if !s.Ready() {
		return
	}
	s.heap.notifyReleased(s.Addr())
	s.release(phaseFinalized)
}

// MemSize returns the bytes held by the state, including its table.
func (s *State) MemSize() uintptr {
	if !s.Ready() {
		return 0
	}
	return unsafe.Sizeof(*s) + uintptr(BlockSize(int(s.hdr.capacity)))
}
