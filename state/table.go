package state

import "github.com/mrzor/fiberstate/gc"

// find returns the slot holding key, or nil.
func (s *State) find(key Key) *Pair {
	if key == 0 || s.hdr == nil || s.hdr.capacity == 0 {
		return nil
	}

	capacity := s.hdr.capacity
	mask := capacity - 1
	idx := uint64(key) & mask

	for i := uint64(0); i < capacity; i++ {
		p := &s.pairs[(idx+i)&mask]
		if p.Key == key {
			return p
		}
		if p.Key == 0 {
			// No deletions, so an empty slot ends the chain.
			return nil
		}
	}

	return nil
}

// insert stores value under key, overwriting an existing entry. Only valid
// while the table is being built, before its address escapes.
func (s *State) insert(key Key, value gc.Ref) error {
	if key == 0 {
		return ErrInvalidKey
	}

	capacity := s.hdr.capacity
	mask := capacity - 1
	idx := uint64(key) & mask

	for i := uint64(0); i < capacity; i++ {
		p := &s.pairs[(idx+i)&mask]
		if p.Key == key {
			p.Value = value
			return nil
		}
		if p.Key == 0 {
			if s.hdr.size >= capacity {
				return ErrCapacityExceeded
			}
			p.Key = key
			p.Value = value
			s.hdr.size++
			return nil
		}
	}

	return ErrCapacityExceeded
}
