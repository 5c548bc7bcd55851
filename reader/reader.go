package reader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/mrzor/fiberstate/gc"
	"github.com/mrzor/fiberstate/state"
)

// ErrCorrupt is returned when a table does not satisfy the layout
// invariants. This happens when the cell was read just before the table was
// freed and its memory reused.
var ErrCorrupt = errors.New("corrupt state table")

// Snapshot is a copy of a table taken at one moment.
type Snapshot struct {
	Addr     uint64
	Size     int
	Capacity int

	slots []state.Pair
}

// Pairs returns the occupied slots in slot order.
func (s *Snapshot) Pairs() []state.Pair {
	out := make([]state.Pair, 0, s.Size)
	for _, p := range s.slots {
		if p.Key != 0 {
			out = append(out, p)
		}
	}
	return out
}

// Lookup probes the snapshot exactly as the writer does.
func (s *Snapshot) Lookup(key state.Key) (gc.Ref, bool) {
	if key == 0 || len(s.slots) == 0 {
		return 0, false
	}
	mask := uint64(len(s.slots) - 1)
	home := uint64(key) & mask
	for i := range uint64(len(s.slots)) {
		p := s.slots[(home+i)&mask]
		if p.Key == key {
			return p.Value, true
		}
		if p.Key == 0 {
			return 0, false
		}
	}
	return 0, false
}

// Reader decodes cells and tables from a Memory.
type Reader struct {
	mem Memory
}

// New creates a Reader over mem.
func New(mem Memory) *Reader {
	return &Reader{mem: mem}
}

// ReadCell returns the address stored in a synchronizer cell.
func (r *Reader) ReadCell(cell uint64) (uint64, error) {
	var buf [8]byte
	if err := r.mem.ReadAt(buf[:], cell); err != nil {
		return 0, fmt.Errorf("reading cell %#x: %w", cell, err)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// ReadCurrent reads the cell and the table it names. It returns nil with no
// error when no state is current.
func (r *Reader) ReadCurrent(cell uint64) (*Snapshot, error) {
	addr, err := r.ReadCell(cell)
	if err != nil {
		return nil, err
	}
	if addr == 0 {
		return nil, nil
	}
	return r.ReadState(addr)
}

// ReadState copies and validates the table at addr.
func (r *Reader) ReadState(addr uint64) (*Snapshot, error) {
	size, capacity, err := r.readHeader(addr)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, capacity*state.PairSize)
	if err := r.mem.ReadAt(buf, addr+state.HeaderSize); err != nil {
		return nil, fmt.Errorf("reading %d slots at %#x: %w", capacity, addr, err)
	}

	slots := make([]state.Pair, capacity)
	occupied := 0
	for i := range slots {
		off := i * state.PairSize
		slots[i] = state.Pair{
			Key:   state.Key(binary.NativeEndian.Uint64(buf[off:])),
			Value: gc.Ref(binary.NativeEndian.Uint64(buf[off+8:])),
		}
		if slots[i].Key != 0 {
			occupied++
		}
	}
	if occupied != size {
		return nil, fmt.Errorf("table %#x has %d occupied slots but size %d: %w", addr, occupied, size, ErrCorrupt)
	}

	// A header that changed while the slots were copied means the table was
	// freed and reused underneath us.
	size2, capacity2, err := r.readHeader(addr)
	if err != nil {
		return nil, err
	}
	if size2 != size || capacity2 != capacity {
		return nil, fmt.Errorf("table %#x changed while reading: %w", addr, ErrCorrupt)
	}

	return &Snapshot{Addr: addr, Size: size, Capacity: capacity, slots: slots}, nil
}

func (r *Reader) readHeader(addr uint64) (size, capacity int, err error) {
	var hdr [state.HeaderSize]byte
	if err := r.mem.ReadAt(hdr[:], addr); err != nil {
		return 0, 0, fmt.Errorf("reading header at %#x: %w", addr, err)
	}

	rawSize := binary.NativeEndian.Uint64(hdr[0:])
	rawCap := binary.NativeEndian.Uint64(hdr[8:])

	if rawCap == 0 || rawCap > state.MaxCapacity || bits.OnesCount64(rawCap) != 1 {
		return 0, 0, fmt.Errorf("table %#x has capacity %d: %w", addr, rawCap, ErrCorrupt)
	}
	if rawSize > rawCap {
		return 0, 0, fmt.Errorf("table %#x has size %d over capacity %d: %w", addr, rawSize, rawCap, ErrCorrupt)
	}
	return int(rawSize), int(rawCap), nil
}
