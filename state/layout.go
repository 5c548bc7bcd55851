package state

import (
	"math/bits"
	"unsafe"

	"github.com/mrzor/fiberstate/gc"
)

// Memory layout read by external observers. This is a public contract:
// fields must not be reordered, resized or reinterpreted without bumping
// ABIVersion.
//
//	offset  0  size      uint64  number of occupied slots
//	offset  8  capacity  uint64  total slots, always a power of two
//	offset 16  pairs     [capacity]Pair
//
// A slot is empty when its key is 0. Lookups start at key & (capacity-1) and
// probe forward with wraparound; an empty slot ends the probe chain.
const (
	ABIVersion = 1
	HeaderSize = 16
	PairSize   = 16

	// MaxCapacity bounds table size so readers can reject garbage headers.
	MaxCapacity = 1 << 20
)

// Key is an interned identifier. Zero is never a valid identifier and marks
// an empty slot.
type Key uint64

// Pair is one slot of a table.
type Pair struct {
	Key   Key
	Value gc.Ref
}

type header struct {
	size     uint64
	capacity uint64
}

// Compile-time layout checks.
var (
	_ [HeaderSize]byte = [unsafe.Sizeof(header{})]byte{}
	_ [PairSize]byte   = [unsafe.Sizeof(Pair{})]byte{}
	_ [8]byte          = [unsafe.Offsetof(header{}.capacity)]byte{}
	_ [8]byte          = [unsafe.Offsetof(Pair{}.Value)]byte{}
)

// NextPowerOfTwo returns the table capacity needed to hold n pairs.
// Zero pairs still get one slot.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// BlockSize returns the number of bytes a table of the given capacity occupies.
func BlockSize(capacity int) int {
	return HeaderSize + capacity*PairSize
}
