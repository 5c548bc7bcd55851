package managed

import (
	"fmt"

	"github.com/mrzor/fiberstate/gc"
)

// Tag layout of a reference word:
//
//	...xxxxx1  fixnum, value in the upper 63 bits
//	...xxx10   symbol, id in the upper 62 bits
//	...xxx00   heap object, slot+1 in the upper 62 bits (0 is Nil)
const (
	fixnumTag  = 0b1
	symbolTag  = 0b10
	tagMask    = 0b11
	fixnumBits = 1
	symbolBits = 2
)

// Nil is the empty reference.
const Nil gc.Ref = 0

// Kind classifies a reference.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindSymbol
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindInt:
		return "integer"
	case KindSymbol:
		return "symbol"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KindOf returns the kind of r.
func KindOf(r gc.Ref) Kind {
	switch {
	case r == Nil:
		return KindNil
	case r&fixnumTag != 0:
		return KindInt
	case r&tagMask == symbolTag:
		return KindSymbol
	default:
		return KindObject
	}
}

// Int encodes n as an immediate reference.
func Int(n int64) gc.Ref {
	return gc.Ref(uint64(n)<<fixnumBits | fixnumTag)
}

// IsInt reports whether r is an immediate integer.
func IsInt(r gc.Ref) bool {
	return r&fixnumTag != 0
}

// IntValue decodes an immediate integer. The result is meaningless unless
// IsInt(r).
func IntValue(r gc.Ref) int64 {
	return int64(r) >> fixnumBits
}

// Symbol encodes a symbol id as an immediate reference.
func Symbol(id uint32) gc.Ref {
	return gc.Ref(uint64(id)<<symbolBits | symbolTag)
}

// IsSymbol reports whether r is a symbol.
func IsSymbol(r gc.Ref) bool {
	return r&tagMask == symbolTag
}

// SymbolID decodes a symbol reference.
func SymbolID(r gc.Ref) uint32 {
	return uint32(r >> symbolBits)
}

// IsObject reports whether r refers to a heap object.
func IsObject(r gc.Ref) bool {
	return r != Nil && r&tagMask == 0
}

func objectRef(slot int) gc.Ref {
	return gc.Ref(uint64(slot+1) << symbolBits)
}

func slotOf(r gc.Ref) int {
	return int(r>>symbolBits) - 1
}
