package output

import (
	"fmt"
	"strconv"

	"github.com/mrzor/fiberstate/gc"
	"github.com/mrzor/fiberstate/managed"
	"github.com/mrzor/fiberstate/state"
)

// Renderer turns observed pairs into strings using the writer's symbol table.
type Renderer struct {
	symbols map[uint32]string
}

// NewRenderer creates a renderer over a symbol id -> name table.
func NewRenderer(symbols map[uint32]string) *Renderer {
	if symbols == nil {
		symbols = map[uint32]string{}
	}
	return &Renderer{symbols: symbols}
}

// Key returns the symbol name of a key, or its id when the name is unknown.
func (r *Renderer) Key(k state.Key) string {
	//nolint:gosec // Keys are interned symbol ids
	if name, ok := r.symbols[uint32(k)]; ok {
		return name
	}
	return "#" + strconv.FormatUint(uint64(k), 10)
}

// Value renders a managed reference.
func (r *Renderer) Value(v gc.Ref) string {
	switch managed.KindOf(v) {
	case managed.KindNil:
		return "nil"
	case managed.KindInt:
		return strconv.FormatInt(managed.IntValue(v), 10)
	case managed.KindSymbol:
		id := managed.SymbolID(v)
		if name, ok := r.symbols[id]; ok {
			return ":" + name
		}
		return fmt.Sprintf(":#%d", id)
	default:
		return fmt.Sprintf("#<ref %#x>", uint64(v))
	}
}

// Render returns the pairs keyed by symbol name.
func (r *Renderer) Render(pairs []state.Pair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[r.Key(p.Key)] = r.Value(p.Value)
	}
	return out
}
