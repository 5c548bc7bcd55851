package managed

import (
	"sync"

	"github.com/mrzor/fiberstate/gc"
)

// SymbolTable interns symbol names to ids. Ids start at 1; 0 never names a
// symbol.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]uint32
	byID   []string
}

// NewSymbolTable creates an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]uint32),
		byID:   make([]string, 1, 64),
	}
}

// Intern returns the id for name, assigning the next one if needed.
func (st *SymbolTable) Intern(name string) uint32 {
	st.mu.RLock()
	if id, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return id
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	if id, ok := st.byName[name]; ok {
		return id
	}

	id := uint32(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// Ref interns name and returns it as a symbol reference.
func (st *SymbolTable) Ref(name string) gc.Ref {
	return Symbol(st.Intern(name))
}

// Lookup returns the id of name without interning it.
func (st *SymbolTable) Lookup(name string) (uint32, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byName[name]
	return id, ok
}

// Name returns the name for id, or "" if id was never assigned.
func (st *SymbolTable) Name(id uint32) string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if id == 0 || int(id) >= len(st.byID) {
		return ""
	}
	return st.byID[id]
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID) - 1
}

// All returns every interned symbol keyed by id.
func (st *SymbolTable) All() map[uint32]string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make(map[uint32]string, len(st.byID)-1)
	for id, name := range st.byID[1:] {
		out[uint32(id+1)] = name
	}
	return out
}
