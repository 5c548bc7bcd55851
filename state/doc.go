// Package state implements the fixed-layout key-value table that fibers
// publish to external observers.
//
// A table maps interned identifiers (Key) to managed references (gc.Ref). It
// is an open-addressed hash table with linear probing at up to 100% load:
//
//   - capacity is a power of two, fixed at construction
//   - the home slot of a key is key & (capacity-1)
//   - probing continues at (home+i) & (capacity-1)
//   - an empty slot (key 0) ends a probe chain, because nothing is ever deleted
//
// Tables are small, so a worst-case probe is no slower than a linear scan,
// and the common case starts at or next to the right slot. Tables are never
// resized or mutated after construction; Heap.Derive builds a new table
// instead. Tombstones or in-place growth would break the "empty slot ends the
// chain" rule external readers depend on.
//
// Table memory comes from an Allocator that never moves blocks, so the value
// of State.Addr is stable for the table's lifetime. The layout is described
// next to HeaderSize.
//
// State implements gc.Object so the host collector can mark and relocate the
// stored values and release the table when it becomes unreachable.
package state
