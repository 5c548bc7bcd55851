// Package managed is a small stand-in for a host language runtime: a
// reference encoding, a symbol table and a moving heap that drives the gc
// contract the same way a real tracing collector would.
//
// Integers and symbols are immediate; they are never marked and never move.
// Heap object references change on every collection that moves them.
package managed
