// Package publish keeps a per-thread cell pointing at the state table bound
// to whichever fiber is running.
//
// Each scheduler thread gets one Synchronizer. The Synchronizer owns an
// 8-byte cell in stable memory; an external reader that knows the cell
// address can load it at any moment and get either 0 or the address of a
// live table. The cell is updated on every fiber switch from the incoming
// fiber's binding, and cleared when the table it names is finalized.
package publish
