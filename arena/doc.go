// Package arena provides stable, off-heap memory for data that an external
// process reads by address.
//
// Blocks come from anonymous mmap chunks rather than the Go heap, so their
// addresses are fixed for their whole lifetime and remain readable through
// /proc/<pid>/mem or process_vm_readv(2). Small blocks are carved from shared
// chunks using power-of-two size classes with per-class free lists; blocks
// larger than a chunk get a dedicated mapping that is unmapped on Free.
package arena
