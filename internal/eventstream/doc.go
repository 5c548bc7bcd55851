// Package eventstream polls synchronizer cells and turns each read into a
// Sample.
//
// A poll lists the cells (from a descriptor or a pinned BPF map), reads every
// cell and, when it is non-zero, the table it names. Threads that vanish from
// the cell source are reported once with Withdrawn set so downstream state can
// be released.
package eventstream
