// Package reader reads published states from outside the writing goroutines,
// usually from another process.
//
// A reader needs only the address of a thread's current cell. Loading the
// cell gives 0 or the address of a table; the table is a 16-byte header
// {size, capacity} followed by capacity 16-byte {key, value} slots, all
// native-endian 64-bit words. Because the writer may free a table right after
// the cell is read, every table is validated before it is trusted.
package reader
