// Package fiber defines what fiberstate needs from a host scheduler and
// provides Thread, a small cooperative scheduler that satisfies it.
//
// A host only has to offer two things: the unit that is running now, with
// named storage that survives switches, and a notification each time another
// unit starts running. Thread supplies both on top of goroutines that run one
// at a time, handing a baton back and forth through channels.
package fiber
