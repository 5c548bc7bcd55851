package state

import "errors"

var (
	// ErrInvalidKey is returned when a key is not an interned identifier.
	ErrInvalidKey = errors.New("invalid state key")

	// ErrCapacityExceeded is returned when an insertion cannot find a slot.
	// Capacity is sized so this cannot happen; the check guards the layout
	// external readers walk.
	ErrCapacityExceeded = errors.New("state capacity exceeded")

	// ErrAllocationFailure is returned when backing memory cannot be obtained.
	ErrAllocationFailure = errors.New("failed to allocate state")

	// ErrDoubleConstruction is returned by Init on a state that was already
	// constructed.
	ErrDoubleConstruction = errors.New("state already initialized")
)
