// Package gc defines the contract between fiberstate and the host's moving,
// tracing garbage collector.
//
// The collector owns reference encoding and decides when to call back. Objects
// that hold references on its behalf implement Object; holders living outside
// the collected heap (scheduler storage, registers) implement RootSet.
//
// Call order within one collection:
//
//	Mark      every reachable Object reports its references
//	Finalize  unreachable Objects release their backing memory
//	Compact   live Objects rewrite references the collector moved
//
// The collector has exclusive control of memory layout while any of these run.
package gc

// Ref is a managed reference word. Its encoding belongs to the host runtime.
type Ref uint64

// Marker receives references reported during the mark phase.
type Marker interface {
	// MarkMovable reports ref as reachable and allows the collector to move
	// its referent.
	MarkMovable(ref Ref)
}

// Relocator resolves references after the collector has moved objects.
type Relocator interface {
	// Location returns the current location of ref, or ref itself if the
	// referent did not move.
	Location(ref Ref) Ref
}

// Object is implemented by values that hold managed references outside the
// collector's own object model.
type Object interface {
	Mark(m Marker)
	Compact(r Relocator)
	Finalize()
}

// Sizer reports the memory held by an object outside the managed heap.
type Sizer interface {
	MemSize() uintptr
}

// RootSet is a holder of references that is not itself a heap object.
//
// VisitRoots calls visit for every held reference and stores the returned
// value back in place. During marking visit returns its argument unchanged;
// during relocation it returns the new location.
type RootSet interface {
	VisitRoots(visit func(Ref) Ref)
}
