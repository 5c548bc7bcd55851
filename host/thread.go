package host

import (
	"github.com/mrzor/fiberstate/fiber"
	"github.com/mrzor/fiberstate/gc"
	"github.com/mrzor/fiberstate/managed"
	"github.com/mrzor/fiberstate/publish"
)

// Thread is a fiber thread whose current state is published by its own
// synchronizer.
type Thread struct {
	*fiber.Thread

	rt   *Runtime
	sync *publish.Synchronizer
}

// Synchronizer returns the thread's synchronizer.
func (t *Thread) Synchronizer() *publish.Synchronizer {
	return t.sync
}

// Apply makes the state ref names current for the running fiber and returns
// ref. Nil clears the fiber's binding.
func (t *Thread) Apply(ref gc.Ref) (gc.Ref, error) {
	if ref == managed.Nil {
		return ref, t.sync.Apply(nil, nil)
	}

	st, err := t.rt.State(ref)
	if err != nil {
		return managed.Nil, err
	}
	if err := t.sync.Apply(st, ref); err != nil {
		return managed.Nil, err
	}
	return ref, nil
}

// CurrentState returns the state reference bound to the running fiber, or Nil.
func (t *Thread) CurrentState() gc.Ref {
	v, ok := t.Thread.Current().Get(publish.BindingName)
	if !ok {
		return managed.Nil
	}
	ref, _ := v.(gc.Ref)
	return ref
}

// Close stops the fiber thread and releases the synchronizer's cell.
func (t *Thread) Close() {
	t.Thread.Close()
	t.sync.Close()

	t.rt.mu.Lock()
	delete(t.rt.threads, t.ID())
	t.rt.mu.Unlock()
}
