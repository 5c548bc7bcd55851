package fiber

import "sync"

// Unit is a cooperatively scheduled unit of execution with storage that the
// scheduler preserves across switches.
type Unit interface {
	ID() uint64
	Get(name string) (any, bool)
	Set(name string, value any)
}

// Scheduler exposes the running unit and unit-switch notifications.
type Scheduler interface {
	// Current returns the unit running now.
	Current() Unit

	// OnSwitch registers fn to be called, on the scheduling goroutine, every
	// time a unit is switched to. The returned function unregisters it.
	OnSwitch(fn func(Unit)) (cancel func())
}

// storage is a unit's named slot table.
type storage struct {
	mu     sync.Mutex
	values map[string]any
}

func (s *storage) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *storage) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	if value == nil {
		delete(s.values, name)
		return
	}
	s.values[name] = value
}
