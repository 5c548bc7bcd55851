package publish

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/mrzor/fiberstate/fiber"
	"github.com/mrzor/fiberstate/state"
	"go.uber.org/zap"
)

// BindingName is the unit storage slot that holds a fiber's bound state.
const BindingName = "__fiberstate_binding"

// cellSize is the size of the published word.
const cellSize = 8

// ErrClosed is returned when applying through a closed Synchronizer.
var ErrClosed = errors.New("synchronizer closed")

// Resolver turns the value found in a unit's binding slot into a state.
// It returns nil when the value does not name a state.
type Resolver func(binding any) *state.State

// ResolveState is the default Resolver: the binding must be a *state.State.
func ResolveState(binding any) *state.State {
	st, _ := binding.(*state.State)
	return st
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithResolver sets how bindings are turned into states.
func WithResolver(r Resolver) Option {
	return func(s *Synchronizer) {
		s.resolve = r
	}
}

// WithLogger sets the synchronizer's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = l
	}
}

// Synchronizer publishes the address of the current fiber's state into a
// cell that external readers can load. The cell holds 0 when the current
// fiber has no ready state bound.
type Synchronizer struct {
	threadID uint32
	sched    fiber.Scheduler
	heap     *state.Heap
	resolve  Resolver
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	cell   []byte
	word   *uint64

	cancelSwitch func()
	unwatch      func()
}

var _ state.ReleaseWatcher = (*Synchronizer)(nil)

// New allocates the cell for threadID from heap's allocator, subscribes to
// sched's switch notifications and to heap's release notifications, then
// publishes the binding of the unit that is already current.
func New(threadID uint32, sched fiber.Scheduler, heap *state.Heap, opts ...Option) (*Synchronizer, error) {
	s := &Synchronizer{
		threadID: threadID,
		sched:    sched,
		heap:     heap,
		resolve:  ResolveState,
		logger:   Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.Uint32("thread", threadID))

	cell, err := heap.Allocator().Alloc(cellSize)
	if err != nil {
		return nil, fmt.Errorf("allocating current cell for thread %d: %w", threadID, err)
	}
	s.cell = cell
	//nolint:gosec // The cell is 16-byte aligned stable memory owned by s.
	s.word = (*uint64)(unsafe.Pointer(&cell[0]))

	s.unwatch = heap.Watch(s)
	s.cancelSwitch = sched.OnSwitch(s.switchTo)

	if u := sched.Current(); u != nil {
		s.switchTo(u)
	}

	s.logger.Debug("Synchronizer started", zap.String("cell", fmt.Sprintf("%#x", s.CellAddr())))
	return s, nil
}

// ThreadID returns the thread this synchronizer serves.
func (s *Synchronizer) ThreadID() uint32 {
	return s.threadID
}

// CellAddr returns the address of the published cell. It is stable until
// Close.
func (s *Synchronizer) CellAddr() uintptr {
	return uintptr(unsafe.Pointer(s.word))
}

// Current returns the address currently published, or 0.
func (s *Synchronizer) Current() uintptr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return uintptr(atomic.LoadUint64(s.word))
}

// Resolve returns the ready state bound to u, or nil. Absent, foreign or
// finalized bindings all resolve to nil.
func (s *Synchronizer) Resolve(u fiber.Unit) *state.State {
	if u == nil {
		return nil
	}
	v, ok := u.Get(BindingName)
	if !ok {
		return nil
	}
	st := s.resolve(v)
	if !st.Ready() {
		return nil
	}
	return st
}

// Apply publishes st immediately and stores binding in the current unit so
// that switching away and back publishes st again. A nil binding clears the
// unit's slot.
func (s *Synchronizer) Apply(st *state.State, binding any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	u := s.sched.Current()
	if u == nil {
		return fmt.Errorf("thread %d has no current unit", s.threadID)
	}

	if !st.Ready() {
		st = nil
	}
	u.Set(BindingName, binding)
	s.store(st.Addr())
	return nil
}

// ApplyState binds st itself to the current unit.
func (s *Synchronizer) ApplyState(st *state.State) error {
	if st == nil {
		return s.Apply(nil, nil)
	}
	return s.Apply(st, st)
}

// Released clears the cell if it still names addr.
func (s *Synchronizer) Released(addr uintptr) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	if atomic.CompareAndSwapUint64(s.word, uint64(addr), 0) {
		s.logger.Debug("Cleared cell for released state", zap.String("addr", fmt.Sprintf("%#x", addr)))
	}
}

// Close unsubscribes from both notification sources, zeroes the cell and
// returns it to the allocator.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.cancelSwitch()
	s.unwatch()

	atomic.StoreUint64(s.word, 0)
	s.heap.Allocator().Free(s.cell)
	s.cell = nil

	s.logger.Debug("Synchronizer closed")
}

func (s *Synchronizer) switchTo(u fiber.Unit) {
	st := s.Resolve(u)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.store(st.Addr())
}

func (s *Synchronizer) store(addr uintptr) {
	atomic.StoreUint64(s.word, uint64(addr))
}
