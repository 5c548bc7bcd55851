package fiber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mrzor/fiberstate/gc"
	"go.uber.org/zap"
)

var (
	// ErrStopped is returned by Yield when the thread was closed while the
	// fiber was parked, and by every later Yield. The fiber should return
	// promptly.
	ErrStopped = errors.New("fiber thread stopped")

	// ErrNotFiber is returned by Yield on a thread's root unit.
	ErrNotFiber = errors.New("root unit cannot yield")
)

// Fiber is a unit run by a Thread. Its function runs on its own goroutine but
// only while the thread has transferred control to it.
type Fiber struct {
	storage

	id     uint64
	thread *Thread
	fn     func(*Fiber) error

	resume chan struct{}
	yield  chan struct{}

	started bool
	done    bool
	err     error
}

// ID returns the fiber's identifier. The root unit of a thread has ID 0.
func (f *Fiber) ID() uint64 {
	return f.id
}

// Thread returns the thread running the fiber.
func (f *Fiber) Thread() *Thread {
	return f.thread
}

// Yield hands control back to the thread and blocks until the fiber is
// resumed. It must only be called from the fiber's own function.
func (f *Fiber) Yield() error {
	if f.fn == nil {
		return ErrNotFiber
	}
	if f.thread.isStopped() {
		return ErrStopped
	}
	f.yield <- struct{}{}
	if _, ok := <-f.resume; !ok {
		return ErrStopped
	}
	return nil
}

// Done reports whether the fiber's function has returned.
func (f *Fiber) Done() bool {
	f.thread.mu.Lock()
	defer f.thread.mu.Unlock()
	return f.done
}

// Err returns the error the fiber's function returned, if it has finished.
func (f *Fiber) Err() error {
	f.thread.mu.Lock()
	defer f.thread.mu.Unlock()
	return f.err
}

// Thread is a cooperative scheduler: at most one of its units runs at a time,
// and control moves only when a fiber yields or finishes. Every transfer of
// control fires the switch hooks, including transfers back to the root unit.
type Thread struct {
	id uint32

	root    *Fiber
	current atomic.Pointer[Fiber]

	mu      sync.Mutex
	fibers  []*Fiber
	nextID  uint64
	stopped bool

	hookMu   sync.RWMutex
	hooks    map[int]func(Unit)
	nextHook int

	logger *zap.Logger
}

var (
	_ Scheduler  = (*Thread)(nil)
	_ gc.RootSet = (*Thread)(nil)
)

// NewThread creates a thread whose root unit is current.
func NewThread(id uint32) *Thread {
	t := &Thread{
		id:     id,
		hooks:  make(map[int]func(Unit)),
		nextID: 1,
		logger: Logger().With(zap.Uint32("thread", id)),
	}
	t.root = &Fiber{thread: t}
	t.current.Store(t.root)
	return t
}

// ID returns the thread identifier.
func (t *Thread) ID() uint32 {
	return t.id
}

// Root returns the unit that is current whenever no fiber is running.
func (t *Thread) Root() *Fiber {
	return t.root
}

// Current returns the running unit.
func (t *Thread) Current() Unit {
	return t.current.Load()
}

// CurrentFiber returns the running unit as a *Fiber.
func (t *Thread) CurrentFiber() *Fiber {
	return t.current.Load()
}

// OnSwitch registers a switch hook.
func (t *Thread) OnSwitch(fn func(Unit)) (cancel func()) {
	t.hookMu.Lock()
	defer t.hookMu.Unlock()

	id := t.nextHook
	t.nextHook++
	t.hooks[id] = fn

	return func() {
		t.hookMu.Lock()
		defer t.hookMu.Unlock()
		delete(t.hooks, id)
	}
}

// Spawn adds a fiber that will run fn. It may be called from within another
// fiber of the same thread.
func (t *Thread) Spawn(fn func(*Fiber) error) *Fiber {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := &Fiber{
		id:     t.nextID,
		thread: t,
		fn:     fn,
		resume: make(chan struct{}),
		yield:  make(chan struct{}, 1),
	}
	t.nextID++
	t.fibers = append(t.fibers, f)
	return f
}

// Run schedules fibers round-robin until every fiber has finished or ctx is
// cancelled. It returns the fibers' errors joined, or the context error.
// After cancellation, Close releases the parked fibers.
func (t *Thread) Run(ctx context.Context) error {
	for {
		runnable := t.runnable()
		if len(runnable) == 0 {
			break
		}

		for _, f := range runnable {
			if err := ctx.Err(); err != nil {
				return err
			}
			t.transfer(f)
		}
	}

	var errs []error
	t.mu.Lock()
	for _, f := range t.fibers {
		if f.err != nil {
			errs = append(errs, fmt.Errorf("fiber %d: %w", f.id, f.err))
		}
	}
	t.fibers = nil
	t.mu.Unlock()

	return errors.Join(errs...)
}

// Close stops the thread. Parked fibers get ErrStopped from Yield.
func (t *Thread) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	for _, f := range t.fibers {
		if f.started && !f.done {
			close(f.resume)
		}
	}
}

// VisitRoots rewrites every managed reference held in unit storage.
func (t *Thread) VisitRoots(visit func(gc.Ref) gc.Ref) {
	visitStorage(&t.root.storage, visit)

	t.mu.Lock()
	fibers := make([]*Fiber, 0, len(t.fibers))
	for _, f := range t.fibers {
		if !f.done {
			fibers = append(fibers, f)
		}
	}
	t.mu.Unlock()

	for _, f := range fibers {
		visitStorage(&f.storage, visit)
	}
}

func visitStorage(s *storage, visit func(gc.Ref) gc.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range s.values {
		if ref, ok := v.(gc.Ref); ok {
			s.values[name] = visit(ref)
		}
	}
}

func (t *Thread) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Thread) runnable() []*Fiber {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil
	}

	out := make([]*Fiber, 0, len(t.fibers))
	for _, f := range t.fibers {
		if !f.done {
			out = append(out, f)
		}
	}
	return out
}

// transfer runs f until it yields or finishes, then makes the root current.
func (t *Thread) transfer(f *Fiber) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	started := f.started
	f.started = true
	t.mu.Unlock()

	t.switchTo(f)
	if !started {
		go t.start(f)
	} else if !t.resume(f) {
		t.switchTo(t.root)
		return
	}
	<-f.yield

	t.switchTo(t.root)
}

// resume wakes a parked fiber unless the thread was closed. Holding t.mu
// keeps Close from closing the channel mid-send.
func (t *Thread) resume(f *Fiber) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	f.resume <- struct{}{}
	return true
}

func (t *Thread) start(f *Fiber) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			t.logger.Error("fiber panicked", zap.Uint64("fiber", f.id), zap.Any("panic", r))
		}
		t.mu.Lock()
		f.done = true
		f.err = err
		t.mu.Unlock()
		// After Close nobody waits for the final yield.
		select {
		case f.yield <- struct{}{}:
		default:
		}
	}()

	err = f.fn(f)
}

func (t *Thread) switchTo(f *Fiber) {
	t.current.Store(f)

	t.hookMu.RLock()
	hooks := make([]func(Unit), 0, len(t.hooks))
	for _, h := range t.hooks {
		hooks = append(hooks, h)
	}
	t.hookMu.RUnlock()

	for _, h := range hooks {
		h(f)
	}
}
