package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mrzor/fiberstate/fiber"
	"github.com/mrzor/fiberstate/gc"
	"github.com/mrzor/fiberstate/managed"
	"github.com/mrzor/fiberstate/publish"
	"github.com/mrzor/fiberstate/state"
	"go.uber.org/zap"
)

var (
	// ErrInvalidKey is returned when a key is not an interned symbol.
	ErrInvalidKey = state.ErrInvalidKey

	// ErrNotState is returned when a reference does not name a state object.
	ErrNotState = errors.New("not a state")
)

// KV is one key/value argument of Construct and Derive.
type KV struct {
	Key   gc.Ref
	Value gc.Ref
}

// Runtime is the managed-language surface: state objects live on the managed
// heap and their tables live in States.
type Runtime struct {
	Heap    *managed.Heap
	Symbols *managed.SymbolTable
	States  *state.Heap

	mu      sync.Mutex
	threads map[uint32]*Thread
	logger  *zap.Logger
}

// NewRuntime creates a runtime whose tables are allocated from states.
func NewRuntime(states *state.Heap) *Runtime {
	return &Runtime{
		Heap:    managed.NewHeap(),
		Symbols: managed.NewSymbolTable(),
		States:  states,
		threads: make(map[uint32]*Thread),
		logger:  Logger(),
	}
}

// Sym interns name and returns it as a symbol reference.
func (rt *Runtime) Sym(name string) gc.Ref {
	return rt.Symbols.Ref(name)
}

// Construct creates a state object holding kvs and returns its reference.
func (rt *Runtime) Construct(kvs ...KV) (gc.Ref, error) {
	pairs, err := toPairs(kvs)
	if err != nil {
		return managed.Nil, err
	}

	st, err := rt.States.Construct(pairs...)
	if err != nil {
		return managed.Nil, err
	}
	return rt.Heap.Alloc(st), nil
}

// Derive returns a state object holding base's pairs overridden and extended
// by kvs. With no kvs base itself is returned. A Nil base derives from the
// empty state.
func (rt *Runtime) Derive(base gc.Ref, kvs ...KV) (gc.Ref, error) {
	var st *state.State
	if base != managed.Nil {
		var err error
		if st, err = rt.State(base); err != nil {
			return managed.Nil, err
		}
	}
	if len(kvs) == 0 {
		return base, nil
	}

	pairs, err := toPairs(kvs)
	if err != nil {
		return managed.Nil, err
	}

	derived, err := rt.States.Derive(st, pairs...)
	if err != nil {
		return managed.Nil, err
	}
	return rt.Heap.Alloc(derived), nil
}

// Size returns the number of pairs in the state ref names.
func (rt *Runtime) Size(ref gc.Ref) (int, error) {
	st, err := rt.State(ref)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Lookup returns the value stored under the symbol key.
func (rt *Runtime) Lookup(ref, key gc.Ref) (gc.Ref, bool, error) {
	st, err := rt.State(ref)
	if err != nil {
		return managed.Nil, false, err
	}
	if !managed.IsSymbol(key) {
		return managed.Nil, false, nil
	}
	v, ok := st.Lookup(state.Key(managed.SymbolID(key)))
	return v, ok, nil
}

// State returns the table behind ref.
func (rt *Runtime) State(ref gc.Ref) (*state.State, error) {
	v, ok := rt.Heap.Get(ref)
	if !ok {
		return nil, fmt.Errorf("%s: %w", rt.Heap.Describe(ref), ErrNotState)
	}
	st, ok := v.(*state.State)
	if !ok {
		return nil, fmt.Errorf("%T: %w", v, ErrNotState)
	}
	return st, nil
}

// Resolve maps a fiber binding to its state. It is the synchronizers'
// publish.Resolver.
func (rt *Runtime) Resolve(binding any) *state.State {
	ref, ok := binding.(gc.Ref)
	if !ok {
		return nil
	}
	st, err := rt.State(ref)
	if err != nil {
		return nil
	}
	return st
}

// NewThread creates a scheduler thread with its own synchronizer. Fiber
// storage of the thread becomes a root set of the managed heap.
func (rt *Runtime) NewThread(id uint32, opts ...publish.Option) (*Thread, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.threads[id]; ok {
		return nil, fmt.Errorf("thread %d already exists", id)
	}

	ft := fiber.NewThread(id)
	opts = append([]publish.Option{publish.WithResolver(rt.Resolve)}, opts...)
	syncer, err := publish.New(id, ft, rt.States, opts...)
	if err != nil {
		return nil, err
	}
	rt.Heap.AddRoots(ft)

	t := &Thread{Thread: ft, rt: rt, sync: syncer}
	rt.threads[id] = t

	rt.logger.Debug("Thread created", zap.Uint32("thread", id), zap.Uintptr("cell", syncer.CellAddr()))
	return t, nil
}

// Threads returns every thread created by NewThread.
func (rt *Runtime) Threads() []*Thread {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	out := make([]*Thread, 0, len(rt.threads))
	for _, t := range rt.threads {
		out = append(out, t)
	}
	return out
}

// Collect runs a managed heap collection.
func (rt *Runtime) Collect() managed.Stats {
	return rt.Heap.Collect()
}

func toPairs(kvs []KV) ([]state.Pair, error) {
	pairs := make([]state.Pair, len(kvs))
	for i, kv := range kvs {
		if !managed.IsSymbol(kv.Key) {
			return nil, fmt.Errorf("key %d is %s: %w", i, managed.KindOf(kv.Key), ErrInvalidKey)
		}
		if managed.SymbolID(kv.Key) == 0 {
			return nil, fmt.Errorf("key %d is the reserved symbol 0: %w", i, ErrInvalidKey)
		}
		pairs[i] = state.Pair{Key: state.Key(managed.SymbolID(kv.Key)), Value: kv.Value}
	}
	return pairs, nil
}
