package fiber

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mrzor/fiberstate/gc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordSwitches(t *testing.T, thr *Thread) *[]uint64 {
	t.Helper()
	var seen []uint64
	cancel := thr.OnSwitch(func(u Unit) {
		seen = append(seen, u.ID())
	})
	t.Cleanup(cancel)
	return &seen
}

func TestThread_RootIsCurrentInitially(t *testing.T) {
	thr := NewThread(3)

	assert.Equal(t, uint32(3), thr.ID())
	assert.Same(t, thr.Root(), thr.CurrentFiber())
	assert.Equal(t, uint64(0), thr.Current().ID())
}

func TestThread_HooksFireOnEveryTransfer(t *testing.T) {
	thr := NewThread(1)
	seen := recordSwitches(t, thr)

	thr.Spawn(func(f *Fiber) error {
		return f.Yield()
	})
	thr.Spawn(func(*Fiber) error {
		return nil
	})

	require.NoError(t, thr.Run(context.Background()))
	assert.Equal(t, []uint64{1, 0, 2, 0, 1, 0}, *seen)
	assert.Same(t, thr.Root(), thr.CurrentFiber())
}

func TestThread_CurrentInsideFiber(t *testing.T) {
	thr := NewThread(1)

	var inside []Unit
	f := thr.Spawn(func(f *Fiber) error {
		inside = append(inside, thr.Current())
		if err := f.Yield(); err != nil {
			return err
		}
		inside = append(inside, thr.Current())
		return nil
	})

	require.NoError(t, thr.Run(context.Background()))
	require.Len(t, inside, 2)
	assert.Same(t, f, inside[0])
	assert.Same(t, f, inside[1])
	assert.True(t, f.Done())
}

func TestThread_StoragePersistsAcrossYields(t *testing.T) {
	thr := NewThread(1)

	var got any
	thr.Spawn(func(f *Fiber) error {
		f.Set("request", "abc")
		if err := f.Yield(); err != nil {
			return err
		}
		got, _ = f.Get("request")
		return nil
	})
	thr.Spawn(func(f *Fiber) error {
		_, ok := f.Get("request")
		assert.False(t, ok, "storage is per unit")
		return nil
	})

	require.NoError(t, thr.Run(context.Background()))
	assert.Equal(t, "abc", got)
}

func TestStorage_SetNilDeletes(t *testing.T) {
	var s storage
	s.Set("k", 1)
	s.Set("k", nil)

	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestThread_InterleavesRoundRobin(t *testing.T) {
	thr := NewThread(1)

	var order []string
	step := func(name string, n int) func(*Fiber) error {
		return func(f *Fiber) error {
			for i := 0; i < n; i++ {
				order = append(order, name)
				if err := f.Yield(); err != nil {
					return err
				}
			}
			return nil
		}
	}
	thr.Spawn(step("a", 2))
	thr.Spawn(step("b", 3))

	require.NoError(t, thr.Run(context.Background()))
	assert.Equal(t, []string{"a", "b", "a", "b", "b"}, order)
}

func TestThread_SpawnFromFiber(t *testing.T) {
	thr := NewThread(1)

	var ran bool
	thr.Spawn(func(*Fiber) error {
		thr.Spawn(func(*Fiber) error {
			ran = true
			return nil
		})
		return nil
	})

	require.NoError(t, thr.Run(context.Background()))
	assert.True(t, ran)
}

func TestThread_ErrorsAreJoined(t *testing.T) {
	thr := NewThread(1)
	errA := errors.New("a failed")

	thr.Spawn(func(*Fiber) error { return errA })
	thr.Spawn(func(*Fiber) error { return nil })

	err := thr.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.Contains(t, err.Error(), "fiber 1")
}

func TestThread_PanicBecomesError(t *testing.T) {
	thr := NewThread(1)
	seen := recordSwitches(t, thr)

	f := thr.Spawn(func(*Fiber) error {
		panic("boom")
	})

	err := thr.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Error(t, f.Err())
	assert.Equal(t, []uint64{1, 0}, *seen, "control returns to the root after a panic")
}

func TestThread_CancelThenClose(t *testing.T) {
	thr := NewThread(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan error, 1)
	thr.Spawn(func(f *Fiber) error {
		for {
			if err := f.Yield(); err != nil {
				stopped <- err
				return err
			}
		}
	})
	thr.Spawn(func(*Fiber) error {
		cancel()
		return nil
	})

	assert.ErrorIs(t, thr.Run(ctx), context.Canceled)

	thr.Close()
	assert.ErrorIs(t, <-stopped, ErrStopped)

	assert.NotPanics(t, thr.Close)
}

func TestThread_FiberIgnoringStopFinishes(t *testing.T) {
	thr := NewThread(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var errs []error
	f := thr.Spawn(func(f *Fiber) error {
		cancel()
		for range 4 {
			errs = append(errs, f.Yield())
		}
		return nil
	})

	assert.ErrorIs(t, thr.Run(ctx), context.Canceled)
	thr.Close()

	assert.Eventually(t, f.Done, time.Second, time.Millisecond)
	require.Len(t, errs, 4)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrStopped)
	}
}

func TestRoot_YieldFails(t *testing.T) {
	thr := NewThread(1)

	done := make(chan error, 1)
	go func() { done <- thr.Root().Yield() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotFiber)
	case <-time.After(time.Second):
		t.Fatal("Yield on the root unit blocked")
	}
	assert.ErrorIs(t, thr.CurrentFiber().Yield(), ErrNotFiber)
}

func TestThread_OnSwitchCancel(t *testing.T) {
	thr := NewThread(1)

	calls := 0
	cancel := thr.OnSwitch(func(Unit) { calls++ })
	cancel()

	thr.Spawn(func(*Fiber) error { return nil })
	require.NoError(t, thr.Run(context.Background()))
	assert.Zero(t, calls)
}

func TestThread_VisitRootsRewritesRefs(t *testing.T) {
	thr := NewThread(1)
	thr.Root().Set("binding", gc.Ref(8))
	thr.Root().Set("label", "not a ref")

	f := thr.Spawn(func(*Fiber) error { return nil })
	f.Set("binding", gc.Ref(12))

	var visited []gc.Ref
	thr.VisitRoots(func(r gc.Ref) gc.Ref {
		visited = append(visited, r)
		return r + 100
	})

	assert.ElementsMatch(t, []gc.Ref{8, 12}, visited)

	v, _ := thr.Root().Get("binding")
	assert.Equal(t, gc.Ref(108), v)
	v, _ = f.Get("binding")
	assert.Equal(t, gc.Ref(112), v)
	v, _ = thr.Root().Get("label")
	assert.Equal(t, "not a ref", v)
}
