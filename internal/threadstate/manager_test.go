package threadstate

import (
	"errors"
	"testing"
	"time"

	"github.com/mrzor/fiberstate/state"
)

func testContext(thread uint32) *Context {
	now := time.Unix(1700000000, 0)
	return &Context{
		ThreadID: thread,
		Addr:     0x1000,
		Size:     1,
		Pairs:    []state.Pair{{Key: 1, Value: 3}},
		Start:    now,
		LastSeen: now,
	}
}

func TestManager_SetAndGet(t *testing.T) {
	m := NewManager()

	m.Set(1, testContext(1))

	got := m.Get(1)
	if got == nil {
		t.Fatal("Get() returned nil")
	}
	if got.Addr != 0x1000 {
		t.Errorf("Addr = %#x, want 0x1000", got.Addr)
	}

	m.Set(1, nil)
	if m.Get(1) != nil {
		t.Error("Set(nil) should clear the context")
	}
}

func TestManager_GetNonExistent(t *testing.T) {
	m := NewManager()

	if m.Get(9999) != nil {
		t.Error("Expected nil for unknown thread")
	}
}

func TestManager_Touch(t *testing.T) {
	m := NewManager()
	ctx := testContext(1)
	m.Set(1, ctx)

	later := ctx.Start.Add(2 * time.Second)
	m.Touch(1, later)
	m.Touch(2, later) // unknown thread is ignored

	if got := m.Get(1).Duration(); got != 2*time.Second {
		t.Errorf("Duration() = %v, want 2s", got)
	}
}

func TestManager_SetError(t *testing.T) {
	m := NewManager()

	m.SetError(1, errors.New("read failed"))
	if got := m.GetError(1); got == nil || got.Error() != "read failed" {
		t.Errorf("GetError() = %v, want read failed", got)
	}

	m.SetError(1, nil)
	if m.GetError(1) != nil {
		t.Error("SetError(nil) should clear the error")
	}
}

func TestManager_Issues(t *testing.T) {
	m := NewManager()

	m.AddIssue(1, "issue 1")
	m.AddIssue(1, "issue 2")

	if got := m.GetIssues(1); len(got) != 2 {
		t.Fatalf("GetIssues() len = %d, want 2", len(got))
	}

	taken := m.TakeIssues(1)
	if len(taken) != 2 || taken[0] != "issue 1" {
		t.Errorf("TakeIssues() = %v", taken)
	}
	if m.GetIssues(1) != nil {
		t.Error("TakeIssues() should clear pending issues")
	}
}

func TestManager_Threads(t *testing.T) {
	m := NewManager()
	m.Set(3, testContext(3))
	m.Set(1, testContext(1))

	got := m.Threads()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Threads() = %v, want [1 3]", got)
	}
}

func TestManager_Delete(t *testing.T) {
	m := NewManager()

	m.Set(1, testContext(1))
	m.SetError(1, errors.New("error"))
	m.AddIssue(1, "issue")

	m.Delete(1)

	if m.Get(1) != nil || m.GetError(1) != nil || m.GetIssues(1) != nil {
		t.Error("Delete() should remove all thread data")
	}
}
