//go:build linux

package reader

import (
	"errors"
	"os"
	"testing"

	"github.com/mrzor/fiberstate/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestProcessMemory_Self(t *testing.T) {
	h := newTestHeap(t)
	st, err := h.Construct(state.Pair{Key: 7, Value: 70})
	require.NoError(t, err)

	mem, err := NewProcessMemory(os.Getpid())
	require.NoError(t, err)

	snap, err := New(mem).ReadState(uint64(st.Addr()))
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) {
		t.Skipf("process_vm_readv unavailable: %v", err)
	}
	require.NoError(t, err)

	v, ok := snap.Lookup(7)
	assert.True(t, ok)
	assert.EqualValues(t, 70, v)
}

func TestNewProcessMemory_InvalidPid(t *testing.T) {
	_, err := NewProcessMemory(0)
	assert.Error(t, err)
}
