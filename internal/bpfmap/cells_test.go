package bpfmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCells skips when the environment cannot create BPF maps
// (no CAP_BPF, locked memlock, or no bpf syscall).
func newTestCells(t *testing.T, opts Options) *Cells {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Skipf("BPF maps unavailable: %v", err)
	}
	t.Cleanup(func() {
		assert.NoError(t, c.Close())
	})
	return c
}

func TestCells_PublishWithdraw(t *testing.T) {
	c := newTestCells(t, Options{MaxThreads: 8})

	require.NoError(t, c.Publish(1, 0x1000))
	require.NoError(t, c.Publish(2, 0x2000))
	require.NoError(t, c.Publish(1, 0x1010))

	cells, err := c.Cells()
	require.NoError(t, err)
	assert.Equal(t, map[uint32]uint64{1: 0x1010, 2: 0x2000}, cells)

	require.NoError(t, c.Withdraw(2))
	require.NoError(t, c.Withdraw(2), "withdrawing twice is fine")

	cells, err = c.Cells()
	require.NoError(t, err)
	assert.Equal(t, map[uint32]uint64{1: 0x1010}, cells)
}

func TestOpenPinned_Missing(t *testing.T) {
	_, err := OpenPinned(t.TempDir() + "/missing")
	assert.Error(t, err)
}
