// Package bpfmap publishes thread cell addresses into a BPF hash map so that
// kernel-side programs and other processes can find them.
package bpfmap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
)

// DefaultMaxThreads bounds the number of map entries.
const DefaultMaxThreads = 1024

// MapName is the kernel name of the map.
const MapName = "fiberstate_cells"

// Options configures a cell map.
type Options struct {
	// PinPath pins the map on bpffs at this path when set.
	PinPath    string
	MaxThreads uint32
}

// Cells maps a thread id (uint32) to the address of its current cell (uint64).
type Cells struct {
	m       *ebpf.Map
	pinPath string
	owned   bool
}

// New creates the map, pinning it when opts.PinPath is set.
func New(opts Options) (*Cells, error) {
	maxEntries := opts.MaxThreads
	if maxEntries == 0 {
		maxEntries = DefaultMaxThreads
	}

	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       MapName,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: maxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cell map: %w", err)
	}

	c := &Cells{m: m, owned: true}

	if opts.PinPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.PinPath), 0o755); err != nil {
			return nil, c.closeErrorf("creating pin directory", err)
		}
		if err := m.Pin(opts.PinPath); err != nil {
			return nil, c.closeErrorf(fmt.Sprintf("pinning cell map at %s", opts.PinPath), err)
		}
		c.pinPath = opts.PinPath
	}

	return c, nil
}

// OpenPinned opens a map pinned by another process. Closing it leaves the pin
// in place.
func OpenPinned(path string) (*Cells, error) {
	m, err := ebpf.LoadPinnedMap(path, &ebpf.LoadPinOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("opening pinned cell map %s: %w", path, err)
	}
	return &Cells{m: m, pinPath: path}, nil
}

// closeErrorf closes the map and returns a formatted error.
func (c *Cells) closeErrorf(errstr string, e error) error {
	_ = c.m.Close() //nolint:errcheck // Best-effort cleanup in error path
	return fmt.Errorf("%s: %w", errstr, e)
}

// Publish records the cell address for threadID.
func (c *Cells) Publish(threadID uint32, cell uint64) error {
	if err := c.m.Put(&threadID, &cell); err != nil {
		return fmt.Errorf("publishing cell for thread %d: %w", threadID, err)
	}
	return nil
}

// Withdraw removes threadID. Removing an absent thread is not an error.
func (c *Cells) Withdraw(threadID uint32) error {
	if err := c.m.Delete(&threadID); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("withdrawing cell for thread %d: %w", threadID, err)
	}
	return nil
}

// Cells returns every published thread id and cell address.
func (c *Cells) Cells() (map[uint32]uint64, error) {
	out := make(map[uint32]uint64)

	var (
		threadID uint32
		cell     uint64
	)
	it := c.m.Iterate()
	for it.Next(&threadID, &cell) {
		out[threadID] = cell
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("iterating cell map: %w", err)
	}
	return out, nil
}

// PinPath returns where the map is pinned, or "".
func (c *Cells) PinPath() string {
	return c.pinPath
}

// Close releases the map. A map created by New also loses its pin.
func (c *Cells) Close() error {
	var errs []error

	if c.owned && c.pinPath != "" {
		if err := c.m.Unpin(); err != nil {
			errs = append(errs, fmt.Errorf("unpinning %s: %w", c.pinPath, err))
		}
	}

	if err := c.m.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing cell map: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}
	return nil
}
