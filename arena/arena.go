package arena

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultChunkSize is the size of each anonymous mapping blocks are carved from.
const DefaultChunkSize = 64 << 10

// minClass is the smallest block handed out. It also fixes block alignment.
const minClass = 16

// ErrExhausted is returned when the arena cannot map more memory, either
// because the configured limit is reached or because mmap failed.
var ErrExhausted = errors.New("arena exhausted")

// Stats describes the arena's current footprint.
type Stats struct {
	Chunks int    // small-block mappings
	Large  int    // dedicated mappings for oversized blocks
	Mapped int    // bytes currently mapped
	InUse  int    // bytes handed out and not yet freed
	Allocs uint64 // successful Alloc calls
	Frees  uint64 // Free calls
}

// Arena allocates blocks that never move from anonymous mappings outside the
// Go heap. Blocks are zeroed, 16-byte aligned, and rounded up to a power-of-two
// size class; cap(block) is the class size.
//
// Arena is safe for concurrent use.
type Arena struct {
	mu        sync.Mutex
	chunkSize int
	limit     int
	chunks    [][]byte
	large     map[uintptr][]byte
	cur       []byte
	free      map[int][][]byte
	stats     Stats
	logger    *zap.Logger
}

// Option configures an Arena.
type Option func(*Arena)

// WithChunkSize sets the mapping size for small blocks. It is rounded up to
// a multiple of the page size.
func WithChunkSize(n int) Option {
	return func(a *Arena) {
		if n > 0 {
			a.chunkSize = n
		}
	}
}

// WithLimit caps the number of bytes the arena may map. Zero means no limit.
func WithLimit(n int) Option {
	return func(a *Arena) {
		if n >= 0 {
			a.limit = n
		}
	}
}

// WithLogger sets the logger used for mapping events.
func WithLogger(l *zap.Logger) Option {
	return func(a *Arena) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an empty arena. No memory is mapped until the first Alloc.
func New(opts ...Option) *Arena {
	a := &Arena{
		chunkSize: DefaultChunkSize,
		large:     make(map[uintptr][]byte),
		free:      make(map[int][][]byte),
		logger:    Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.chunkSize = roundToPage(a.chunkSize)
	return a
}

// Alloc returns a zeroed block of at least n bytes.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid allocation size %d", n)
	}

	class := classFor(n)

	a.mu.Lock()
	defer a.mu.Unlock()

	if class > a.chunkSize {
		return a.allocLarge(n)
	}

	if list := a.free[class]; len(list) > 0 {
		b := list[len(list)-1]
		a.free[class] = list[:len(list)-1]
		clear(b)
		a.stats.InUse += class
		a.stats.Allocs++
		return b[:n:class], nil
	}

	if len(a.cur) < class {
		if err := a.grow(); err != nil {
			return nil, err
		}
	}

	b := a.cur[:class:class]
	a.cur = a.cur[class:]
	a.stats.InUse += class
	a.stats.Allocs++
	return b[:n:class], nil
}

// Free returns a block obtained from Alloc. The block must not be used
// afterwards.
func (a *Arena) Free(b []byte) {
	if cap(b) == 0 {
		return
	}

	b = b[:cap(b)]
	class := len(b)
	base := blockAddr(b)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Frees++

	if mapping, ok := a.large[base]; ok {
		delete(a.large, base)
		a.stats.Large--
		a.stats.Mapped -= len(mapping)
		a.stats.InUse -= len(mapping)
		if err := unix.Munmap(mapping); err != nil {
			a.logger.Warn("munmap large block", zap.Uintptr("addr", base), zap.Error(err))
		}
		return
	}

	a.stats.InUse -= class
	a.free[class] = append(a.free[class], b)
}

// Stats returns a snapshot of the arena's counters.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close unmaps every mapping. Blocks handed out become invalid.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, chunk := range a.chunks {
		if err := unix.Munmap(chunk); err != nil {
			errs = append(errs, fmt.Errorf("unmapping chunk: %w", err))
		}
	}
	for base, mapping := range a.large {
		if err := unix.Munmap(mapping); err != nil {
			errs = append(errs, fmt.Errorf("unmapping large block %#x: %w", base, err))
		}
	}

	a.chunks = nil
	a.large = make(map[uintptr][]byte)
	a.free = make(map[int][][]byte)
	a.cur = nil
	a.stats = Stats{Allocs: a.stats.Allocs, Frees: a.stats.Frees}

	if len(errs) > 0 {
		return fmt.Errorf("errors during arena close: %w", errors.Join(errs...))
	}
	return nil
}

// grow maps a fresh chunk for small blocks. The tail of the previous chunk is
// abandoned. Caller holds a.mu.
func (a *Arena) grow() error {
	chunk, err := a.mmap(a.chunkSize)
	if err != nil {
		return err
	}
	a.chunks = append(a.chunks, chunk)
	a.cur = chunk
	a.stats.Chunks++
	a.logger.Debug("mapped arena chunk",
		zap.Uintptr("addr", blockAddr(chunk)),
		zap.Int("size", len(chunk)),
		zap.Int("mapped", a.stats.Mapped))
	return nil
}

// allocLarge gives an oversized block its own mapping. Caller holds a.mu.
func (a *Arena) allocLarge(n int) ([]byte, error) {
	mapping, err := a.mmap(roundToPage(n))
	if err != nil {
		return nil, err
	}
	a.large[blockAddr(mapping)] = mapping
	a.stats.Large++
	a.stats.InUse += len(mapping)
	a.stats.Allocs++
	return mapping[:n:len(mapping)], nil
}

// mmap maps size bytes of anonymous memory, honouring the limit. Caller holds a.mu.
func (a *Arena) mmap(size int) ([]byte, error) {
	if a.limit > 0 && a.stats.Mapped+size > a.limit {
		return nil, fmt.Errorf("mapping %d bytes would exceed limit of %d: %w", size, a.limit, ErrExhausted)
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w: %w", size, err, ErrExhausted)
	}
	a.stats.Mapped += size
	return b, nil
}

// classFor rounds n up to the next power of two, at least minClass.
func classFor(n int) int {
	if n <= minClass {
		return minClass
	}
	return 1 << bits.Len(uint(n-1))
}

func roundToPage(n int) int {
	page := unix.Getpagesize()
	return (n + page - 1) &^ (page - 1)
}

// blockAddr returns the address of a block's first byte.
func blockAddr(b []byte) uintptr {
	//nolint:gosec // Address of off-heap memory, never converted back
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
