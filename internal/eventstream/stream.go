package eventstream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrzor/fiberstate/reader"
	"go.uber.org/zap"
)

// Sample is what one poll observed on one thread.
type Sample struct {
	ThreadID uint32
	Cell     uint64
	// Addr is the table address read from the cell, 0 when no state is current.
	Addr     uint64
	Snapshot *reader.Snapshot
	Err      error
	Time     time.Time

	// Withdrawn is set once for a thread that disappeared from the cell source.
	Withdrawn bool
}

// SampleHandler receives samples in thread order, one poll at a time.
type SampleHandler interface {
	HandleSample(s *Sample) error
}

// CellSource lists the cell address of every published thread.
type CellSource func() (map[uint32]uint64, error)

// StaticCells is a CellSource for a fixed set of threads, such as the ones
// listed in a descriptor.
func StaticCells(cells map[uint32]uint64) CellSource {
	return func() (map[uint32]uint64, error) {
		return cells, nil
	}
}

// Stream samples every cell at an interval and dispatches the samples to a
// handler.
type Stream struct {
	reader   *reader.Reader
	cells    CellSource
	interval time.Duration
	handler  SampleHandler
	logger   *zap.Logger
	now      func() time.Time

	seen map[uint32]uint64

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a new Stream.
func New(r *reader.Reader, cells CellSource, interval time.Duration, handler SampleHandler, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		reader:   r,
		cells:    cells,
		interval: interval,
		handler:  handler,
		logger:   logger,
		now:      time.Now,
		seen:     make(map[uint32]uint64),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sampling in a goroutine.
// It returns immediately and samples in the background until
// the context is cancelled or Stop is called.
func (s *Stream) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid sampling interval %s", s.interval)
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("stream already started")
	}
	go s.run(ctx)
	return nil
}

// Stop signals the sampling goroutine to stop and waits for the poll in
// progress to finish.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.done
	}
	return nil
}

// Poll samples every thread once. Handler errors are logged; only a failure
// to list the cells is returned.
func (s *Stream) Poll() error {
	cells, err := s.cells()
	if err != nil {
		return fmt.Errorf("listing cells: %w", err)
	}

	now := s.now()
	for _, id := range sortedThreads(cells) {
		s.dispatch(s.sample(id, cells[id], now))
	}

	for _, id := range sortedThreads(s.seen) {
		if _, ok := cells[id]; ok {
			continue
		}
		s.dispatch(&Sample{ThreadID: id, Cell: s.seen[id], Time: now, Withdrawn: true})
		delete(s.seen, id)
	}
	for id, cell := range cells {
		s.seen[id] = cell
	}
	return nil
}

func (s *Stream) sample(id uint32, cell uint64, now time.Time) *Sample {
	smp := &Sample{ThreadID: id, Cell: cell, Time: now}

	addr, err := s.reader.ReadCell(cell)
	if err != nil {
		smp.Err = err
		return smp
	}
	smp.Addr = addr
	if addr == 0 {
		return smp
	}

	smp.Snapshot, smp.Err = s.reader.ReadState(addr)
	return smp
}

func (s *Stream) dispatch(smp *Sample) {
	if err := s.handler.HandleSample(smp); err != nil {
		s.logger.Warn("handling sample",
			zap.Uint32("thread", smp.ThreadID),
			zap.Error(err),
		)
	}
}

// run is the main loop that polls on every tick.
func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Poll(); err != nil {
			s.logger.Warn("sampling cells", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func sortedThreads(cells map[uint32]uint64) []uint32 {
	ids := make([]uint32, 0, len(cells))
	for id := range cells {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
