package eventprocessor

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrzor/fiberstate/internal/eventstream"
	"github.com/mrzor/fiberstate/internal/threadstate"
	"github.com/mrzor/fiberstate/reader"
)

// ContextHandler handles context intervals detected by the processor.
type ContextHandler interface {
	HandleContextStart(c *threadstate.Context) error
	HandleContextEnd(c *threadstate.Context, issues []string) error
}

// Processor turns samples into context intervals.
// It compares every sample with the thread's current context and reports
// a change as an end followed by a start.
type Processor struct {
	threads *threadstate.Manager
	handler ContextHandler
}

var _ eventstream.SampleHandler = (*Processor)(nil)

// NewProcessor creates a new processor.
func NewProcessor(threads *threadstate.Manager, handler ContextHandler) *Processor {
	return &Processor{
		threads: threads,
		handler: handler,
	}
}

// HandleSample routes a sample by what it shows.
func (p *Processor) HandleSample(s *eventstream.Sample) error {
	switch {
	case s.Withdrawn:
		return p.handleWithdrawn(s)
	case s.Err != nil:
		p.handleReadError(s)
		return nil
	default:
		p.threads.SetError(s.ThreadID, nil)
		return p.handleSnapshot(s)
	}
}

// Flush ends every open context at t. Called on shutdown.
func (p *Processor) Flush(t time.Time) error {
	var errs []error
	for _, id := range p.threads.Threads() {
		if err := p.end(id, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleSnapshot compares the sample with the current context.
func (p *Processor) handleSnapshot(s *eventstream.Sample) error {
	prev := p.threads.Get(s.ThreadID)
	if prev.Matches(s.Snapshot) {
		p.threads.Touch(s.ThreadID, s.Time)
		return nil
	}

	var errs []error
	if prev != nil {
		errs = append(errs, p.end(s.ThreadID, s.Time))
	}
	if s.Snapshot != nil {
		c := threadstate.FromSnapshot(s.ThreadID, s.Snapshot, s.Time)
		p.threads.Set(s.ThreadID, c)
		errs = append(errs, p.handler.HandleContextStart(c))
	}
	return errors.Join(errs...)
}

// handleReadError keeps the current context open; a torn read says nothing
// about whether the thread moved on.
func (p *Processor) handleReadError(s *eventstream.Sample) {
	p.threads.SetError(s.ThreadID, s.Err)

	issue := fmt.Sprintf("read failed: %v", s.Err)
	if errors.Is(s.Err, reader.ErrCorrupt) {
		issue = fmt.Sprintf("table %#x changed while reading", s.Addr)
	}
	p.threads.AddIssue(s.ThreadID, issue)
}

// handleWithdrawn ends the context of a thread that stopped publishing.
func (p *Processor) handleWithdrawn(s *eventstream.Sample) error {
	err := p.end(s.ThreadID, s.Time)
	p.threads.Delete(s.ThreadID)
	return err
}

func (p *Processor) end(thread uint32, t time.Time) error {
	c := p.threads.Get(thread)
	if c == nil {
		return nil
	}
	p.threads.Set(thread, nil)
	c.End = t
	return p.handler.HandleContextEnd(c, p.threads.TakeIssues(thread))
}
