package output

import (
	"errors"

	"github.com/mrzor/fiberstate/internal/threadstate"
)

// ContextHandler is the interface for handling context intervals.
type ContextHandler interface {
	HandleContextStart(c *threadstate.Context) error
	HandleContextEnd(c *threadstate.Context, issues []string) error
}

// Multi fans context intervals out to several handlers.
type Multi []ContextHandler

// HandleContextStart calls every handler and joins their errors.
func (m Multi) HandleContextStart(c *threadstate.Context) error {
	var errs []error
	for _, h := range m {
		errs = append(errs, h.HandleContextStart(c))
	}
	return errors.Join(errs...)
}

// HandleContextEnd calls every handler and joins their errors.
func (m Multi) HandleContextEnd(c *threadstate.Context, issues []string) error {
	var errs []error
	for _, h := range m {
		errs = append(errs, h.HandleContextEnd(c, issues))
	}
	return errors.Join(errs...)
}
