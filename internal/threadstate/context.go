package threadstate

import (
	"slices"
	"time"

	"github.com/mrzor/fiberstate/reader"
	"github.com/mrzor/fiberstate/state"
)

// Context is one interval during which a thread published the same table.
type Context struct {
	ThreadID uint32
	Addr     uint64
	Size     int
	Pairs    []state.Pair

	Start    time.Time
	LastSeen time.Time

	// End is set when a sample shows the thread has left the context.
	End time.Time
}

// FromSnapshot starts a context for threadID at t.
func FromSnapshot(threadID uint32, snap *reader.Snapshot, t time.Time) *Context {
	return &Context{
		ThreadID: threadID,
		Addr:     snap.Addr,
		Size:     snap.Size,
		Pairs:    snap.Pairs(),
		Start:    t,
		LastSeen: t,
	}
}

// Matches reports whether snap shows the same table with the same contents.
// A freed table's address can be reused by a different table, so the
// address alone is not enough.
func (c *Context) Matches(snap *reader.Snapshot) bool {
	if c == nil || snap == nil {
		return c == nil && snap == nil
	}
	return c.Addr == snap.Addr && slices.Equal(c.Pairs, snap.Pairs())
}

// Duration is how long the context lasted, or has lasted so far.
func (c *Context) Duration() time.Duration {
	if !c.End.IsZero() {
		return c.End.Sub(c.Start)
	}
	return c.LastSeen.Sub(c.Start)
}
