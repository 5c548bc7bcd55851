package eventprocessor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mrzor/fiberstate/internal/eventstream"
	"github.com/mrzor/fiberstate/internal/threadstate"
	"github.com/mrzor/fiberstate/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind   string
	addr   uint64
	issues []string
	dur    time.Duration
}

type recordingHandler struct {
	events []event
}

func (h *recordingHandler) HandleContextStart(c *threadstate.Context) error {
	h.events = append(h.events, event{kind: "start", addr: c.Addr})
	return nil
}

func (h *recordingHandler) HandleContextEnd(c *threadstate.Context, issues []string) error {
	h.events = append(h.events, event{kind: "end", addr: c.Addr, issues: issues, dur: c.Duration()})
	return nil
}

type byteMemory struct {
	base uint64
	buf  []byte
}

func (m *byteMemory) ReadAt(p []byte, addr uint64) error {
	copy(p, m.buf[addr-m.base:])
	return nil
}

// snapshot decodes a single-pair table at addr.
func snapshot(t *testing.T, addr, key, value uint64) *reader.Snapshot {
	t.Helper()
	buf := make([]byte, 32)
	for i, w := range []uint64{1, 1, key, value} {
		binary.NativeEndian.PutUint64(buf[i*8:], w)
	}
	snap, err := reader.New(&byteMemory{base: addr, buf: buf}).ReadState(addr)
	require.NoError(t, err)
	return snap
}

var t0 = time.Unix(1700000000, 0)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestHandleSample_StartExtendEnd(t *testing.T) {
	h := &recordingHandler{}
	p := NewProcessor(threadstate.NewManager(), h)

	a := snapshot(t, 0x1000, 5, 1)
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Addr: a.Addr, Snapshot: a, Time: at(0)}))
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Addr: a.Addr, Snapshot: snapshot(t, 0x1000, 5, 1), Time: at(100)}))
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Time: at(250)}))

	require.Len(t, h.events, 2)
	assert.Equal(t, "start", h.events[0].kind)
	assert.Equal(t, "end", h.events[1].kind)
	assert.Equal(t, uint64(0x1000), h.events[1].addr)
	assert.Equal(t, 250*time.Millisecond, h.events[1].dur)
}

func TestHandleSample_SwitchBetweenTables(t *testing.T) {
	h := &recordingHandler{}
	p := NewProcessor(threadstate.NewManager(), h)

	a := snapshot(t, 0x1000, 5, 1)
	b := snapshot(t, 0x2000, 5, 2)
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Addr: a.Addr, Snapshot: a, Time: at(0)}))
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Addr: b.Addr, Snapshot: b, Time: at(10)}))

	got := make([]string, 0, len(h.events))
	for _, e := range h.events {
		got = append(got, fmt.Sprintf("%s %#x", e.kind, e.addr))
	}
	assert.Equal(t, []string{"start 0x1000", "end 0x1000", "start 0x2000"}, got)
}

func TestHandleSample_ReusedAddress(t *testing.T) {
	h := &recordingHandler{}
	p := NewProcessor(threadstate.NewManager(), h)

	a := snapshot(t, 0x1000, 5, 1)
	reused := snapshot(t, 0x1000, 5, 3)
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Addr: a.Addr, Snapshot: a, Time: at(0)}))
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Addr: reused.Addr, Snapshot: reused, Time: at(10)}))

	assert.Len(t, h.events, 3, "same address with new contents is a new context")
}

func TestHandleSample_ReadErrorsBecomeIssues(t *testing.T) {
	h := &recordingHandler{}
	m := threadstate.NewManager()
	p := NewProcessor(m, h)

	a := snapshot(t, 0x1000, 5, 1)
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Addr: a.Addr, Snapshot: a, Time: at(0)}))

	torn := fmt.Errorf("table 0x1000 changed while reading: %w", reader.ErrCorrupt)
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Addr: 0x1000, Err: torn, Time: at(5)}))
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Err: errors.New("EFAULT"), Time: at(6)}))

	assert.Len(t, h.events, 1, "read errors keep the context open")
	assert.Error(t, m.GetError(1))

	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 1, Time: at(10)}))
	assert.NoError(t, m.GetError(1), "a good read clears the error")

	require.Len(t, h.events, 2)
	assert.Equal(t, []string{"table 0x1000 changed while reading", "read failed: EFAULT"}, h.events[1].issues)
	assert.Empty(t, m.GetIssues(1))
}

func TestHandleSample_Withdrawn(t *testing.T) {
	h := &recordingHandler{}
	m := threadstate.NewManager()
	p := NewProcessor(m, h)

	a := snapshot(t, 0x1000, 5, 1)
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 4, Addr: a.Addr, Snapshot: a, Time: at(0)}))
	require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: 4, Withdrawn: true, Time: at(20)}))

	require.Len(t, h.events, 2)
	assert.Equal(t, "end", h.events[1].kind)
	assert.Nil(t, m.Get(4))
}

func TestFlush(t *testing.T) {
	h := &recordingHandler{}
	p := NewProcessor(threadstate.NewManager(), h)

	for id := uint32(1); id <= 3; id++ {
		s := snapshot(t, uint64(id)<<12, 5, uint64(id))
		require.NoError(t, p.HandleSample(&eventstream.Sample{ThreadID: id, Addr: s.Addr, Snapshot: s, Time: at(0)}))
	}

	require.NoError(t, p.Flush(at(30)))
	require.NoError(t, p.Flush(at(40)))

	ends := 0
	for _, e := range h.events {
		if e.kind == "end" {
			ends++
			assert.Equal(t, 30*time.Millisecond, e.dur)
		}
	}
	assert.Equal(t, 3, ends)
}
