package threadstate

import (
	"sort"
	"sync"
	"time"
)

// Manager manages per-thread observations.
// It provides command-query separation for observation access.
type Manager struct {
	mu         sync.RWMutex
	contexts   map[uint32]*Context // thread -> current context
	readErrors map[uint32]error    // thread -> last read error
	issues     map[uint32][]string // thread -> pending warnings
}

// NewManager creates a new observation manager.
func NewManager() *Manager {
	return &Manager{
		contexts:   make(map[uint32]*Context),
		readErrors: make(map[uint32]error),
		issues:     make(map[uint32][]string),
	}
}

// Get retrieves the current context of a thread (query).
// Returns nil if the thread is not in a context.
func (m *Manager) Get(thread uint32) *Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contexts[thread]
}

// GetError retrieves the last read error of a thread (query).
func (m *Manager) GetError(thread uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readErrors[thread]
}

// GetIssues retrieves the pending warnings of a thread (query).
func (m *Manager) GetIssues(thread uint32) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.issues[thread]
}

// Threads returns the threads that are in a context, in ascending order (query).
func (m *Manager) Threads() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]uint32, 0, len(m.contexts))
	for id := range m.contexts {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Set stores the current context of a thread (command).
// A nil context clears it.
func (m *Manager) Set(thread uint32, ctx *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx == nil {
		delete(m.contexts, thread)
		return
	}
	m.contexts[thread] = ctx
}

// Touch records that the thread's current context was seen at t (command).
func (m *Manager) Touch(thread uint32, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx := m.contexts[thread]; ctx != nil {
		ctx.LastSeen = t
	}
}

// SetError stores a read error for a thread (command). A nil error clears it.
func (m *Manager) SetError(thread uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.readErrors, thread)
		return
	}
	m.readErrors[thread] = err
}

// AddIssue adds a warning for a thread (command).
func (m *Manager) AddIssue(thread uint32, issue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[thread] = append(m.issues[thread], issue)
}

// TakeIssues removes and returns the pending warnings of a thread (command).
func (m *Manager) TakeIssues(thread uint32) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	issues := m.issues[thread]
	delete(m.issues, thread)
	return issues
}

// Delete removes all data for a thread (command).
func (m *Manager) Delete(thread uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, thread)
	delete(m.readErrors, thread)
	delete(m.issues, thread)
}
