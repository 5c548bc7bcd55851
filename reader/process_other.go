//go:build !linux

package reader

import (
	"errors"
	"fmt"
)

// ProcessMemory is only available on Linux.
type ProcessMemory struct {
	pid int
}

// NewProcessMemory always fails outside Linux.
func NewProcessMemory(pid int) (*ProcessMemory, error) {
	return nil, fmt.Errorf("reading memory of pid %d: %w", pid, errors.ErrUnsupported)
}

func (m *ProcessMemory) Pid() int {
	return m.pid
}

func (m *ProcessMemory) ReadAt([]byte, uint64) error {
	return errors.ErrUnsupported
}
