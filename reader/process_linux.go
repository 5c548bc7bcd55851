//go:build linux

package reader

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcessMemory reads another process's memory with process_vm_readv(2).
// The caller needs ptrace access to the target (same user with
// kernel.yama.ptrace_scope=0, or CAP_SYS_PTRACE).
type ProcessMemory struct {
	pid int
}

// NewProcessMemory returns a Memory for pid.
func NewProcessMemory(pid int) (*ProcessMemory, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	return &ProcessMemory{pid: pid}, nil
}

// Pid returns the target process id.
func (m *ProcessMemory) Pid() int {
	return m.pid
}

func (m *ProcessMemory) ReadAt(p []byte, addr uint64) error {
	if len(p) == 0 {
		return nil
	}

	local := []unix.Iovec{{Base: &p[0]}}
	local[0].SetLen(len(p))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(p)}}

	n, err := unix.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("process_vm_readv pid %d at %#x: %w", m.pid, addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("short read from pid %d at %#x: %d of %d bytes", m.pid, addr, n, len(p))
	}
	return nil
}
