package reader

import (
	"fmt"
	"unsafe"
)

// Memory reads bytes at absolute addresses of some address space.
type Memory interface {
	ReadAt(p []byte, addr uint64) error
}

// LocalMemory reads the current process's own memory. Reading an unmapped
// address crashes the process; use it only for addresses that are known to be
// mapped, such as cells owned by a live synchronizer.
type LocalMemory struct{}

func (LocalMemory) ReadAt(p []byte, addr uint64) error {
	if addr == 0 {
		return fmt.Errorf("read %d bytes at nil address", len(p))
	}
	if len(p) == 0 {
		return nil
	}
	//nolint:gosec,govet // Addresses come from our own arena
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(p))
	copy(p, src)
	return nil
}
