//go:build darwin || linux

package filestore

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type mappedRange struct {
	data []byte
}

// mapRange maps the first size bytes of f shared and writable.
func mapRange(f *os.File, size int64) (rangeBuffer, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("memory-mapping prefetch file: %w", err)
	}
	return &mappedRange{data: data}, nil
}

func (m *mappedRange) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write of %d bytes at %d outside %d byte mapping", len(p), off, len(m.data))
	}
	return copy(m.data[off:], p), nil
}

func (m *mappedRange) Finish() error {
	var firstErr error
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		firstErr = fmt.Errorf("syncing prefetch mapping: %w", err)
	}
	if err := unix.Munmap(m.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unmapping prefetch file: %w", err)
	}
	m.data = nil
	return firstErr
}
