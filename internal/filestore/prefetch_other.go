//go:build !darwin && !linux

package filestore

import "os"

type fileRange struct {
	*os.File
}

// mapRange falls back to positional writes where mmap is unavailable.
func mapRange(f *os.File, size int64) (rangeBuffer, error) {
	return fileRange{File: f}, nil
}

func (r fileRange) Finish() error {
	return r.Sync()
}
