package filestore

import (
	"errors"

	"chunkstore/internal/checksum"
)

var (
	// ErrChecksumMismatch is returned when content does not hash to the
	// checksum the caller supplied. Nothing is committed.
	ErrChecksumMismatch = checksum.ErrMismatch

	ErrInvalidSeek   = errors.New("invalid seek position")
	ErrClosed        = errors.New("read on closed chunked reader")
	ErrNotPrefetched = errors.New("temp file can only be detached in prefetch mode")
	ErrFileNotFound  = errors.New("file not found")
	ErrBlobNotFound  = errors.New("blob not found")
)
