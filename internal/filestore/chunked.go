package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"chunkstore/internal/blobstore"
	"chunkstore/internal/models"
)

// ChunkedReader presents the blobs of one file as a single seekable stream.
//
// In streaming mode it keeps at most one backend object open and moves to
// the next one as each drains. In prefetch mode every blob is fetched into a
// temp file up front and reads are served from that file.
type ChunkedReader struct {
	// ctx scopes backend opens made by Read and Seek, which take no context.
	ctx     context.Context
	backend blobstore.Backend
	entries []models.FileBlobIndex
	size    int64
	closed  bool

	cur    int
	stream io.ReadCloser
	within int64

	temp     *os.File
	keepTemp bool
}

// NewChunkedReader returns a streaming reader over entries, which must be
// ordered by offset with blob metadata joined.
func NewChunkedReader(ctx context.Context, backend blobstore.Backend, entries []models.FileBlobIndex) (*ChunkedReader, error) {
	r, err := newChunkedReader(ctx, backend, entries)
	if err != nil {
		return nil, err
	}
	if err := r.seekTo(0); err != nil {
		return nil, err
	}
	return r, nil
}

func newChunkedReader(ctx context.Context, backend blobstore.Backend, entries []models.FileBlobIndex) (*ChunkedReader, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	var size int64
	for i, entry := range entries {
		if entry.Blob == nil {
			return nil, fmt.Errorf("index entry %d has no blob metadata", i)
		}
		size += entry.Blob.Size
	}
	return &ChunkedReader{ctx: ctx, backend: backend, entries: entries, size: size, cur: -1}, nil
}

// Size returns the total size of the file.
func (r *ChunkedReader) Size() int64 {
	return r.size
}

// Prefetched reports whether reads are served from a local temp file.
func (r *ChunkedReader) Prefetched() bool {
	return r.temp != nil
}

// Read fills p across blob boundaries and returns io.EOF once every blob is
// exhausted.
func (r *ChunkedReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.temp != nil {
		return r.temp.Read(p)
	}

	n := 0
	for n < len(p) && r.stream != nil {
		m, err := r.stream.Read(p[n:])
		n += m
		r.within += int64(m)
		if errors.Is(err, io.EOF) {
			if err := r.advance(); err != nil {
				return n, err
			}
			continue
		}
		if err != nil {
			return n, err
		}
	}
	if n == 0 && len(p) > 0 && r.stream == nil {
		return 0, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker. Positions past the end of the file fail with
// ErrInvalidSeek; seeking to exactly the end is allowed.
func (r *ChunkedReader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.temp != nil {
		return r.temp.Seek(offset, whence)
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		current, err := r.Tell()
		if err != nil {
			return 0, err
		}
		pos = current + offset
	case io.SeekEnd:
		pos = r.size + offset
	default:
		return 0, fmt.Errorf("%w: whence %d", ErrInvalidSeek, whence)
	}
	if err := r.seekTo(pos); err != nil {
		return 0, err
	}
	return pos, nil
}

// Tell returns the current logical offset.
func (r *ChunkedReader) Tell() (int64, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.temp != nil {
		return r.temp.Seek(0, io.SeekCurrent)
	}
	if r.stream == nil {
		return r.size, nil
	}
	return r.entries[r.cur].Offset + r.within, nil
}

// Close releases the open backend object and, unless it was detached or
// kept, removes the prefetch temp file. Close is idempotent.
func (r *ChunkedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if r.stream != nil {
		firstErr = r.stream.Close()
		r.stream = nil
	}
	if r.temp != nil {
		if err := r.temp.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if !r.keepTemp {
			if err := os.Remove(r.temp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
				firstErr = err
			}
		}
		r.temp = nil
	}
	r.cur = -1
	return firstErr
}

// DetachTempFile hands the prefetched temp file to the caller, rewound to
// the start, and closes the reader. The caller owns closing and removing
// the file.
func (r *ChunkedReader) DetachTempFile() (*os.File, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.temp == nil {
		return nil, ErrNotPrefetched
	}
	f := r.temp
	r.temp = nil
	_ = r.Close()
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func (r *ChunkedReader) seekTo(pos int64) error {
	if pos < 0 || pos > r.size {
		return fmt.Errorf("%w: %d (size %d)", ErrInvalidSeek, pos, r.size)
	}
	if pos == r.size {
		r.closeStream()
		r.cur = len(r.entries)
		return nil
	}

	target := -1
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Offset <= pos {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSeek, pos)
	}

	within := pos - r.entries[target].Offset
	if target != r.cur || r.stream == nil {
		if err := r.openEntry(target); err != nil {
			return err
		}
	}
	if seeker, ok := r.stream.(io.Seeker); ok {
		if _, err := seeker.Seek(within, io.SeekStart); err != nil {
			return err
		}
		r.within = within
		return nil
	}

	// Forward-only stream: reopen when moving backwards, then discard.
	if within < r.within {
		if err := r.openEntry(target); err != nil {
			return err
		}
	}
	if skip := within - r.within; skip > 0 {
		if _, err := io.CopyN(io.Discard, r.stream, skip); err != nil {
			return err
		}
		r.within = within
	}
	return nil
}

// advance closes the current object and opens the next non-exhausted one.
func (r *ChunkedReader) advance() error {
	next := r.cur + 1
	if next >= len(r.entries) {
		r.closeStream()
		r.cur = len(r.entries)
		return nil
	}
	return r.openEntry(next)
}

func (r *ChunkedReader) openEntry(i int) error {
	r.closeStream()
	blob := r.entries[i].Blob
	if blob.Path == "" {
		return fmt.Errorf("%w: %s has no stored bytes", ErrBlobNotFound, blob.ID)
	}
	stream, err := r.backend.Open(r.ctx, blob.Path)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: %s: %w", ErrBlobNotFound, blob.ID, err)
		}
		return fmt.Errorf("open blob %s: %w", blob.ID, err)
	}
	r.stream = stream
	r.cur = i
	r.within = 0
	return nil
}

func (r *ChunkedReader) closeStream() {
	if r.stream != nil {
		_ = r.stream.Close()
		r.stream = nil
	}
}
