package filestore

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"chunkstore/internal/blobstore"
	"chunkstore/internal/checksum"
	"chunkstore/internal/models"
)

// rangeBuffer is the fixed-size destination of a prefetch. Each blob owns a
// disjoint byte range, so concurrent WriteAt calls need no locking.
type rangeBuffer interface {
	io.WriterAt
	// Finish flushes and releases the buffer.
	Finish() error
}

// NewPrefetchedReader fetches every blob into a temp file in dir using up to
// workers concurrent fetches and returns a reader served from that file.
// Any fetch failure removes the temp file and fails the whole prefetch.
// With keepTemp the temp file survives Close.
func NewPrefetchedReader(ctx context.Context, backend blobstore.Backend, entries []models.FileBlobIndex, dir string, workers int, keepTemp bool) (*ChunkedReader, error) {
	r, err := newChunkedReader(ctx, backend, entries)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = DefaultPrefetchWorkers
	}

	f, err := os.CreateTemp(dir, "._prefetch-")
	if err != nil {
		return nil, err
	}
	if err := prefetchInto(ctx, backend, entries, f, r.size, workers); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	r.temp = f
	r.keepTemp = keepTemp
	return r, nil
}

func prefetchInto(ctx context.Context, backend blobstore.Backend, entries []models.FileBlobIndex, f *os.File, size int64, workers int) error {
	if size == 0 {
		return nil
	}
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("extend prefetch file to %d bytes: %w", size, err)
	}
	buf, err := mapRange(f, size)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, entry := range entries {
		g.Go(func() error {
			return fetchRange(gctx, backend, entry, buf)
		})
	}
	err = g.Wait()
	if finishErr := buf.Finish(); err == nil && finishErr != nil {
		err = fmt.Errorf("flush prefetch buffer: %w", finishErr)
	}
	return err
}

func fetchRange(ctx context.Context, backend blobstore.Backend, entry models.FileBlobIndex, dst io.WriterAt) error {
	blob := entry.Blob
	if blob.Path == "" {
		return fmt.Errorf("%w: %s has no stored bytes", ErrBlobNotFound, blob.ID)
	}
	src, err := backend.Open(ctx, blob.Path)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", blob.ID, err)
	}
	defer src.Close()

	chunk := make([]byte, checksum.ReadSize)
	var written int64
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			if written+int64(n) > blob.Size {
				return fmt.Errorf("blob %s is larger than its recorded %d bytes", blob.ID, blob.Size)
			}
			if _, err := dst.WriteAt(chunk[:n], entry.Offset+written); err != nil {
				return err
			}
			written += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read blob %s: %w", blob.ID, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if written != blob.Size {
		return fmt.Errorf("blob %s is %d bytes, recorded %d", blob.ID, written, blob.Size)
	}
	return nil
}
