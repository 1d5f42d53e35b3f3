package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chunkstore/internal/checksum"
	"chunkstore/internal/deferred"
	"chunkstore/internal/lock"
	"chunkstore/internal/models"
	"chunkstore/internal/store"
)

const secondsPerDay = 86400

// Source is one input to FromFiles. Checksum, when set, must match the
// content.
type Source struct {
	Reader   io.ReadSeeker
	Checksum string
}

// FromFile stores the content of r as a blob, or returns the existing blob
// with the same checksum. r is read twice; readers that cannot seek are
// spooled to a temp file first.
func (s *Service) FromFile(ctx context.Context, r io.Reader) (*models.Blob, error) {
	rs, cleanup, err := s.seekable(r)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	size, sum, err := hashSource(rs)
	if err != nil {
		return nil, err
	}

	held, err := lock.Acquire(ctx, s.locker, lock.UploadKey(sum), s.opts.LockLease, s.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, held)

	existing, err := s.store.GetBlobByChecksum(ctx, sum)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Debug("blob dedup hit", "checksum", sum, "blob_id", existing.ID)
		return existing, nil
	}

	blob := s.newBlob(size, sum)
	if err := s.backend.Save(ctx, blob.Path, rs); err != nil {
		s.discard(ctx, blob.Path)
		return nil, fmt.Errorf("save blob %s: %w", sum, err)
	}
	return s.recordBlob(ctx, blob)
}

type pendingWrite struct {
	blob *models.Blob
	err  error
}

// FromFiles stores many sources at once. Checksums are computed serially
// and deduplicated within the batch; novel content is written by a bounded
// pool while its checksum lock stays held, and each lock is released only
// after its row is persisted. The result has one entry per source in input
// order; duplicates share the same blob.
//
// When owner is non-empty every resulting blob is attached to it.
//
// Blobs persisted before a failure stay committed. No lock is held past
// return.
func (s *Service) FromFiles(ctx context.Context, sources []Source, owner string) ([]*models.Blob, error) {
	owner = strings.TrimSpace(owner)
	checksums := make([]string, len(sources))
	resolved := map[string]*models.Blob{}
	held := map[string]lock.Lock{}

	var (
		mu       sync.Mutex
		pending  []pendingWrite
		wg       sync.WaitGroup
		inflight int
	)
	ready := make(chan struct{}, 1)

	fail := func(cause error) ([]*models.Blob, error) {
		wg.Wait()
		cleanupCtx := context.WithoutCancel(ctx)
		mu.Lock()
		leftovers := pending
		pending = nil
		mu.Unlock()
		for _, w := range leftovers {
			s.discard(cleanupCtx, w.blob.Path)
		}
		for _, l := range held {
			s.release(cleanupCtx, l)
		}
		return nil, cause
	}

	// flush persists completed writes on the calling goroutine and frees
	// their slots.
	flush := func() error {
		mu.Lock()
		batch := pending
		pending = nil
		mu.Unlock()

		for i, w := range batch {
			inflight--
			var blob *models.Blob
			err := w.err
			if err == nil {
				blob, err = s.recordBlob(ctx, w.blob)
			} else {
				s.discard(ctx, w.blob.Path)
				err = fmt.Errorf("save blob %s: %w", w.blob.Checksum, err)
			}
			if err == nil {
				err = s.ensureOwner(ctx, blob, owner)
			}
			if err != nil {
				mu.Lock()
				pending = append(batch[i+1:], pending...)
				mu.Unlock()
				return err
			}
			resolved[w.blob.Checksum] = blob
			if l, ok := held[w.blob.Checksum]; ok {
				s.release(ctx, l)
				delete(held, w.blob.Checksum)
			}
		}
		return nil
	}

	wait := func() error {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		return flush()
	}

	seen := map[string]struct{}{}
	for i, src := range sources {
		if err := flush(); err != nil {
			return fail(err)
		}
		if src.Reader == nil {
			return fail(fmt.Errorf("source %d: reader is required", i))
		}

		size, sum, err := hashSource(src.Reader)
		if err != nil {
			return fail(fmt.Errorf("source %d: %w", i, err))
		}
		if err := checksum.Verify(sum, src.Checksum); err != nil {
			return fail(fmt.Errorf("source %d: %w: expected %s, got %s", i, ErrChecksumMismatch, checksum.Normalize(src.Checksum), sum))
		}
		checksums[i] = sum
		if _, dup := seen[sum]; dup {
			continue
		}
		seen[sum] = struct{}{}

		// Flushing while waiting releases locks for writes that already
		// finished, so a batch holding the key we want can make progress.
		l, err := lock.AcquireWhile(ctx, s.locker, lock.UploadKey(sum), s.opts.LockLease, s.opts.LockTimeout, flush)
		if err != nil {
			return fail(err)
		}
		existing, err := s.store.GetBlobByChecksum(ctx, sum)
		if err != nil {
			s.release(ctx, l)
			return fail(err)
		}
		if existing != nil {
			s.release(ctx, l)
			s.logger.Debug("blob dedup hit", "checksum", sum, "blob_id", existing.ID)
			resolved[sum] = existing
			if err := s.ensureOwner(ctx, existing, owner); err != nil {
				return fail(err)
			}
			continue
		}
		held[sum] = l

		for inflight >= s.opts.UploadConcurrency {
			if err := wait(); err != nil {
				return fail(err)
			}
		}

		blob := s.newBlob(size, sum)
		inflight++
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			err := s.backend.Save(ctx, blob.Path, r)
			mu.Lock()
			pending = append(pending, pendingWrite{blob: blob, err: err})
			mu.Unlock()
			select {
			case ready <- struct{}{}:
			default:
			}
		}(src.Reader)
	}

	for inflight > 0 {
		if err := wait(); err != nil {
			return fail(err)
		}
	}

	results := make([]*models.Blob, len(sources))
	for i, sum := range checksums {
		results[i] = resolved[sum]
	}
	return results, nil
}

// DeleteBlob removes the blob row under its checksum lock and schedules the
// bytes for deletion after the configured delay. The row delete and the
// queued task commit together.
func (s *Service) DeleteBlob(ctx context.Context, blob *models.Blob) error {
	if blob == nil {
		return fmt.Errorf("blob is required")
	}
	held, err := lock.Acquire(ctx, s.locker, lock.UploadKey(blob.Checksum), s.opts.LockLease, s.opts.LockTimeout)
	if err != nil {
		return err
	}
	defer s.release(ctx, held)

	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.DeleteBlob(ctx, blob.ID); err != nil {
			return fmt.Errorf("delete blob %s: %w", blob.ID, err)
		}
		if blob.Path == "" {
			return nil
		}
		task := deferred.Task{Path: blob.Path, Checksum: blob.Checksum}
		if _, err := s.deletions.EnqueueTx(ctx, tx, task, s.opts.DeletionDelay); err != nil {
			return fmt.Errorf("schedule deletion of %s: %w", blob.Path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	blob.Path = ""
	return nil
}

// DeleteBlobByChecksum looks up and deletes one blob.
func (s *Service) DeleteBlobByChecksum(ctx context.Context, sum string) (*models.Blob, error) {
	blob, err := s.store.GetBlobByChecksum(ctx, sum)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, checksum.Normalize(sum))
	}
	if err := s.DeleteBlob(ctx, blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// ResolveChecksums maps checksums to blob ids in the given order. Checksums
// with no stored blob are returned in missing, once each, and leave ids nil.
func (s *Service) ResolveChecksums(ctx context.Context, sums []string) (ids []string, missing []string, err error) {
	found := make(map[string]string, len(sums))
	absent := map[string]struct{}{}
	for _, raw := range sums {
		sum := checksum.Normalize(raw)
		if _, ok := found[sum]; ok {
			continue
		}
		if _, ok := absent[sum]; ok {
			continue
		}
		blob, err := s.store.GetBlobByChecksum(ctx, sum)
		if err != nil {
			return nil, nil, err
		}
		if blob == nil {
			absent[sum] = struct{}{}
			missing = append(missing, sum)
			continue
		}
		found[sum] = blob.ID
	}
	if len(missing) > 0 {
		return nil, missing, nil
	}

	ids = make([]string, len(sums))
	for i, raw := range sums {
		ids[i] = found[checksum.Normalize(raw)]
	}
	return ids, nil, nil
}

// BlobGCResult summarizes one GC sweep.
type BlobGCResult struct {
	DryRun         bool  `json:"dry_run" yaml:"dry_run"`
	CandidateCount int   `json:"candidate_count" yaml:"candidate_count"`
	DeletedCount   int   `json:"deleted_count" yaml:"deleted_count"`
	FailedCount    int   `json:"failed_count" yaml:"failed_count"`
	ReclaimedBytes int64 `json:"reclaimed_bytes" yaml:"reclaimed_bytes"`
}

// GCBlobs deletes blobs that no file references and that are older than the
// grace period. With apply false it only counts them.
func (s *Service) GCBlobs(ctx context.Context, batchSize int, apply bool) (BlobGCResult, error) {
	result := BlobGCResult{DryRun: !apply}
	if batchSize <= 0 {
		batchSize = defaultGCBatchSize
	}
	var cutoff time.Time
	if s.opts.GCGracePeriod > 0 {
		cutoff = s.now().Add(-s.opts.GCGracePeriod)
	}

	if !apply {
		blobs, err := s.store.ListUnreferencedBlobs(ctx, cutoff, 0)
		if err != nil {
			return result, err
		}
		result.CandidateCount = len(blobs)
		for _, blob := range blobs {
			result.ReclaimedBytes += blob.Size
		}
		return result, nil
	}

	failed := map[string]struct{}{}
	for {
		blobs, err := s.store.ListUnreferencedBlobs(ctx, cutoff, batchSize+len(failed))
		if err != nil {
			return result, err
		}
		progressed := false
		for _, blob := range blobs {
			if _, skip := failed[blob.ID]; skip {
				continue
			}
			result.CandidateCount++
			if err := s.DeleteBlob(ctx, &blob); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				s.logger.Warn("gc delete blob failed", "blob_id", blob.ID, "error", err)
				failed[blob.ID] = struct{}{}
				result.FailedCount++
				continue
			}
			progressed = true
			result.DeletedCount++
			result.ReclaimedBytes += blob.Size
		}
		if !progressed {
			return result, nil
		}
	}
}

func (s *Service) newBlob(size int64, sum string) *models.Blob {
	created := s.now().UTC()
	return &models.Blob{
		Checksum:  sum,
		Size:      size,
		Path:      generateUniquePath(created),
		CreatedAt: created,
	}
}

// recordBlob persists a freshly written blob. When another writer won the
// row (its lease expired under us), our bytes are discarded and the
// existing row is returned.
func (s *Service) recordBlob(ctx context.Context, blob *models.Blob) (*models.Blob, error) {
	err := s.store.CreateBlob(ctx, blob)
	if err == nil {
		return blob, nil
	}
	s.discard(ctx, blob.Path)
	if !errors.Is(err, store.ErrDuplicateChecksum) {
		return nil, fmt.Errorf("record blob %s: %w", blob.Checksum, err)
	}
	existing, lookupErr := s.store.GetBlobByChecksum(ctx, blob.Checksum)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing == nil {
		return nil, fmt.Errorf("record blob %s: %w", blob.Checksum, err)
	}
	s.logger.Warn("blob row created concurrently; discarded duplicate bytes", "checksum", blob.Checksum)
	return existing, nil
}

func (s *Service) ensureOwner(ctx context.Context, blob *models.Blob, owner string) error {
	if owner == "" || blob == nil {
		return nil
	}
	if err := s.store.EnsureBlobOwner(ctx, blob.ID, owner); err != nil {
		return fmt.Errorf("attach owner to blob %s: %w", blob.ID, err)
	}
	return nil
}

func (s *Service) release(ctx context.Context, held lock.Lock) {
	if err := held.Release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("release lock failed", "key", held.Key(), "error", err)
	}
}

// discard removes bytes that no row points at. Failures only leak storage.
func (s *Service) discard(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := s.backend.Delete(context.WithoutCancel(ctx), path); err != nil {
		s.logger.Warn("discard unrecorded blob bytes failed", "path", path, "error", err)
	}
}

// seekable returns r as an io.ReadSeeker, spooling it to a temp file when
// it cannot seek.
func (s *Service) seekable(r io.Reader) (io.ReadSeeker, func(), error) {
	if r == nil {
		return nil, nil, fmt.Errorf("reader is required")
	}
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}
	spool, err := os.CreateTemp(s.opts.PrefetchDir, "blob-spool-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}
	if _, err := io.Copy(spool, r); err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, err
	}
	return spool, cleanup, nil
}

// hashSource hashes rs from its current position and rewinds it.
func hashSource(rs io.ReadSeeker) (int64, string, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, "", err
	}
	size, sum, err := checksum.SizeAndChecksum(rs)
	if err != nil {
		return 0, "", err
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return 0, "", err
	}
	return size, sum, nil
}

// generateUniquePath buckets objects by day: "{days}/{secondsInDay}/{uuid}".
func generateUniquePath(ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("%d/%d/%s", unix/secondsPerDay, unix%secondsPerDay, strings.ReplaceAll(uuid.NewString(), "-", ""))
}
