// Package filestore stores files as ordered sequences of deduplicated,
// content-addressed blobs.
package filestore

import (
	"fmt"
	"log/slog"
	"time"

	"chunkstore/internal/blobstore"
	"chunkstore/internal/deferred"
	"chunkstore/internal/lock"
	"chunkstore/internal/models"
	"chunkstore/internal/store"
)

const (
	DefaultUploadConcurrency = 8
	DefaultPrefetchWorkers   = 4
	DefaultLockLease         = 10 * time.Minute
	DefaultLockTimeout       = 60 * time.Second
	DefaultDeletionDelay     = 60 * time.Second
	DefaultGCGracePeriod     = 24 * time.Hour
	defaultGCBatchSize       = 500
)

// Options tunes a Service. Zero values fall back to the defaults above.
type Options struct {
	BlobSize          int64
	UploadConcurrency int
	PrefetchWorkers   int
	PrefetchDir       string
	LockLease         time.Duration
	LockTimeout       time.Duration
	DeletionDelay     time.Duration
	// GCGracePeriod protects freshly uploaded blobs that are not yet part
	// of an assembled file from the GC sweep. Negative disables it.
	GCGracePeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.BlobSize <= 0 {
		o.BlobSize = models.DefaultBlobSize
	}
	if o.UploadConcurrency <= 0 {
		o.UploadConcurrency = DefaultUploadConcurrency
	}
	if o.PrefetchWorkers <= 0 {
		o.PrefetchWorkers = DefaultPrefetchWorkers
	}
	if o.LockLease <= 0 {
		o.LockLease = DefaultLockLease
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.DeletionDelay <= 0 {
		o.DeletionDelay = DefaultDeletionDelay
	}
	if o.GCGracePeriod < 0 {
		o.GCGracePeriod = 0
	} else if o.GCGracePeriod == 0 {
		o.GCGracePeriod = DefaultGCGracePeriod
	}
	return o
}

// Service coordinates blob metadata, backend bytes, and locks.
type Service struct {
	store     *store.Store
	backend   blobstore.Backend
	locker    lock.Locker
	deletions *deferred.Queue
	logger    *slog.Logger
	opts      Options

	now func() time.Time
}

// New creates a file store service.
func New(st *store.Store, backend blobstore.Backend, locker lock.Locker, deletions *deferred.Queue, logger *slog.Logger, opts Options) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if deletions == nil {
		return nil, fmt.Errorf("deletion queue is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		backend:   backend,
		locker:    locker,
		deletions: deletions,
		logger:    logger,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}, nil
}

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}
