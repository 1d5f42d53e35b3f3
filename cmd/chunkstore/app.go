package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chunkstore/internal/blobstore"
	"chunkstore/internal/config"
	"chunkstore/internal/deferred"
	"chunkstore/internal/filestore"
	"chunkstore/internal/lock"
	"chunkstore/internal/store"
)

// app bundles the components a command needs for one invocation.
type app struct {
	cfg     *config.Config
	store   *store.Store
	backend blobstore.Backend
	locker  lock.Locker
	files   *filestore.Service
	logger  *slog.Logger
}

func withApp(cfg *config.Config, fn func(*app) error) (err error) {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}

func openApp(cfg *config.Config) (*app, error) {
	logger := slog.Default()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	backend, err := blobstore.Open(cfg.Storage.Backend, blobstore.Options{
		Path:     cfg.Storage.Path,
		Compress: cfg.Storage.Compress,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	locker, err := newLocker(cfg.Locks.Backend, st)
	if err != nil {
		_ = blobstore.Close(backend)
		_ = st.Close()
		return nil, err
	}

	files, err := filestore.New(st, backend, locker, deferred.NewQueue(st), logger, filestore.Options{
		BlobSize:          cfg.Blobs.BlobSize,
		UploadConcurrency: cfg.Blobs.UploadConcurrency,
		PrefetchWorkers:   cfg.Blobs.PrefetchWorkers,
		PrefetchDir:       cfg.Blobs.PrefetchDir,
		LockLease:         cfg.Locks.Lease,
		LockTimeout:       cfg.Locks.Timeout,
		DeletionDelay:     cfg.Deletion.Delay,
		GCGracePeriod:     cfg.Blobs.GCGracePeriod,
	})
	if err != nil {
		_ = blobstore.Close(backend)
		_ = st.Close()
		return nil, err
	}

	logger.Debug("chunkstore opened",
		"db_path", cfg.DBPath,
		"storage", cfg.Storage.Backend,
		"storage_path", cfg.Storage.Path,
		"locks", cfg.Locks.Backend,
	)
	return &app{
		cfg:     cfg,
		store:   st,
		backend: backend,
		locker:  locker,
		files:   files,
		logger:  logger,
	}, nil
}

func newLocker(name string, st *store.Store) (lock.Locker, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite":
		return lock.NewSQLite(st), nil
	case "memory":
		return lock.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", name)
	}
}

// runner returns a deferred deletion runner sharing the app's locks.
func (a *app) runner() *deferred.Runner {
	r := deferred.NewRunner(a.store, a.backend, a.locker, a.logger)
	r.LockLease = a.cfg.Locks.Lease
	r.LockTimeout = a.cfg.Locks.Timeout
	return r
}

func (a *app) Close() error {
	return errors.Join(blobstore.Close(a.backend), a.store.Close())
}
