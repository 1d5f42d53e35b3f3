// Package deferred schedules physical deletion of blob bytes after a delay,
// so readers that resolved a path just before the row was deleted can
// finish.
package deferred

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chunkstore/internal/blobstore"
	"chunkstore/internal/lock"
	"chunkstore/internal/store"
)

const (
	defaultRetryDelay  = time.Minute
	defaultBatchSize   = 100
	defaultLockLease   = 10 * time.Minute
	defaultLockTimeout = 60 * time.Second
)

// Task names backend bytes to remove.
type Task struct {
	Path     string
	Checksum string
}

// Queue persists deletion tasks in the metadata store.
type Queue struct {
	store *store.Store
	now   func() time.Time
}

// NewQueue returns a queue backed by st.
func NewQueue(st *store.Store) *Queue {
	return &Queue{store: st, now: time.Now}
}

// Enqueue schedules task to run no earlier than delay from now.
func (q *Queue) Enqueue(ctx context.Context, task Task, delay time.Duration) (int64, error) {
	runAfter, err := q.runAfter(task, delay)
	if err != nil {
		return 0, err
	}
	return q.store.EnqueueDeletion(ctx, task.Path, task.Checksum, runAfter)
}

// EnqueueTx is Enqueue inside tx, so the task commits or rolls back with
// the caller's other writes.
func (q *Queue) EnqueueTx(ctx context.Context, tx *store.Tx, task Task, delay time.Duration) (int64, error) {
	runAfter, err := q.runAfter(task, delay)
	if err != nil {
		return 0, err
	}
	return tx.EnqueueDeletion(ctx, task.Path, task.Checksum, runAfter)
}

func (q *Queue) runAfter(task Task, delay time.Duration) (time.Time, error) {
	if q == nil || q.store == nil {
		return time.Time{}, fmt.Errorf("deletion queue is not configured")
	}
	if strings.TrimSpace(task.Path) == "" {
		return time.Time{}, fmt.Errorf("deletion path is required")
	}
	if delay < 0 {
		delay = 0
	}
	return q.now().Add(delay), nil
}

// RunResult summarizes one RunDue pass.
type RunResult struct {
	Deleted int `json:"deleted" yaml:"deleted"`
	Skipped int `json:"skipped" yaml:"skipped"`
	Failed  int `json:"failed" yaml:"failed"`
}

// Runner executes due deletion tasks.
type Runner struct {
	store   *store.Store
	backend blobstore.Backend
	locker  lock.Locker
	logger  *slog.Logger

	LockLease   time.Duration
	LockTimeout time.Duration
	RetryDelay  time.Duration
	BatchSize   int

	now func() time.Time
}

// NewRunner returns a runner deleting from backend.
func NewRunner(st *store.Store, backend blobstore.Backend, locker lock.Locker, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:       st,
		backend:     backend,
		locker:      locker,
		logger:      logger,
		LockLease:   defaultLockLease,
		LockTimeout: defaultLockTimeout,
		RetryDelay:  defaultRetryDelay,
		BatchSize:   defaultBatchSize,
		now:         time.Now,
	}
}

// RunDue executes every task whose delay has elapsed. Task failures are
// rescheduled and counted; only store errors abort the pass.
func (r *Runner) RunDue(ctx context.Context) (RunResult, error) {
	var result RunResult
	if r == nil || r.store == nil || r.backend == nil || r.locker == nil {
		return result, fmt.Errorf("deletion runner is not configured")
	}

	for {
		due, err := r.store.ListDueDeletions(ctx, r.now(), r.BatchSize)
		if err != nil {
			return result, err
		}
		if len(due) == 0 {
			return result, nil
		}

		progressed := false
		for _, task := range due {
			deleted, err := r.runOne(ctx, task)
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Failed++
				r.logger.Warn("deferred deletion failed", "path", task.Path, "attempts", task.Attempts+1, "error", err)
				if retryErr := r.store.RetryDeletion(ctx, task.ID, err.Error(), r.now().Add(r.RetryDelay)); retryErr != nil {
					return result, retryErr
				}
				continue
			}
			progressed = true
			if deleted {
				result.Deleted++
			} else {
				result.Skipped++
			}
		}
		// Failed tasks were pushed into the future, so a batch made only of
		// failures cannot be listed again; a short batch means the queue is
		// drained.
		if !progressed || len(due) < r.BatchSize || r.BatchSize <= 0 {
			return result, nil
		}
	}
}

func (r *Runner) runOne(ctx context.Context, task store.DeferredDeletion) (bool, error) {
	held, err := lock.Acquire(ctx, r.locker, lock.UploadKey(task.Checksum), r.LockLease, r.LockTimeout)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("release deletion lock failed", "checksum", task.Checksum, "error", err)
		}
	}()

	// A re-upload between row deletion and now may have reused the path.
	inUse, err := r.store.BlobPathInUse(ctx, task.Checksum, task.Path)
	if err != nil {
		return false, err
	}
	deleted := false
	if inUse {
		r.logger.Debug("skipping deletion of live blob path", "path", task.Path, "checksum", task.Checksum)
	} else {
		if err := r.backend.Delete(ctx, task.Path); err != nil {
			return false, err
		}
		deleted = true
	}
	if err := r.store.CompleteDeletion(ctx, task.ID); err != nil {
		return false, err
	}
	return deleted, nil
}

// Run calls RunDue every interval until ctx is done.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("deletion poll interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := r.RunDue(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("deferred deletion pass failed", "error", err)
		} else if result.Deleted+result.Skipped+result.Failed > 0 {
			r.logger.Info("deferred deletion pass", "deleted", result.Deleted, "skipped", result.Skipped, "failed", result.Failed)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
