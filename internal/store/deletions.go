package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DeferredDeletion is a queued request to remove backend bytes.
type DeferredDeletion struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	RunAfter  time.Time `json:"run_after"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EnqueueDeletion schedules deletion of path no earlier than runAfter.
func (s *Store) EnqueueDeletion(ctx context.Context, path, checksum string, runAfter time.Time) (int64, error) {
	return enqueueDeletion(ctx, s.db, path, checksum, runAfter)
}

// EnqueueDeletion schedules a deletion inside the transaction.
func (t *Tx) EnqueueDeletion(ctx context.Context, path, checksum string, runAfter time.Time) (int64, error) {
	return enqueueDeletion(ctx, t.tx, path, checksum, runAfter)
}

func enqueueDeletion(ctx context.Context, q querier, path, checksum string, runAfter time.Time) (int64, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, fmt.Errorf("deletion path is required")
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO deferred_deletions (path, checksum, run_after, created_at)
		VALUES (?, ?, ?, ?)
	`, path, strings.ToLower(strings.TrimSpace(checksum)), runAfter.UnixNano(), formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListDueDeletions returns queued deletions whose run_after is at or before now.
func (s *Store) ListDueDeletions(ctx context.Context, now time.Time, limit int) ([]DeferredDeletion, error) {
	query := `
		SELECT id, path, checksum, run_after, attempts, last_error, created_at
		FROM deferred_deletions
		WHERE run_after <= ?
		ORDER BY run_after ASC, id ASC`
	args := []any{now.UnixNano()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DeferredDeletion{}
	for rows.Next() {
		var d DeferredDeletion
		var runAfter int64
		var lastError sql.NullString
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Path, &d.Checksum, &runAfter, &d.Attempts, &lastError, &createdAt); err != nil {
			return nil, err
		}
		d.RunAfter = time.Unix(0, runAfter).UTC()
		d.LastError = lastError.String
		parsed, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		d.CreatedAt = parsed
		out = append(out, d)
	}
	return out, rows.Err()
}

// CompleteDeletion removes a finished deletion from the queue.
func (s *Store) CompleteDeletion(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM deferred_deletions WHERE id = ?", id)
	return err
}

// RetryDeletion records a failed attempt and reschedules it.
func (s *Store) RetryDeletion(ctx context.Context, id int64, cause string, runAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deferred_deletions
		SET attempts = attempts + 1, last_error = ?, run_after = ?
		WHERE id = ?
	`, nullIfEmpty(cause), runAfter.UnixNano(), id)
	return err
}

// CountPendingDeletions returns the queue length.
func (s *Store) CountPendingDeletions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deferred_deletions").Scan(&count)
	return count, err
}
