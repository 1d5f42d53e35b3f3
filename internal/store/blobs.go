package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chunkstore/internal/models"
)

const blobColumns = "id, checksum, size, path, created_at"

// ErrDuplicateChecksum is returned when a blob row already exists for a checksum.
var ErrDuplicateChecksum = errors.New("blob checksum already exists")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateBlob inserts a new blob row. The id is generated when empty.
func (s *Store) CreateBlob(ctx context.Context, blob *models.Blob) error {
	if blob == nil {
		return fmt.Errorf("blob is required")
	}
	blob.Checksum = strings.ToLower(strings.TrimSpace(blob.Checksum))
	blob.Path = strings.TrimSpace(blob.Path)
	if blob.Checksum == "" {
		return fmt.Errorf("checksum is required")
	}
	if blob.Size < 0 {
		return fmt.Errorf("size must be >= 0")
	}

	if strings.TrimSpace(blob.ID) == "" {
		generated, err := GenerateBlobID(func(id string) (bool, error) {
			return rowExists(ctx, s.db, "SELECT 1 FROM blobs WHERE id = ? LIMIT 1", id)
		})
		if err != nil {
			return err
		}
		blob.ID = generated
	}
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (id, checksum, size, path, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, blob.ID, blob.Checksum, blob.Size, nullIfEmpty(blob.Path), formatTime(blob.CreatedAt))
	if err != nil {
		if isUniqueConstraint(err, "blobs.checksum") {
			return fmt.Errorf("%w: %s", ErrDuplicateChecksum, blob.Checksum)
		}
		return err
	}
	return nil
}

// GetBlob returns one blob by id, or nil when absent.
func (s *Store) GetBlob(ctx context.Context, id string) (*models.Blob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE id = ?`, id)
	return scanBlob(row)
}

// GetBlobByChecksum returns one blob by checksum, or nil when absent.
func (s *Store) GetBlobByChecksum(ctx context.Context, checksum string) (*models.Blob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE checksum = ?`, strings.ToLower(strings.TrimSpace(checksum)))
	return scanBlob(row)
}

// GetBlobsByIDs returns the blobs matching ids in storage order.
func (s *Store) GetBlobsByIDs(ctx context.Context, ids []string) ([]models.Blob, error) {
	return getBlobsByIDs(ctx, s.db, ids)
}

// DeleteBlob deletes one blob row by id.
func (s *Store) DeleteBlob(ctx context.Context, id string) error {
	return deleteBlob(ctx, s.db, id)
}

// DeleteBlob deletes one blob row inside the transaction.
func (t *Tx) DeleteBlob(ctx context.Context, id string) error {
	return deleteBlob(ctx, t.tx, id)
}

func deleteBlob(ctx context.Context, q querier, id string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", id)
	return err
}

// BlobPathInUse reports whether a live blob row still points at path.
func (s *Store) BlobPathInUse(ctx context.Context, checksum, path string) (bool, error) {
	return rowExists(ctx, s.db, "SELECT 1 FROM blobs WHERE checksum = ? AND path = ? LIMIT 1", strings.ToLower(strings.TrimSpace(checksum)), path)
}

// EnsureBlobOwner records owner as a user of blob. Existing pairs are left untouched.
func (s *Store) EnsureBlobOwner(ctx context.Context, blobID, owner string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return fmt.Errorf("owner is required")
	}
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO blob_owners (blob_id, owner) VALUES (?, ?)", blobID, owner)
	return err
}

// ListBlobOwners lists owners of one blob.
func (s *Store) ListBlobOwners(ctx context.Context, blobID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT owner FROM blob_owners WHERE blob_id = ? ORDER BY owner ASC", blobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// ListUnreferencedBlobs returns blobs no file index row points at, created
// before cutoff. A zero cutoff disables the age filter.
func (s *Store) ListUnreferencedBlobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Blob, error) {
	query := `
		SELECT b.id, b.checksum, b.size, b.path, b.created_at
		FROM blobs b
		LEFT JOIN file_blob_index i ON i.blob_id = b.id
		WHERE i.blob_id IS NULL`
	args := []any{}
	if !cutoff.IsZero() {
		query += " AND b.created_at < ?"
		args = append(args, formatTime(cutoff))
	}
	query += " ORDER BY b.created_at ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBlobRows(rows)
}

func getBlobsByIDs(ctx context.Context, q querier, ids []string) ([]models.Blob, error) {
	if len(ids) == 0 {
		return []models.Blob{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBlobRows(rows)
}

func rowExists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, query, args...).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanBlobRows(rows *sql.Rows) ([]models.Blob, error) {
	blobs := []models.Blob{}
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		if blob != nil {
			blobs = append(blobs, *blob)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blobs, nil
}

func scanBlob(scanner interface {
	Scan(dest ...any) error
}) (*models.Blob, error) {
	blob := models.Blob{}
	var path sql.NullString
	var createdAt string

	err := scanner.Scan(&blob.ID, &blob.Checksum, &blob.Size, &path, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	blob.Path = path.String

	parsedCreated, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	blob.CreatedAt = parsedCreated

	return &blob, nil
}

func isUniqueConstraint(err error, target string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: "+target)
}
