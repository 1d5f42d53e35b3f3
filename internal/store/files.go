package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chunkstore/internal/models"
)

const fileColumns = "id, name, type, headers_json, size, checksum, created_at"

// indexInsertBatchSize keeps multi-row inserts well under SQLite's bound parameter limit.
const indexInsertBatchSize = 500

// CreateFile inserts a file row. The id is generated when empty.
func (s *Store) CreateFile(ctx context.Context, file *models.File) error {
	if file == nil {
		return fmt.Errorf("file is required")
	}
	if strings.TrimSpace(file.Name) == "" {
		return fmt.Errorf("file name is required")
	}
	if strings.TrimSpace(file.ID) == "" {
		generated, err := GenerateFileID(func(id string) (bool, error) {
			return rowExists(ctx, s.db, "SELECT 1 FROM files WHERE id = ? LIMIT 1", id)
		})
		if err != nil {
			return err
		}
		file.ID = generated
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}

	headersJSON, err := headersToJSON(file.Headers)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO files (id, name, type, headers_json, size, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, file.ID, file.Name, file.Type, headersJSON, file.Size, nullIfEmpty(file.Checksum), formatTime(file.CreatedAt))
	return err
}

// GetFile returns one file by id, or nil when absent.
func (s *Store) GetFile(ctx context.Context, id string) (*models.File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	return scanFile(row)
}

// ListFiles lists files ordered by created_at descending.
func (s *Store) ListFiles(ctx context.Context, limit int) ([]models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []models.File{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		if file != nil {
			files = append(files, *file)
		}
	}
	return files, rows.Err()
}

// UpdateFileContent records the assembled size and checksum of a file.
func (s *Store) UpdateFileContent(ctx context.Context, id string, size int64, checksum string) error {
	return updateFileContent(ctx, s.db, id, size, checksum)
}

// UpdateFileHeaders replaces the headers of a file.
func (s *Store) UpdateFileHeaders(ctx context.Context, id string, headers map[string]string) error {
	headersJSON, err := headersToJSON(headers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "UPDATE files SET headers_json = ? WHERE id = ?", headersJSON, id)
	return err
}

// DeleteFile deletes a file row; its index rows cascade.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	return err
}

// CreateFileBlobIndexes persists index rows for one file.
func (s *Store) CreateFileBlobIndexes(ctx context.Context, entries []models.FileBlobIndex) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := insertFileBlobIndexes(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

// ListFileBlobIndexes returns index rows for a file ordered by offset with blob metadata joined.
func (s *Store) ListFileBlobIndexes(ctx context.Context, fileID string) ([]models.FileBlobIndex, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.file_id, i.byte_offset, b.id, b.checksum, b.size, b.path, b.created_at
		FROM file_blob_index i
		JOIN blobs b ON b.id = i.blob_id
		WHERE i.file_id = ?
		ORDER BY i.byte_offset ASC`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.FileBlobIndex{}
	for rows.Next() {
		var entry models.FileBlobIndex
		var blob models.Blob
		var path sql.NullString
		var createdAt string
		if err := rows.Scan(&entry.FileID, &entry.Offset, &blob.ID, &blob.Checksum, &blob.Size, &path, &createdAt); err != nil {
			return nil, err
		}
		blob.Path = path.String
		parsed, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		blob.CreatedAt = parsed
		entry.BlobID = blob.ID
		entry.Blob = &blob
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetBlobsByIDs returns the blobs matching ids inside the transaction.
func (t *Tx) GetBlobsByIDs(ctx context.Context, ids []string) ([]models.Blob, error) {
	return getBlobsByIDs(ctx, t.tx, ids)
}

// CreateFileBlobIndexes persists index rows inside the transaction.
func (t *Tx) CreateFileBlobIndexes(ctx context.Context, entries []models.FileBlobIndex) error {
	return insertFileBlobIndexes(ctx, t.tx, entries)
}

// UpdateFileContent records size and checksum inside the transaction.
func (t *Tx) UpdateFileContent(ctx context.Context, id string, size int64, checksum string) error {
	return updateFileContent(ctx, t.tx, id, size, checksum)
}

func insertFileBlobIndexes(ctx context.Context, q querier, entries []models.FileBlobIndex) error {
	for start := 0; start < len(entries); start += indexInsertBatchSize {
		end := min(start+indexInsertBatchSize, len(entries))
		batch := entries[start:end]
		values := make([]string, len(batch))
		args := make([]any, 0, len(batch)*3)
		for i, entry := range batch {
			if entry.Offset < 0 {
				return fmt.Errorf("index offset must be >= 0")
			}
			values[i] = "(?, ?, ?)"
			args = append(args, entry.FileID, entry.BlobID, entry.Offset)
		}
		if _, err := q.ExecContext(ctx, "INSERT INTO file_blob_index (file_id, blob_id, byte_offset) VALUES "+strings.Join(values, ","), args...); err != nil {
			return err
		}
	}
	return nil
}

func updateFileContent(ctx context.Context, q querier, id string, size int64, checksum string) error {
	res, err := q.ExecContext(ctx, "UPDATE files SET size = ?, checksum = ? WHERE id = ?", size, nullIfEmpty(checksum), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("file %s not found", id)
	}
	return nil
}

func scanFile(scanner interface {
	Scan(dest ...any) error
}) (*models.File, error) {
	file := models.File{}
	var headersJSON, checksum sql.NullString
	var size sql.NullInt64
	var createdAt string

	err := scanner.Scan(&file.ID, &file.Name, &file.Type, &headersJSON, &size, &checksum, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	file.Size = size.Int64
	file.Checksum = checksum.String

	parsedCreated, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	file.CreatedAt = parsedCreated

	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &file.Headers); err != nil {
			return nil, fmt.Errorf("parse file headers_json: %w", err)
		}
	}
	return &file, nil
}

func headersToJSON(headers map[string]string) (any, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("marshal file headers_json: %w", err)
	}
	return string(data), nil
}
