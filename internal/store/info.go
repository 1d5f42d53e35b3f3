package store

import "context"

// StoreInfo summarizes database contents.
type StoreInfo struct {
	SchemaVersion    int   `json:"schema_version" yaml:"schema_version"`
	BlobCount        int   `json:"blob_count" yaml:"blob_count"`
	BlobBytes        int64 `json:"blob_bytes" yaml:"blob_bytes"`
	FileCount        int   `json:"file_count" yaml:"file_count"`
	LogicalBytes     int64 `json:"logical_bytes" yaml:"logical_bytes"`
	PendingDeletions int   `json:"pending_deletions" yaml:"pending_deletions"`
}

// StoreInfo returns counts and byte totals for blobs and files.
func (s *Store) StoreInfo(ctx context.Context) (*StoreInfo, error) {
	info := &StoreInfo{}

	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&info.SchemaVersion); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(size), 0) FROM blobs").Scan(&info.BlobCount, &info.BlobBytes); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files").Scan(&info.FileCount, &info.LogicalBytes); err != nil {
		return nil, err
	}
	pending, err := s.CountPendingDeletions(ctx)
	if err != nil {
		return nil, err
	}
	info.PendingDeletions = pending
	return info, nil
}
