package api

import "chunkstore/internal/models"

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// InfoResponse describes the server's store.
type InfoResponse struct {
	SchemaVersion    int    `json:"schema_version"`
	StorageBackend   string `json:"storage_backend"`
	BlobSize         int64  `json:"blob_size"`
	BlobCount        int    `json:"blob_count"`
	BlobBytes        int64  `json:"blob_bytes"`
	FileCount        int    `json:"file_count"`
	LogicalBytes     int64  `json:"logical_bytes"`
	PendingDeletions int    `json:"pending_deletions"`
}

// ChunkUploadResponse lists the blobs stored for an upload, one per part in
// request order.
type ChunkUploadResponse struct {
	Blobs []models.Blob `json:"blobs"`
}

// MissingChunksRequest asks which checksums have no stored blob.
type MissingChunksRequest struct {
	Checksums []string `json:"checksums"`
}

// MissingChunksResponse lists checksums the client still has to upload.
type MissingChunksResponse struct {
	Missing []string `json:"missing"`
}

// AssembleRequest assembles a file from uploaded chunks, named by checksum,
// in file order.
type AssembleRequest struct {
	Name     string            `json:"name"`
	Type     string            `json:"type,omitempty"`
	Checksum string            `json:"checksum"`
	Headers  map[string]string `json:"headers,omitempty"`
	Chunks   []string          `json:"chunks"`
}

// AssembleResponse reports the assembly state. MissingChunks is set when the
// state is not_found; Detail carries the reason for the error state.
type AssembleResponse struct {
	State         models.ChunkFileState `json:"state"`
	MissingChunks []string              `json:"missing_chunks,omitempty"`
	Detail        string                `json:"detail,omitempty"`
	File          *models.File          `json:"file,omitempty"`
}

// FileResponse is a file with its blob index.
type FileResponse struct {
	File  models.File            `json:"file"`
	Index []models.FileBlobIndex `json:"index"`
}

// BlobGCRequest triggers a GC sweep.
type BlobGCRequest struct {
	Apply     bool `json:"apply"`
	BatchSize int  `json:"batch_size,omitempty"`
}

// BlobGCResponse summarizes a GC sweep.
type BlobGCResponse struct {
	DryRun         bool  `json:"dry_run"`
	CandidateCount int   `json:"candidate_count"`
	DeletedCount   int   `json:"deleted_count"`
	FailedCount    int   `json:"failed_count"`
	ReclaimedBytes int64 `json:"reclaimed_bytes"`
}
