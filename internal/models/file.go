package models

import "time"

// File is a logical named byte sequence assembled from blobs.
type File struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Type      string            `json:"type" yaml:"type"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Size      int64             `json:"size" yaml:"size"`
	Checksum  string            `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
}

// FileBlobIndex places one blob at a byte offset inside a file.
type FileBlobIndex struct {
	FileID string `json:"file_id" yaml:"file_id"`
	BlobID string `json:"blob_id" yaml:"blob_id"`
	Offset int64  `json:"offset" yaml:"offset"`

	// Blob is populated by queries that join blob metadata.
	Blob *Blob `json:"blob,omitempty" yaml:"blob,omitempty"`
}

// End returns the first offset after this entry's content.
func (i FileBlobIndex) End() int64 {
	if i.Blob == nil {
		return i.Offset
	}
	return i.Offset + i.Blob.Size
}
