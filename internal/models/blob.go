package models

import "time"

// Blob is an immutable, content-addressed chunk of bytes.
type Blob struct {
	ID        string    `json:"id" yaml:"id"`
	Checksum  string    `json:"checksum" yaml:"checksum"`
	Size      int64     `json:"size" yaml:"size"`
	Path      string    `json:"path,omitempty" yaml:"path,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// BlobOwner records that an owner scope uses a blob.
type BlobOwner struct {
	BlobID string `json:"blob_id" yaml:"blob_id"`
	Owner  string `json:"owner" yaml:"owner"`
}
