package filestore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"chunkstore/internal/checksum"
	"chunkstore/internal/models"
	"chunkstore/internal/store"
)

// OpenOptions controls how Open reads a file.
type OpenOptions struct {
	// Prefetch fetches all blobs into a temp file before the first read.
	Prefetch bool
	// PrefetchDir overrides where the temp file is created.
	PrefetchDir string
	// KeepTempFile leaves the prefetch temp file in place on Close.
	KeepTempFile bool
}

// CreateFile registers an empty file. Content is attached with PutFile or
// AssembleFromBlobIDs.
func (s *Service) CreateFile(ctx context.Context, name, fileType string, headers map[string]string) (*models.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}
	fileType, err := models.ParseFileType(fileType)
	if err != nil {
		return nil, err
	}
	file := &models.File{Name: name, Type: fileType, Headers: headers, CreatedAt: s.now().UTC()}
	if err := s.store.CreateFile(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}

// GetFile returns a file by id.
func (s *Service) GetFile(ctx context.Context, id string) (*models.File, error) {
	file, err := s.store.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return file, nil
}

// SetChunkState records the assembly state in the file headers.
func (s *Service) SetChunkState(ctx context.Context, file *models.File, state models.ChunkFileState) error {
	headers := make(map[string]string, len(file.Headers)+1)
	for k, v := range file.Headers {
		headers[k] = v
	}
	headers[models.ChunkStateHeader] = string(state)
	if err := s.store.UpdateFileHeaders(ctx, file.ID, headers); err != nil {
		return err
	}
	file.Headers = headers
	return nil
}

// PutFile splits r into blobSize chunks, stores each through FromFile, and
// indexes them at cumulative offsets. A non-positive blobSize uses the
// configured default. The index rows and the file's size and checksum are
// written in one transaction.
func (s *Service) PutFile(ctx context.Context, file *models.File, r io.Reader, blobSize int64) ([]models.FileBlobIndex, error) {
	if file == nil {
		return nil, fmt.Errorf("file is required")
	}
	if r == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if blobSize <= 0 {
		blobSize = s.opts.BlobSize
	}

	hash := sha1.New()
	buf := make([]byte, blobSize)
	entries := []models.FileBlobIndex{}
	var offset int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := buf[:n]
			hash.Write(chunk)
			blob, putErr := s.FromFile(ctx, bytes.NewReader(chunk))
			if putErr != nil {
				return nil, putErr
			}
			entries = append(entries, models.FileBlobIndex{FileID: file.ID, BlobID: blob.ID, Offset: offset, Blob: blob})
			offset += blob.Size
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateFileBlobIndexes(ctx, entries); err != nil {
			return err
		}
		return tx.UpdateFileContent(ctx, file.ID, offset, sum)
	})
	if err != nil {
		return nil, fmt.Errorf("index file %s: %w", file.ID, err)
	}
	file.Size = offset
	file.Checksum = sum
	return entries, nil
}

// AssembleFromBlobIDs builds file from existing blobs in the given order and
// verifies the whole-file checksum. On success the index rows and the file's
// size and checksum are committed and the assembled content is returned as
// a temp file positioned at the start; the caller owns closing and removing
// it. On mismatch nothing is committed and ErrChecksumMismatch is returned.
//
// Blob bytes are streamed outside the metadata transaction. The transaction
// re-reads the blobs and fails with ErrBlobNotFound if any was
// deleted in the meantime.
func (s *Service) AssembleFromBlobIDs(ctx context.Context, file *models.File, blobIDs []string, expectedChecksum string) (*os.File, error) {
	if file == nil {
		return nil, fmt.Errorf("file is required")
	}
	expected := checksum.Normalize(expectedChecksum)
	unique := uniqueIDs(blobIDs)

	blobs, err := s.store.GetBlobsByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Blob, len(blobs))
	for i := range blobs {
		byID[blobs[i].ID] = &blobs[i]
	}

	tmp, err := os.CreateTemp(s.opts.PrefetchDir, "assemble-")
	if err != nil {
		return nil, err
	}
	discardTemp := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	fail := func(err error) (*os.File, error) {
		discardTemp()
		return nil, err
	}

	hash := sha1.New()
	out := io.MultiWriter(tmp, hash)
	entries := make([]models.FileBlobIndex, 0, len(blobIDs))
	var size int64
	for _, id := range blobIDs {
		blob, ok := byID[id]
		if !ok {
			return fail(fmt.Errorf("%w: %s", ErrBlobNotFound, id))
		}
		entries = append(entries, models.FileBlobIndex{FileID: file.ID, BlobID: blob.ID, Offset: size})
		if err := s.copyBlob(ctx, out, blob); err != nil {
			return fail(err)
		}
		size += blob.Size
	}
	sum := hex.EncodeToString(hash.Sum(nil))
	if expected != sum {
		return fail(fmt.Errorf("%w: expected %s, assembled %s", ErrChecksumMismatch, expected, sum))
	}

	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		current, err := tx.GetBlobsByIDs(ctx, unique)
		if err != nil {
			return err
		}
		live := make(map[string]struct{}, len(current))
		for _, blob := range current {
			live[blob.ID] = struct{}{}
		}
		for _, id := range unique {
			if _, ok := live[id]; !ok {
				return fmt.Errorf("%w: %s was deleted during assembly", ErrBlobNotFound, id)
			}
		}
		if err := tx.CreateFileBlobIndexes(ctx, entries); err != nil {
			return err
		}
		return tx.UpdateFileContent(ctx, file.ID, size, sum)
	})
	if err != nil {
		return fail(err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	file.Size = size
	file.Checksum = sum
	return tmp, nil
}

func (s *Service) copyBlob(ctx context.Context, dst io.Writer, blob *models.Blob) error {
	if blob.Path == "" {
		return fmt.Errorf("%w: %s has no stored bytes", ErrBlobNotFound, blob.ID)
	}
	src, err := s.backend.Open(ctx, blob.Path)
	if err != nil {
		return fmt.Errorf("open blob %s: %w", blob.ID, err)
	}
	defer src.Close()
	n, err := io.CopyBuffer(dst, src, make([]byte, checksum.ReadSize))
	if err != nil {
		return fmt.Errorf("copy blob %s: %w", blob.ID, err)
	}
	if n != blob.Size {
		return fmt.Errorf("blob %s is %d bytes, recorded %d", blob.ID, n, blob.Size)
	}
	return nil
}

// Open returns a reader over file's content.
func (s *Service) Open(ctx context.Context, file *models.File, opts OpenOptions) (*ChunkedReader, error) {
	if file == nil {
		return nil, fmt.Errorf("file is required")
	}
	entries, err := s.store.ListFileBlobIndexes(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	if !opts.Prefetch {
		return NewChunkedReader(ctx, s.backend, entries)
	}
	dir := opts.PrefetchDir
	if dir == "" {
		dir = s.opts.PrefetchDir
	}
	return NewPrefetchedReader(ctx, s.backend, entries, dir, s.opts.PrefetchWorkers, opts.KeepTempFile)
}

// OpenTempFile prefetches file into a temp file and hands it to the caller,
// who owns closing and removing it.
func (s *Service) OpenTempFile(ctx context.Context, file *models.File) (*os.File, error) {
	r, err := s.Open(ctx, file, OpenOptions{Prefetch: true, KeepTempFile: true})
	if err != nil {
		return nil, err
	}
	return r.DetachTempFile()
}

// SaveTo writes file's content to dest atomically: it is prefetched next to
// dest and renamed into place. Missing parent directories are created.
func (s *Service) SaveTo(ctx context.Context, file *models.File, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	r, err := s.Open(ctx, file, OpenOptions{Prefetch: true, PrefetchDir: dir, KeepTempFile: true})
	if err != nil {
		return err
	}
	f, err := r.DetachTempFile()
	if err != nil {
		_ = r.Close()
		return err
	}
	tmpPath := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// DeleteFile removes a file and its index rows. Blobs are left for GC.
func (s *Service) DeleteFile(ctx context.Context, id string) error {
	if _, err := s.GetFile(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteFile(ctx, id)
}

// Index returns file's index rows ordered by offset.
func (s *Service) Index(ctx context.Context, file *models.File) ([]models.FileBlobIndex, error) {
	return s.store.ListFileBlobIndexes(ctx, file.ID)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
