package server

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"chunkstore/internal/api"
	"chunkstore/internal/checksum"
	"chunkstore/internal/filestore"
	"chunkstore/internal/models"
)

const (
	chunkUploadMaxBody   = 256 << 20 // 256 MiB
	chunkMultipartMemory = 32 << 20  // 32 MiB
	maxChunksPerRequest  = 64
	maxMissingChecksums  = 10000
)

// handleChunkUpload stores every "file" part of a multipart body as a blob.
// A part filename that is a valid SHA-1 digest is the expected checksum.
func (s *Server) handleChunkUpload(w http.ResponseWriter, r *http.Request) {
	s.withLimiter(w, r, s.uploadLimiter, "upload", func() {
		r.Body = http.MaxBytesReader(w, r.Body, chunkUploadMaxBody)
		if err := r.ParseMultipartForm(chunkMultipartMemory); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("request body too large"), ErrCodeRequestTooLarge))
				return
			}
			s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("invalid multipart form: %w", err), ErrCodeInvalidMultipart))
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()

		headers := r.MultipartForm.File["file"]
		if len(headers) == 0 {
			s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("at least one file part is required"), ErrCodeMissingRequired))
			return
		}
		if len(headers) > maxChunksPerRequest {
			s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("at most %d chunks per request", maxChunksPerRequest), ErrCodeRequestTooLarge))
			return
		}

		sources := make([]filestore.Source, 0, len(headers))
		parts := make([]multipart.File, 0, len(headers))
		defer func() {
			for _, part := range parts {
				_ = part.Close()
			}
		}()
		for _, header := range headers {
			part, err := header.Open()
			if err != nil {
				s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("open chunk %q: %w", header.Filename, err), ErrCodeInvalidMultipart))
				return
			}
			parts = append(parts, part)

			var sum string
			if checksum.Valid(header.Filename) {
				sum = checksum.Normalize(header.Filename)
			}
			sources = append(sources, filestore.Source{Reader: part, Checksum: sum})
		}

		owner := strings.TrimSpace(r.FormValue("owner"))
		blobs, err := s.files.FromFiles(r.Context(), sources, owner)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}

		resp := api.ChunkUploadResponse{Blobs: make([]models.Blob, 0, len(blobs))}
		for _, blob := range blobs {
			resp.Blobs = append(resp.Blobs, *blob)
		}
		s.log().Debug("chunks uploaded", "parts", len(headers), "owner", owner)
		s.writeJSON(w, http.StatusOK, resp)
	})
}

func (s *Server) handleMissingChunks(w http.ResponseWriter, r *http.Request) {
	var req api.MissingChunksRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if len(req.Checksums) > maxMissingChecksums {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("at most %d checksums per request", maxMissingChecksums), ErrCodeRequestTooLarge))
		return
	}
	if err := requireChecksums(req.Checksums); err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}

	_, missing, err := s.files.ResolveChecksums(r.Context(), req.Checksums)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	s.writeJSON(w, http.StatusOK, api.MissingChunksResponse{Missing: missing})
}

func requireChecksums(sums []string) error {
	if len(sums) == 0 {
		return badRequestCode(fmt.Errorf("checksums are required"), ErrCodeMissingRequired)
	}
	for _, sum := range sums {
		if !checksum.Valid(sum) {
			return badRequestCode(fmt.Errorf("invalid checksum %q", sum), ErrCodeInvalidChecksum)
		}
	}
	return nil
}
