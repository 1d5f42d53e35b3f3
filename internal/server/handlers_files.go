package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"chunkstore/internal/api"
	"chunkstore/internal/checksum"
	"chunkstore/internal/filestore"
	"chunkstore/internal/models"
)

const defaultFileType = "default"

// handleAssemble assembles a file from chunks named by checksum. Missing
// chunks and checksum failures are reported through the state field; only
// request and infrastructure errors use error statuses.
func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req api.AssembleRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("name is required"), ErrCodeMissingRequired))
		return
	}
	if !checksum.Valid(req.Checksum) {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("invalid checksum %q", req.Checksum), ErrCodeInvalidChecksum))
		return
	}
	if err := requireChecksums(req.Chunks); err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	fileType := req.Type
	if strings.TrimSpace(fileType) == "" {
		fileType = defaultFileType
	}
	fileType, err := models.ParseFileType(fileType)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidType))
		return
	}

	ctx := r.Context()
	blobIDs, missing, err := s.files.ResolveChecksums(ctx, req.Chunks)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if len(missing) > 0 {
		s.writeJSON(w, http.StatusOK, api.AssembleResponse{State: models.ChunkStateNotFound, MissingChunks: missing})
		return
	}

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers[models.ChunkStateHeader] = string(models.ChunkStateAssembling)
	file, err := s.files.CreateFile(ctx, name, fileType, headers)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	tmp, err := s.files.AssembleFromBlobIDs(ctx, file, blobIDs, req.Checksum)
	if err != nil {
		if stateErr := s.files.SetChunkState(context.WithoutCancel(ctx), file, models.ChunkStateError); stateErr != nil {
			s.log().Error("record assemble failure", "file_id", file.ID, "error", stateErr)
		}
		if errors.Is(err, filestore.ErrChecksumMismatch) || errors.Is(err, filestore.ErrBlobNotFound) {
			s.writeJSON(w, http.StatusOK, api.AssembleResponse{State: models.ChunkStateError, Detail: err.Error(), File: file})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	_ = tmp.Close()
	_ = os.Remove(tmp.Name())

	if err := s.files.SetChunkState(ctx, file, models.ChunkStateOK); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.log().Info("file assembled", "file_id", file.ID, "name", file.Name, "chunks", len(blobIDs), "size", file.Size)
	s.writeJSON(w, http.StatusOK, api.AssembleResponse{State: models.ChunkStateOK, File: file})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	files, err := s.store.ListFiles(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathFileIDOrBadRequest(w, r)
	if !ok {
		return
	}
	file, err := s.files.GetFile(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	index, err := s.files.Index(r.Context(), file)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FileResponse{File: *file, Index: index})
}

// handleFileContent streams a file through a chunked reader. Range requests
// seek the reader; prefetch=true downloads all chunks in parallel first.
func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathFileIDOrBadRequest(w, r)
	if !ok {
		return
	}
	prefetch, err := queryBool(r, "prefetch")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	file, err := s.files.GetFile(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	reader, err := s.files.Open(ctx, file, filestore.OpenOptions{Prefetch: prefetch})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if file.Checksum != "" {
		w.Header().Set("ETag", `"`+file.Checksum+`"`)
	}
	http.ServeContent(w, r, file.Name, file.CreatedAt, reader)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathFileIDOrBadRequest(w, r)
	if !ok {
		return
	}
	if err := s.files.DeleteFile(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
