package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check and info.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/info", s.handleInfo)

	// Chunk upload.
	mux.HandleFunc("POST /v1/chunk-upload", s.handleChunkUpload)
	mux.HandleFunc("POST /v1/chunk-upload/missing", s.handleMissingChunks)

	// Files.
	mux.HandleFunc("POST /v1/files/assemble", s.handleAssemble)
	mux.HandleFunc("GET /v1/files", s.handleListFiles)
	mux.HandleFunc("GET /v1/files/{id}", s.handleGetFile)
	mux.HandleFunc("GET /v1/files/{id}/content", s.handleFileContent)
	mux.HandleFunc("DELETE /v1/files/{id}", s.handleDeleteFile)

	// Admin.
	mux.HandleFunc("DELETE /v1/admin/blobs/{checksum}", s.handleAdminDeleteBlob)
	mux.HandleFunc("POST /v1/admin/gc-blobs", s.handleAdminGCBlobs)

	return mux
}
