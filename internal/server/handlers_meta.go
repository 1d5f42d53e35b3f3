package server

import (
	"net/http"

	"chunkstore/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.StoreInfo(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := api.InfoResponse{
		SchemaVersion:    info.SchemaVersion,
		StorageBackend:   s.storageBackend,
		BlobSize:         s.files.Options().BlobSize,
		BlobCount:        info.BlobCount,
		BlobBytes:        info.BlobBytes,
		FileCount:        info.FileCount,
		LogicalBytes:     info.LogicalBytes,
		PendingDeletions: info.PendingDeletions,
	}

	s.writeJSON(w, http.StatusOK, resp)
}
