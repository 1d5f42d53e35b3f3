package server

import (
	"fmt"
	"net/http"
	"strings"

	"chunkstore/internal/api"
	"chunkstore/internal/checksum"
)

func (s *Server) handleAdminDeleteBlob(w http.ResponseWriter, r *http.Request) {
	sum := strings.TrimSpace(r.PathValue("checksum"))
	if !checksum.Valid(sum) {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("invalid checksum %q", sum), ErrCodeInvalidChecksum))
		return
	}
	blob, err := s.files.DeleteBlobByChecksum(r.Context(), sum)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.log().Info("blob deleted", "checksum", blob.Checksum, "blob_id", blob.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminGCBlobs(w http.ResponseWriter, r *http.Request) {
	var req api.BlobGCRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if req.BatchSize < 0 {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequest(fmt.Errorf("batch_size must be >= 0")))
		return
	}
	if req.Apply && r.Header.Get("X-Confirm") != "true" {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("apply requires X-Confirm: true header"), ErrCodeMissingRequired))
		return
	}

	s.withLimiter(w, r, s.gcLimiter, "gc", func() {
		result, err := s.files.GCBlobs(r.Context(), req.BatchSize, req.Apply)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.BlobGCResponse{
			DryRun:         result.DryRun,
			CandidateCount: result.CandidateCount,
			DeletedCount:   result.DeletedCount,
			FailedCount:    result.FailedCount,
			ReclaimedBytes: result.ReclaimedBytes,
		})
	})
}
