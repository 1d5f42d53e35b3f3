package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"chunkstore/internal/api"
	"chunkstore/internal/auth"
	"chunkstore/internal/blobstore"
	"chunkstore/internal/checksum"
	"chunkstore/internal/deferred"
	"chunkstore/internal/filestore"
	"chunkstore/internal/lock"
	"chunkstore/internal/models"
	"chunkstore/internal/store"
)

func TestListenAddrRemoteGuard(t *testing.T) {
	t.Run("allows loopback", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "")
		addr, err := ListenAddr("http://127.0.0.1:7433")
		if err != nil {
			t.Fatalf("expected loopback to be allowed, got error: %v", err)
		}
		if addr != "127.0.0.1:7433" {
			t.Fatalf("unexpected addr: %s", addr)
		}
	})

	t.Run("blocks non-loopback by default", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "")
		_, err := ListenAddr("http://0.0.0.0:7433")
		if err == nil {
			t.Fatal("expected error for non-loopback listen host")
		}
	})

	t.Run("allows non-loopback when explicitly enabled", func(t *testing.T) {
		t.Setenv(allowRemoteEnvKey, "true")
		addr, err := ListenAddr("http://0.0.0.0:7433")
		if err != nil {
			t.Fatalf("expected allow-remote to permit host, got error: %v", err)
		}
		if addr != "0.0.0.0:7433" {
			t.Fatalf("unexpected addr: %s", addr)
		}
	})
}

func TestWithAuth(t *testing.T) {
	noContent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("denies missing auth", func(t *testing.T) {
		srv := &Server{apiToken: auth.NewVerifier("token")}
		nextCalled := false
		handler := srv.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nextCalled = true
		}))

		req := httptest.NewRequest(http.MethodGet, "/v1/files", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		assertErrorCode(t, w, ErrCodeUnauthorized)
		if nextCalled {
			t.Fatal("next handler should not be called")
		}
	})

	t.Run("health is always open", func(t *testing.T) {
		srv := &Server{apiToken: auth.NewVerifier("token")}
		handler := srv.withAuth(noContent)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("allows valid auth", func(t *testing.T) {
		srv := &Server{apiToken: auth.NewVerifier("token")}
		handler := srv.withAuth(noContent)

		req := httptest.NewRequest(http.MethodGet, "/v1/files", nil)
		req.Header.Set("Authorization", "Bearer token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("accepts hashed api token", func(t *testing.T) {
		hash, err := auth.HashToken("hashed-api-token")
		if err != nil {
			t.Fatalf("hash token: %v", err)
		}
		srv := &Server{apiToken: auth.NewVerifier(hash)}
		handler := srv.withAuth(noContent)

		req := httptest.NewRequest(http.MethodGet, "/v1/files", nil)
		req.Header.Set("Authorization", "Bearer hashed-api-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}

		req = httptest.NewRequest(http.MethodGet, "/v1/files", nil)
		req.Header.Set("Authorization", "Bearer "+hash)
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected the hash itself to be rejected, got %d", w.Code)
		}
	})

	t.Run("admin routes require admin token when configured", func(t *testing.T) {
		srv := &Server{apiToken: auth.NewVerifier("token"), adminToken: auth.NewVerifier("admintoken")}
		handler := srv.withAuth(noContent)

		req := httptest.NewRequest(http.MethodPost, "/v1/admin/gc-blobs", nil)
		req.Header.Set("Authorization", "Bearer token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
		assertErrorCode(t, w, ErrCodeForbidden)

		req = httptest.NewRequest(http.MethodPost, "/v1/admin/gc-blobs", nil)
		req.Header.Set("Authorization", "Bearer token")
		req.Header.Set("X-Admin-Token", "admintoken")
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})

	t.Run("admin token works without api token", func(t *testing.T) {
		srv := &Server{adminToken: auth.NewVerifier("admintoken")}
		handler := srv.withAuth(noContent)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/files", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected non-admin route to pass, got %d", w.Code)
		}

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/admin/blobs/abc", nil))
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}

		req := httptest.NewRequest(http.MethodDelete, "/v1/admin/blobs/abc", nil)
		req.Header.Set("X-Admin-Token", "admintoken")
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
	})
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	var errResp api.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.ErrorCode != want {
		t.Fatalf("expected error_code %d, got %d", want, errResp.ErrorCode)
	}
}

func newTestClient(t *testing.T) *api.Client {
	t.Helper()
	t.Setenv(apiTokenEnvKey, "")
	t.Setenv(adminTokenEnvKey, "")

	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	files, err := filestore.New(st, blobstore.NewMemory(), lock.NewMemory(), deferred.NewQueue(st), nil, filestore.Options{
		BlobSize:      4,
		PrefetchDir:   t.TempDir(),
		GCGracePeriod: -1,
	})
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	srv := New("127.0.0.1:0", st, files, "memory", nil)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return api.NewClient(httpSrv.URL)
}

func chunksOf(content string, size int) []string {
	var out []string
	for len(content) > size {
		out = append(out, content[:size])
		content = content[size:]
	}
	return append(out, content)
}

func uploadChunks(t *testing.T, client *api.Client, parts []string) []string {
	t.Helper()
	sums := make([]string, len(parts))
	chunks := make([]api.Chunk, len(parts))
	for i, part := range parts {
		sums[i] = checksum.Sum([]byte(part))
		chunks[i] = api.Chunk{Checksum: sums[i], Content: strings.NewReader(part)}
	}
	if _, err := client.UploadChunks(t.Context(), "", chunks); err != nil {
		t.Fatalf("upload chunks: %v", err)
	}
	return sums
}

func TestChunkUploadAndAssemble(t *testing.T) {
	client := newTestClient(t)
	ctx := t.Context()
	content := "hello world!"
	parts := chunksOf(content, 4)

	sums := make([]string, len(parts))
	for i, part := range parts {
		sums[i] = checksum.Sum([]byte(part))
	}
	missing, err := client.MissingChunks(ctx, sums)
	if err != nil {
		t.Fatalf("missing chunks: %v", err)
	}
	if len(missing) != 3 {
		t.Fatalf("expected 3 missing chunks, got %v", missing)
	}

	uploadChunks(t, client, parts)

	missing, err = client.MissingChunks(ctx, sums)
	if err != nil {
		t.Fatalf("missing chunks: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing chunks, got %v", missing)
	}

	resp, err := client.Assemble(ctx, api.AssembleRequest{
		Name:     "greeting.txt",
		Checksum: checksum.Sum([]byte(content)),
		Chunks:   sums,
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if resp.State != models.ChunkStateOK || resp.File == nil {
		t.Fatalf("unexpected assemble response: %+v", resp)
	}
	if resp.File.Size != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), resp.File.Size)
	}

	detail, err := client.GetFile(ctx, resp.File.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if len(detail.Index) != 3 {
		t.Fatalf("expected 3 index rows, got %d", len(detail.Index))
	}
	if state, _ := detail.File.ChunkState(); state != models.ChunkStateOK {
		t.Fatalf("expected ok state, got %q", state)
	}

	var buf bytes.Buffer
	if _, err := client.Download(ctx, resp.File.ID, 0, &buf); err != nil {
		t.Fatalf("download: %v", err)
	}
	if buf.String() != content {
		t.Fatalf("expected %q, got %q", content, buf.String())
	}

	buf.Reset()
	if _, err := client.Download(ctx, resp.File.ID, 6, &buf); err != nil {
		t.Fatalf("ranged download: %v", err)
	}
	if buf.String() != "world!" {
		t.Fatalf("expected ranged content %q, got %q", "world!", buf.String())
	}

	listed, err := client.ListFiles(ctx, 10)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != resp.File.ID {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}

func TestAssembleReportsMissingChunks(t *testing.T) {
	client := newTestClient(t)
	sums := uploadChunks(t, client, []string{"abcd"})
	absent := checksum.Sum([]byte("efgh"))

	resp, err := client.Assemble(t.Context(), api.AssembleRequest{
		Name:     "partial.bin",
		Checksum: checksum.Sum([]byte("abcdefgh")),
		Chunks:   []string{sums[0], absent},
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if resp.State != models.ChunkStateNotFound {
		t.Fatalf("expected not_found state, got %q", resp.State)
	}
	if len(resp.MissingChunks) != 1 || resp.MissingChunks[0] != absent {
		t.Fatalf("unexpected missing chunks: %v", resp.MissingChunks)
	}
	if resp.File != nil {
		t.Fatal("expected no file for missing chunks")
	}
}

func TestAssembleChecksumMismatchRecordsErrorState(t *testing.T) {
	client := newTestClient(t)
	sums := uploadChunks(t, client, []string{"abcd", "efgh"})

	resp, err := client.Assemble(t.Context(), api.AssembleRequest{
		Name:     "broken.bin",
		Checksum: checksum.Sum([]byte("something else")),
		Chunks:   sums,
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if resp.State != models.ChunkStateError || resp.Detail == "" || resp.File == nil {
		t.Fatalf("unexpected assemble response: %+v", resp)
	}

	detail, err := client.GetFile(t.Context(), resp.File.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if len(detail.Index) != 0 {
		t.Fatalf("expected no index rows after rollback, got %d", len(detail.Index))
	}
	if state, _ := detail.File.ChunkState(); state != models.ChunkStateError {
		t.Fatalf("expected error state, got %q", state)
	}
}

func TestChunkUploadRejectsChecksumMismatch(t *testing.T) {
	client := newTestClient(t)
	_, err := client.UploadChunks(t.Context(), "", []api.Chunk{{
		Checksum: checksum.Sum([]byte("expected")),
		Content:  strings.NewReader("actual"),
	}})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.ErrorCode != ErrCodeChecksumMismatch {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestDeleteFileThenGCBlobs(t *testing.T) {
	client := newTestClient(t)
	ctx := t.Context()
	content := "abcdefgh"
	sums := uploadChunks(t, client, chunksOf(content, 4))
	resp, err := client.Assemble(ctx, api.AssembleRequest{Name: "doomed.bin", Checksum: checksum.Sum([]byte(content)), Chunks: sums})
	if err != nil || resp.State != models.ChunkStateOK {
		t.Fatalf("assemble: %+v %v", resp, err)
	}

	dry, err := client.AdminGCBlobs(ctx, api.BlobGCRequest{})
	if err != nil {
		t.Fatalf("gc dry run: %v", err)
	}
	if dry.CandidateCount != 0 {
		t.Fatalf("expected referenced blobs to survive, got %+v", dry)
	}

	if err := client.DeleteFile(ctx, resp.File.ID); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, err := client.GetFile(ctx, resp.File.ID); err == nil {
		t.Fatal("expected deleted file to be gone")
	}

	dry, err = client.AdminGCBlobs(ctx, api.BlobGCRequest{})
	if err != nil {
		t.Fatalf("gc dry run: %v", err)
	}
	if !dry.DryRun || dry.CandidateCount != 2 || dry.ReclaimedBytes != 8 {
		t.Fatalf("unexpected dry run: %+v", dry)
	}

	applied, err := client.AdminGCBlobs(ctx, api.BlobGCRequest{Apply: true})
	if err != nil {
		t.Fatalf("gc apply: %v", err)
	}
	if applied.DryRun || applied.DeletedCount != 2 {
		t.Fatalf("unexpected gc result: %+v", applied)
	}

	info, err := client.GetInfo(ctx)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.BlobCount != 0 || info.StorageBackend != "memory" || info.BlobSize != 4 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestAdminDeleteBlob(t *testing.T) {
	client := newTestClient(t)
	sums := uploadChunks(t, client, []string{"wxyz"})

	if err := client.DeleteBlob(t.Context(), sums[0]); err != nil {
		t.Fatalf("delete blob: %v", err)
	}
	missing, err := client.MissingChunks(t.Context(), sums)
	if err != nil {
		t.Fatalf("missing chunks: %v", err)
	}
	if len(missing) != 1 {
		t.Fatalf("expected deleted blob to be missing, got %v", missing)
	}

	err = client.DeleteBlob(t.Context(), sums[0])
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted blob, got %v", err)
	}
}

func TestInvalidRequestsAreRejected(t *testing.T) {
	client := newTestClient(t)
	ctx := t.Context()

	_, err := client.GetFile(ctx, "not-a-file")
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != ErrCodeInvalidID {
		t.Fatalf("expected invalid id error, got %v", err)
	}

	_, err = client.GetFile(ctx, "fi-00000000")
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != ErrCodeFileNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}

	_, err = client.MissingChunks(ctx, []string{"zz"})
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != ErrCodeInvalidChecksum {
		t.Fatalf("expected invalid checksum error, got %v", err)
	}

	_, err = client.Assemble(ctx, api.AssembleRequest{Checksum: checksum.EmptySHA1, Chunks: []string{checksum.EmptySHA1}})
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != ErrCodeMissingRequired {
		t.Fatalf("expected missing name error, got %v", err)
	}
}
