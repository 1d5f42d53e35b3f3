package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLoggingSetsRequestID(t *testing.T) {
	srv := &Server{}
	handler := srv.withRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/files", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/files", nil)
	req.Header.Set(requestIDHeader, "client-id-1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "client-id-1" {
		t.Fatalf("expected client request id to be kept, got %q", got)
	}
}

func TestLoggingResponseWriterCountsBytes(t *testing.T) {
	rw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _ = rw.Write([]byte("hello"))
	_, _ = rw.Write([]byte(" world"))
	if rw.bytes != 11 {
		t.Fatalf("expected 11 bytes, got %d", rw.bytes)
	}
	if rw.Status() != http.StatusOK {
		t.Fatalf("expected implicit 200, got %d", rw.Status())
	}
}
