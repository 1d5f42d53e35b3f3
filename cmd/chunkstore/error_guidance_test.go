package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"testing"

	"chunkstore/internal/api"
	"chunkstore/internal/blobstore"
	"chunkstore/internal/filestore"
	"chunkstore/internal/lock"
)

func TestFormatCLIError_ChecksumMismatchGuidance(t *testing.T) {
	err := fmt.Errorf("assemble: %w", filestore.ErrChecksumMismatch)
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: the content does not hash to the expected SHA-1; nothing was committed.") {
		t.Fatalf("expected mismatch guidance, got %v", lines)
	}
}

func TestFormatCLIError_LockTimeoutGuidance(t *testing.T) {
	err := fmt.Errorf("acquire blob-upload:abc: %w", lock.ErrTimeout)
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: another upload or deletion holds this checksum's lock; retry shortly.") {
		t.Fatalf("expected lock guidance, got %v", lines)
	}
}

func TestFormatCLIError_MissingObjectGuidance(t *testing.T) {
	lines := formatCLIError(fmt.Errorf("open 1/2/abc: %w", blobstore.ErrNotFound))
	if len(lines) != 2 {
		t.Fatalf("expected error plus one hint, got %v", lines)
	}
}

func TestFormatCLIError_FileNotFoundGuidance(t *testing.T) {
	lines := formatCLIError(fmt.Errorf("%w: f-123", filestore.ErrFileNotFound))
	if !containsLine(lines, "hint: list stored files with: chunkstore ls") {
		t.Fatalf("expected ls guidance, got %v", lines)
	}
}

func TestFormatCLIError_PermissionGuidance(t *testing.T) {
	lines := formatCLIError(&os.PathError{Op: "open", Path: "/root/.chunkstore.db", Err: os.ErrPermission})
	if !containsLine(lines, "hint: check permissions on db_path and storage.path.") {
		t.Fatalf("expected permission guidance, got %v", lines)
	}
}

func TestFormatCLIError_PlainError(t *testing.T) {
	lines := formatCLIError(fmt.Errorf("boom"))
	if len(lines) != 1 || lines[0] != "boom" {
		t.Fatalf("expected only the error line, got %v", lines)
	}
	if formatCLIError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func containsLine(lines []string, expected string) bool {
	for _, line := range lines {
		if line == expected {
			return true
		}
	}
	return false
}

func TestFormatCLIError_APIAuthGuidance(t *testing.T) {
	lines := formatCLIError(&api.APIError{Status: 401, Code: "unauthorized", Message: "missing or invalid api token"})
	if !containsLine(lines, "hint: verify CHUNKSTORE_API_TOKEN and CHUNKSTORE_ADMIN_TOKEN configuration.") {
		t.Fatalf("expected token guidance, got %v", lines)
	}
}

func TestFormatCLIError_APIInternalGuidance(t *testing.T) {
	lines := formatCLIError(fmt.Errorf("push: %w", &api.APIError{Status: 500, Code: "internal", Message: "internal error"}))
	if !containsLine(lines, "hint: server returned an internal error; check server logs for details.") {
		t.Fatalf("expected server log guidance, got %v", lines)
	}
}

func TestFormatCLIError_NetworkGuidance(t *testing.T) {
	err := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	lines := formatCLIError(err)
	if !containsLine(lines, "hint: start one with: chunkstore srv") {
		t.Fatalf("expected srv guidance, got %v", lines)
	}
}
