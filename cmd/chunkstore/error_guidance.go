package main

import (
	"context"
	"errors"
	"net"
	"os"

	"chunkstore/internal/api"
	"chunkstore/internal/blobstore"
	"chunkstore/internal/filestore"
	"chunkstore/internal/lock"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthorized", "forbidden":
			lines = append(lines, "hint: verify CHUNKSTORE_API_TOKEN and CHUNKSTORE_ADMIN_TOKEN configuration.")
		case "resource_exhausted":
			lines = append(lines, "hint: retry shortly or reduce concurrent uploads.")
		case "checksum_mismatch":
			lines = append(lines, "hint: the content does not hash to the expected SHA-1; nothing was committed.")
		case "unavailable":
			lines = append(lines, "hint: another upload or deletion holds this checksum's lock; retry shortly.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify api_url points to a chunkstore server.")
		}
		if apiErr.Status >= 500 && apiErr.Code != "unavailable" {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase CHUNKSTORE_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a chunkstore server is running at api_url.",
			"hint: start one with: chunkstore srv",
		)
		return uniqueLines(lines)
	}

	switch {
	case errors.Is(err, filestore.ErrChecksumMismatch):
		lines = append(lines, "hint: the content does not hash to the expected SHA-1; nothing was committed.")
	case errors.Is(err, lock.ErrTimeout):
		lines = append(lines,
			"hint: another upload or deletion holds this checksum's lock; retry shortly.",
			"hint: raise locks.timeout if uploads of large blobs routinely take longer.",
		)
	case errors.Is(err, filestore.ErrFileNotFound):
		lines = append(lines, "hint: list stored files with: chunkstore ls")
	case errors.Is(err, filestore.ErrBlobNotFound), errors.Is(err, blobstore.ErrNotFound):
		lines = append(lines, "hint: the blob was deleted or its bytes are missing from storage.path; check storage.backend and storage.path.")
	case errors.Is(err, context.Canceled):
		lines = append(lines, "hint: the operation was interrupted before it finished.")
	}

	if errors.Is(err, os.ErrPermission) {
		lines = append(lines, "hint: check permissions on db_path and storage.path.")
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
