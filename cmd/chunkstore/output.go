package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"chunkstore/internal/format"
	"chunkstore/internal/models"
)

var stdout io.Writer = os.Stdout

// outputOptions holds the persistent structured-output flags.
type outputOptions struct {
	JSON bool
	YAML bool
}

func (o *outputOptions) structured() bool {
	return o != nil && (o.JSON || o.YAML)
}

func (o *outputOptions) formatter() format.Formatter {
	if o != nil && o.YAML {
		return format.YAMLFormatter{}
	}
	return format.JSONFormatter{}
}

func (o *outputOptions) write(payload any) error {
	return o.formatter().Write(stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(stdout, format, args...)
	return err
}

func writeBlobList(blobs []*models.Blob) error {
	for _, blob := range blobs {
		if err := writePlain("%s\n", formatBlobLine(blob)); err != nil {
			return err
		}
	}
	return nil
}

func formatBlobLine(blob *models.Blob) string {
	return fmt.Sprintf("%s  %s  %s", blob.Checksum, blob.ID, humanBytes(blob.Size))
}

func writeFileList(files []models.File) error {
	for _, file := range files {
		if err := writePlain("%s\n", formatFileLine(file)); err != nil {
			return err
		}
	}
	return nil
}

func formatFileLine(file models.File) string {
	line := fmt.Sprintf("%s  %-10s  %9s  %s", file.ID, file.Type, humanBytes(file.Size), file.Name)
	if state, ok := file.ChunkState(); ok {
		line += fmt.Sprintf(" [%s]", state)
	}
	return line
}

func writeFileDetail(file *models.File, index []models.FileBlobIndex) error {
	lines := []string{
		fmt.Sprintf("id: %s", file.ID),
		fmt.Sprintf("name: %s", file.Name),
		fmt.Sprintf("type: %s", file.Type),
		fmt.Sprintf("size: %d (%s)", file.Size, humanBytes(file.Size)),
		fmt.Sprintf("created_at: %s", formatTime(file.CreatedAt)),
	}
	if file.Checksum != "" {
		lines = append(lines, fmt.Sprintf("checksum: %s", file.Checksum))
	}
	if len(file.Headers) > 0 {
		lines = append(lines, "headers:")
		for _, key := range sortedKeys(file.Headers) {
			lines = append(lines, fmt.Sprintf("  %s: %s", key, file.Headers[key]))
		}
	}
	if len(index) > 0 {
		lines = append(lines, fmt.Sprintf("blobs: %d", len(index)))
		for _, entry := range index {
			line := fmt.Sprintf("  @%d %s", entry.Offset, entry.BlobID)
			if entry.Blob != nil {
				line += fmt.Sprintf(" %s %s", entry.Blob.Checksum, humanBytes(entry.Blob.Size))
			}
			lines = append(lines, line)
		}
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
