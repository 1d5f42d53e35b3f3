package main

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"chunkstore/internal/api"
	"chunkstore/internal/checksum"
	"chunkstore/internal/config"
	"chunkstore/internal/models"
)

const (
	// pushBatchSize stays under the server's per-request part limit.
	pushBatchSize   = 32
	pushMaxAttempts = 4
	pushRetryDelay  = 500 * time.Millisecond
)

type pushChunk struct {
	offset   int64
	size     int64
	checksum string
}

type pushResult struct {
	Chunks   int                  `json:"chunks" yaml:"chunks"`
	Uploaded int                  `json:"uploaded" yaml:"uploaded"`
	Assemble api.AssembleResponse `json:"assemble" yaml:"assemble"`
}

func newPushCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		name      string
		fileType  string
		headers   []string
		chunkSize int64
	)

	cmd := &cobra.Command{
		Use:   "push <path>",
		Short: "Upload a file to a chunkstore server, sending only missing chunks",
		Args:  requireExactlyArgs(1, "path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if name == "" {
				name = filepath.Base(path)
			}
			if chunkSize <= 0 {
				chunkSize = cfg.Blobs.BlobSize
			}
			parsedHeaders, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			chunks, sum, err := splitForPush(f, chunkSize)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client := api.NewClient(cfg.APIURL)
			sums := make([]string, len(chunks))
			for i, chunk := range chunks {
				sums[i] = chunk.checksum
			}
			missing, err := client.MissingChunks(ctx, sums)
			if err != nil {
				return err
			}

			uploaded, err := uploadMissing(cmd, client, f, chunks, missing)
			if err != nil {
				return err
			}

			resp, err := client.Assemble(ctx, api.AssembleRequest{
				Name:     name,
				Type:     fileType,
				Checksum: sum,
				Headers:  parsedHeaders,
				Chunks:   sums,
			})
			if err != nil {
				return err
			}
			if resp.State != models.ChunkStateOK {
				detail := resp.Detail
				if resp.State == models.ChunkStateNotFound {
					detail = fmt.Sprintf("%d chunks missing on server", len(resp.MissingChunks))
				}
				return fmt.Errorf("assemble %s: %s: %s", name, resp.State, detail)
			}

			result := pushResult{Chunks: len(chunks), Uploaded: uploaded, Assemble: resp}
			if out.structured() {
				return out.write(result)
			}
			return writePlain("%s %s %s (%d/%d chunks uploaded)\n",
				resp.File.ID, resp.File.Name, humanBytes(resp.File.Size), uploaded, len(chunks))
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "file name (default: base name of path)")
	cmd.Flags().StringVar(&fileType, "type", "default", "file type tag")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "file header as key=value (repeatable)")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", 0, "chunk size in bytes (default: blobs.blob_size)")
	return cmd
}

// splitForPush hashes r in chunkSize pieces and as a whole in one pass.
func splitForPush(r io.Reader, chunkSize int64) ([]pushChunk, string, error) {
	whole := sha1.New()
	buf := make([]byte, chunkSize)
	var chunks []pushChunk
	var offset int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			_, _ = whole.Write(buf[:n])
			chunks = append(chunks, pushChunk{offset: offset, size: int64(n), checksum: checksum.Sum(buf[:n])})
			offset += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, "", err
		}
	}
	if len(chunks) == 0 {
		chunks = append(chunks, pushChunk{checksum: checksum.EmptySHA1})
	}
	return chunks, hex.EncodeToString(whole.Sum(nil)), nil
}

func uploadMissing(cmd *cobra.Command, client *api.Client, f io.ReaderAt, chunks []pushChunk, missing []string) (int, error) {
	want := make(map[string]struct{}, len(missing))
	for _, sum := range missing {
		want[sum] = struct{}{}
	}

	var batch []pushChunk
	uploaded := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := uploadBatch(cmd.Context(), client, f, batch); err != nil {
			return err
		}
		uploaded += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, chunk := range chunks {
		if _, ok := want[chunk.checksum]; !ok {
			continue
		}
		delete(want, chunk.checksum)
		batch = append(batch, chunk)
		if len(batch) == pushBatchSize {
			if err := flush(); err != nil {
				return uploaded, err
			}
		}
	}
	return uploaded, flush()
}

// uploadBatch sends one batch, retrying while the server reports it is busy.
func uploadBatch(ctx context.Context, client *api.Client, f io.ReaderAt, batch []pushChunk) error {
	var err error
	for attempt := 1; attempt <= pushMaxAttempts; attempt++ {
		parts := make([]api.Chunk, len(batch))
		for i, chunk := range batch {
			parts[i] = api.Chunk{
				Checksum: chunk.checksum,
				Content:  io.NewSectionReader(f, chunk.offset, chunk.size),
			}
		}
		_, err = client.UploadChunks(ctx, "", parts)
		if err == nil || !api.IsRetryable(err) || attempt == pushMaxAttempts {
			return err
		}
		slog.Debug("server busy; retrying chunk upload", "attempt", attempt, "chunks", len(batch), "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * pushRetryDelay):
		}
	}
	return err
}
