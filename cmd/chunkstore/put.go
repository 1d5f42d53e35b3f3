package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chunkstore/internal/config"
	"chunkstore/internal/models"
)

type putResult struct {
	File  *models.File           `json:"file" yaml:"file"`
	Index []models.FileBlobIndex `json:"index" yaml:"index"`
}

func newPutCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		name     string
		fileType string
		headers  []string
		blobSize int64
	)

	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Split a local file into blobs and register it",
		Args:  requireExactlyArgs(1, "path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			parsedHeaders, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) == "" {
				name = filepath.Base(path)
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			return withApp(cfg, func(a *app) error {
				ctx := cmd.Context()
				file, err := a.files.CreateFile(ctx, name, fileType, parsedHeaders)
				if err != nil {
					return err
				}
				index, err := a.files.PutFile(ctx, file, f, blobSize)
				if err != nil {
					return errors.Join(err, a.files.DeleteFile(ctx, file.ID))
				}

				if out.structured() {
					return out.write(putResult{File: file, Index: index})
				}
				return writePlain("%s  %d blobs  %s\n", formatFileLine(*file), len(index), file.Checksum)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "file name (default: base name of path)")
	cmd.Flags().StringVar(&fileType, "type", "default", "file type tag")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "header key=value (repeatable)")
	cmd.Flags().Int64Var(&blobSize, "blob-size", 0, "chunk size in bytes (default: blobs.blob_size)")
	return cmd
}
