package main

import (
	"io"

	"github.com/spf13/cobra"

	"chunkstore/internal/config"
	"chunkstore/internal/filestore"
)

func newCatCmd(cfg *config.Config) *cobra.Command {
	var (
		prefetch bool
		offset   int64
	)

	cmd := &cobra.Command{
		Use:   "cat <file-id>",
		Short: "Stream a file's content to stdout",
		Args:  requireFileID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				ctx := cmd.Context()
				file, err := a.files.GetFile(ctx, args[0])
				if err != nil {
					return err
				}
				r, err := a.files.Open(ctx, file, filestore.OpenOptions{Prefetch: prefetch})
				if err != nil {
					return err
				}
				defer r.Close()

				if offset != 0 {
					if _, err := r.Seek(offset, io.SeekStart); err != nil {
						return err
					}
				}
				_, err = io.Copy(stdout, r)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&prefetch, "prefetch", false, "fetch all blobs in parallel before writing")
	cmd.Flags().Int64Var(&offset, "offset", 0, "start reading at this byte offset")
	return cmd
}

type getResult struct {
	ID   string `json:"id" yaml:"id"`
	Path string `json:"path" yaml:"path"`
	Size int64  `json:"size" yaml:"size"`
}

func newGetCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <file-id> <dest>",
		Short: "Save a file's content to a local path atomically",
		Args:  requireFileIDAndDest,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				ctx := cmd.Context()
				file, err := a.files.GetFile(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.files.SaveTo(ctx, file, args[1]); err != nil {
					return err
				}

				if out.structured() {
					return out.write(getResult{ID: file.ID, Path: args[1], Size: file.Size})
				}
				return writePlain("saved %s to %s\n", file.ID, args[1])
			})
		},
	}
	return cmd
}
