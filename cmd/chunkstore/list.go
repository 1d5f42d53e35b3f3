package main

import (
	"github.com/spf13/cobra"

	"chunkstore/internal/config"
	"chunkstore/internal/models"
)

func newListCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List files, newest first",
		Args:    requireExactlyArgs(0, "ls takes no arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				files, err := a.store.ListFiles(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if out.structured() {
					return out.write(files)
				}
				return writeFileList(files)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum files to list (0 for all)")
	return cmd
}

type showResult struct {
	File  *models.File           `json:"file" yaml:"file"`
	Index []models.FileBlobIndex `json:"index" yaml:"index"`
}

func newShowCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <file-id>",
		Short: "Show file details and its blob index",
		Args:  requireFileID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				ctx := cmd.Context()
				file, err := a.files.GetFile(ctx, args[0])
				if err != nil {
					return err
				}
				index, err := a.files.Index(ctx, file)
				if err != nil {
					return err
				}
				if out.structured() {
					return out.write(showResult{File: file, Index: index})
				}
				return writeFileDetail(file, index)
			})
		},
	}
	return cmd
}

func newRmCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <file-id> [<file-id>...]",
		Short: "Delete files; their blobs are left for gc",
		Args:  requireFileIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				for _, id := range args {
					if err := a.files.DeleteFile(cmd.Context(), id); err != nil {
						return err
					}
				}
				if out.structured() {
					return out.write(map[string][]string{"deleted": args})
				}
				for _, id := range args {
					if err := writePlain("deleted %s\n", id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func newInfoCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show database and storage info",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				info, err := a.store.StoreInfo(cmd.Context())
				if err != nil {
					return err
				}
				if out.structured() {
					return out.write(info)
				}

				_ = writePlain("db_path: %s\n", cfg.DBPath)
				_ = writePlain("storage: %s (%s)\n", cfg.Storage.Backend, cfg.Storage.Path)
				_ = writePlain("schema_version: %d\n", info.SchemaVersion)
				_ = writePlain("blobs: %d (%s)\n", info.BlobCount, humanBytes(info.BlobBytes))
				_ = writePlain("files: %d (%s)\n", info.FileCount, humanBytes(info.LogicalBytes))
				return writePlain("pending_deletions: %d\n", info.PendingDeletions)
			})
		},
	}
	return cmd
}
