package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chunkstore/internal/config"
	"chunkstore/internal/filestore"
	"chunkstore/internal/models"
)

func newBlobCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Upload or delete individual blobs",
	}

	cmd.AddCommand(
		newBlobPutCmd(cfg, out),
		newBlobRmCmd(cfg, out),
	)
	return cmd
}

func newBlobPutCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		owner     string
		checksums []string
	)

	cmd := &cobra.Command{
		Use:   "put <path> [<path>...]",
		Short: "Store files as content-addressed blobs",
		Args:  requireAtLeastArgs(1, "at least one path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(checksums) > 0 && len(checksums) != len(args) {
				return fmt.Errorf("--checksum given %d times for %d paths", len(checksums), len(args))
			}

			sources := make([]filestore.Source, 0, len(args))
			for i, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				source := filestore.Source{Reader: f}
				if len(checksums) > 0 {
					source.Checksum = checksums[i]
				}
				sources = append(sources, source)
			}

			return withApp(cfg, func(a *app) error {
				var blobs []*models.Blob
				if len(sources) == 1 && owner == "" && len(checksums) == 0 {
					blob, err := a.files.FromFile(cmd.Context(), sources[0].Reader)
					if err != nil {
						return err
					}
					blobs = []*models.Blob{blob}
				} else {
					var err error
					blobs, err = a.files.FromFiles(cmd.Context(), sources, owner)
					if err != nil {
						return err
					}
				}

				if out.structured() {
					return out.write(blobs)
				}
				return writeBlobList(blobs)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner scope to attach to every blob")
	cmd.Flags().StringArrayVar(&checksums, "checksum", nil, "expected SHA-1 per path, in order")
	return cmd
}

func newBlobRmCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <checksum> [<checksum>...]",
		Short: "Delete blobs; bytes are removed after the deletion delay",
		Args:  requireChecksumArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				deleted := make([]*models.Blob, 0, len(args))
				for _, sum := range args {
					blob, err := a.files.DeleteBlobByChecksum(cmd.Context(), sum)
					if err != nil {
						return err
					}
					deleted = append(deleted, blob)
				}

				if out.structured() {
					return out.write(deleted)
				}
				for _, blob := range deleted {
					if err := writePlain("deleted %s\n", formatBlobLine(blob)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	return cmd
}
