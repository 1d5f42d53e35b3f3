package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chunkstore/internal/config"
	"chunkstore/internal/filestore"
	"chunkstore/internal/models"
)

// assembleManifest describes a file to assemble from already uploaded blobs.
type assembleManifest struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Checksum string            `yaml:"checksum"`
	Headers  map[string]string `yaml:"headers"`
	Blobs    []string          `yaml:"blobs"`
}

func loadManifest(path string) (*assembleManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest assembleManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &manifest, nil
}

func newAssembleCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		manifestPath string
		name         string
		fileType     string
		sum          string
		outPath      string
		headers      []string
	)

	cmd := &cobra.Command{
		Use:   "assemble [<blob-id>...]",
		Short: "Assemble a file from uploaded blobs and verify its checksum",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest := &assembleManifest{}
			if manifestPath != "" {
				loaded, err := loadManifest(manifestPath)
				if err != nil {
					return err
				}
				manifest = loaded
			}
			if len(args) > 0 {
				manifest.Blobs = args
			}
			if cmd.Flags().Changed("name") || manifest.Name == "" {
				manifest.Name = name
			}
			if cmd.Flags().Changed("type") || manifest.Type == "" {
				manifest.Type = fileType
			}
			if sum != "" {
				manifest.Checksum = sum
			}
			parsedHeaders, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			for key, value := range parsedHeaders {
				if manifest.Headers == nil {
					manifest.Headers = map[string]string{}
				}
				manifest.Headers[key] = value
			}

			if len(manifest.Blobs) == 0 {
				return fmt.Errorf("at least one blob id is required")
			}
			if strings.TrimSpace(manifest.Checksum) == "" {
				return fmt.Errorf("--checksum is required")
			}
			if strings.TrimSpace(manifest.Name) == "" {
				if outPath == "" {
					return fmt.Errorf("--name is required without --out")
				}
				manifest.Name = filepath.Base(outPath)
			}

			return withApp(cfg, func(a *app) error {
				file, err := assemble(cmd, a, manifest, outPath)
				if err != nil {
					return err
				}
				if out.structured() {
					return out.write(file)
				}
				return writePlain("%s  %s\n", formatFileLine(*file), file.Checksum)
			})
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML manifest with name, type, checksum, headers, and blobs")
	cmd.Flags().StringVar(&name, "name", "", "file name (default: base name of --out)")
	cmd.Flags().StringVar(&fileType, "type", "default", "file type tag")
	cmd.Flags().StringVar(&sum, "checksum", "", "expected SHA-1 of the assembled file")
	cmd.Flags().StringVar(&outPath, "out", "", "also write the assembled content to this path")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "header key=value (repeatable)")
	return cmd
}

func assemble(cmd *cobra.Command, a *app, manifest *assembleManifest, outPath string) (*models.File, error) {
	ctx := cmd.Context()
	headers := make(map[string]string, len(manifest.Headers)+1)
	for key, value := range manifest.Headers {
		headers[key] = value
	}
	headers[models.ChunkStateHeader] = string(models.ChunkStateAssembling)

	file, err := a.files.CreateFile(ctx, manifest.Name, manifest.Type, headers)
	if err != nil {
		return nil, err
	}

	tmp, err := a.files.AssembleFromBlobIDs(ctx, file, manifest.Blobs, manifest.Checksum)
	if err != nil {
		if errors.Is(err, filestore.ErrChecksumMismatch) || errors.Is(err, filestore.ErrBlobNotFound) {
			if stateErr := a.files.SetChunkState(ctx, file, models.ChunkStateError); stateErr != nil {
				a.logger.Warn("record assembly failure", "file_id", file.ID, "error", stateErr)
			}
		}
		return nil, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if outPath != "" {
		if err := writeAtomically(outPath, tmp); err != nil {
			return nil, err
		}
	}
	if err := a.files.SetChunkState(ctx, file, models.ChunkStateOK); err != nil {
		return nil, err
	}
	return file, nil
}

// writeAtomically copies r next to dest and renames it into place.
func writeAtomically(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".chunkstore-out-")
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), dest); err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	return nil
}
