package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/pebble"
)

// Pebble stores each object as one value in a pebble database.
type Pebble struct {
	db *pebble.DB
}

// NewPebble opens (or creates) a pebble database under dir.
func NewPebble(dir string) (*Pebble, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("pebble storage path is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Join(dir, "pebble"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Save(ctx context.Context, path string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := validatePath(path)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return p.db.Set([]byte(path), data, pebble.Sync)
}

func (p *Pebble) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, closer, err := p.db.Get([]byte(path))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer closer.Close()
	// value is only valid until closer is closed.
	return newBytesObject(value), nil
}

func (p *Pebble) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Delete([]byte(path), pebble.Sync)
}

// Close flushes and closes the database.
func (p *Pebble) Close() error {
	return p.db.Close()
}
