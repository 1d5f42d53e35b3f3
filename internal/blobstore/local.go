package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const localTempDir = ".tmp"

// Local stores blob bytes as files under a root directory.
type Local struct {
	root string
}

// NewLocal creates a local backend rooted at root.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, localTempDir), 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string {
	return l.root
}

// Save streams r to path. The object becomes visible only once fully written.
func (l *Local) Save(ctx context.Context, path string, r io.Reader) error {
	if r == nil {
		return fmt.Errorf("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := l.pathFromKey(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Join(l.root, localTempDir), "save-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Open returns a reader for the object at path.
func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.pathFromKey(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return f, nil
}

// Delete removes an object. Missing files are ignored.
func (l *Local) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := l.pathFromKey(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) pathFromKey(key string) (string, error) {
	key, err := validatePath(key)
	if err != nil {
		return "", err
	}
	if key == localTempDir || strings.HasPrefix(key, localTempDir+"/") {
		return "", fmt.Errorf("blob path %q is reserved", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}
