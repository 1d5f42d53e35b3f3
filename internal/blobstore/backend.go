package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned by Open when no object exists at a path.
var ErrNotFound = errors.New("blob object not found")

// Backend is an opaque path-keyed byte store.
type Backend interface {
	Save(ctx context.Context, path string, r io.Reader) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

const (
	BackendLocal  = "local"
	BackendPebble = "pebble"
	BackendMemory = "memory"
)

var backendAliases = map[string]string{
	"local":      BackendLocal,
	"fs":         BackendLocal,
	"filesystem": BackendLocal,
	"file":       BackendLocal,
	"pebble":     BackendPebble,
	"memory":     BackendMemory,
	"mem":        BackendMemory,
}

// Options configures Open.
type Options struct {
	// Path is the root directory for local and pebble backends.
	Path string
	// Compress wraps the backend with zstd compression at rest.
	Compress bool
}

// ResolveName maps a configured backend name or alias to its canonical name.
func ResolveName(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return BackendLocal, nil
	}
	canonical, ok := backendAliases[key]
	if !ok {
		return "", fmt.Errorf("unknown storage backend %q", name)
	}
	return canonical, nil
}

// Open constructs the named backend.
func Open(name string, opts Options) (Backend, error) {
	canonical, err := ResolveName(name)
	if err != nil {
		return nil, err
	}

	var backend Backend
	switch canonical {
	case BackendLocal:
		backend, err = NewLocal(opts.Path)
	case BackendPebble:
		backend, err = NewPebble(opts.Path)
	case BackendMemory:
		backend = NewMemory()
	}
	if err != nil {
		return nil, err
	}

	if opts.Compress {
		compressed, err := NewCompressed(backend)
		if err != nil {
			_ = Close(backend)
			return nil, err
		}
		return compressed, nil
	}
	return backend, nil
}

// Close releases backend resources when the backend holds any.
func Close(backend Backend) error {
	if closer, ok := backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func validatePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("blob path is required")
	}
	if strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("blob path must be relative")
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("invalid blob path %q", path)
		}
	}
	return path, nil
}

// bytesObject is a seekable in-memory object returned by key-value backends.
type bytesObject struct {
	*strings.Reader
}

func (bytesObject) Close() error { return nil }

func newBytesObject(data []byte) io.ReadCloser {
	return bytesObject{Reader: strings.NewReader(string(data))}
}
