package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compressed stores objects zstd-compressed in an inner backend. Objects are
// chunk-sized, so each one is encoded and decoded in memory.
type Compressed struct {
	inner   Backend
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressed wraps inner with zstd compression.
func NewCompressed(inner Backend) (*Compressed, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner backend is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Compressed{inner: inner, encoder: encoder, decoder: decoder}, nil
}

func (c *Compressed) Save(ctx context.Context, path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return c.inner.Save(ctx, path, bytes.NewReader(c.encoder.EncodeAll(data, nil)))
}

func (c *Compressed) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := c.inner.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	compressed, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	data, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress %s: %w", path, err)
	}
	return newBytesObject(data), nil
}

func (c *Compressed) Delete(ctx context.Context, path string) error {
	return c.inner.Delete(ctx, path)
}

// Close releases the codec and the inner backend.
func (c *Compressed) Close() error {
	c.decoder.Close()
	_ = c.encoder.Close()
	return Close(c.inner)
}
