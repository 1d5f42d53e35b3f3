package models

import (
	"fmt"
	"strings"
)

// ChunkFileState tracks a file through chunked upload and assembly.
type ChunkFileState string

const (
	ChunkStateOK         ChunkFileState = "ok"
	ChunkStateNotFound   ChunkFileState = "not_found"
	ChunkStateCreated    ChunkFileState = "created"
	ChunkStateAssembling ChunkFileState = "assembling"
	ChunkStateError      ChunkFileState = "error"
)

// ChunkStateHeader is the file header key that carries the assembly state.
const ChunkStateHeader = "__state"

const (
	// DefaultBlobSize is the chunk size used when splitting files.
	DefaultBlobSize = 1024 * 1024

	// MaxFileTypeLength bounds File.Type.
	MaxFileTypeLength = 64
)

var validChunkFileStates = map[ChunkFileState]struct{}{
	ChunkStateOK:         {},
	ChunkStateNotFound:   {},
	ChunkStateCreated:    {},
	ChunkStateAssembling: {},
	ChunkStateError:      {},
}

func ParseChunkFileState(raw string) (ChunkFileState, error) {
	value := ChunkFileState(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("chunk state is required")
	}
	if _, ok := validChunkFileStates[value]; !ok {
		return "", fmt.Errorf("invalid chunk state: %s", value)
	}
	return value, nil
}

// ParseFileType validates and normalizes a file type tag.
func ParseFileType(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("file type is required")
	}
	if len(value) > MaxFileTypeLength {
		return "", fmt.Errorf("file type exceeds %d characters", MaxFileTypeLength)
	}
	return value, nil
}

// ChunkState returns the assembly state recorded in the file headers, if any.
func (f *File) ChunkState() (ChunkFileState, bool) {
	if f == nil || f.Headers == nil {
		return "", false
	}
	raw, ok := f.Headers[ChunkStateHeader]
	if !ok {
		return "", false
	}
	state, err := ParseChunkFileState(raw)
	if err != nil {
		return "", false
	}
	return state, true
}
