package checksum

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// ReadSize is the buffer size used when streaming content through the hasher.
const ReadSize = 64 * 1024

// EmptySHA1 is the digest of zero bytes.
const EmptySHA1 = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

// ErrMismatch is returned when content does not hash to the expected digest.
var ErrMismatch = errors.New("checksum mismatch")

// SizeAndChecksum streams r until EOF and returns the byte count and SHA-1 hex digest.
func SizeAndChecksum(r io.Reader) (int64, string, error) {
	h := sha1.New()
	buf := make([]byte, ReadSize)
	var size int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			size += int64(n)
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, "", err
		}
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

// Sum returns the SHA-1 hex digest of b.
func Sum(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Normalize lowercases and trims a digest for comparison.
func Normalize(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}

// Valid reports whether digest looks like a SHA-1 hex digest.
func Valid(digest string) bool {
	if len(digest) != sha1.Size*2 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// Verify returns ErrMismatch when got and want differ. An empty want always passes.
func Verify(got, want string) error {
	want = Normalize(want)
	if want == "" || want == Normalize(got) {
		return nil
	}
	return ErrMismatch
}
