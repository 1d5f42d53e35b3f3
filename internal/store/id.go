package store

import (
	"crypto/rand"
	"fmt"
)

const (
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idHashLength   = 8
	idMaxAttempts  = 20

	blobIDPrefix = "bl"
	fileIDPrefix = "fi"
)

// GenerateID returns a new id using a prefix and a random base36 suffix.
// It retries on collisions using the provided exists function.
func GenerateID(prefix string, exists func(string) (bool, error)) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("id prefix is required")
	}

	for i := 0; i < idMaxAttempts; i++ {
		hash, err := randomBase36(idHashLength)
		if err != nil {
			return "", err
		}
		id := fmt.Sprintf("%s-%s", prefix, hash)
		if exists == nil {
			return id, nil
		}
		ok, err := exists(id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
	}

	return "", fmt.Errorf("unable to generate unique id")
}

// GenerateBlobID returns a new blob id using the bl- prefix.
func GenerateBlobID(exists func(string) (bool, error)) (string, error) {
	return GenerateID(blobIDPrefix, exists)
}

// GenerateFileID returns a new file id using the fi- prefix.
func GenerateFileID(exists func(string) (bool, error)) (string, error) {
	return GenerateID(fileIDPrefix, exists)
}

func randomBase36(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = base36Alphabet[int(b[i])%len(base36Alphabet)]
	}
	return string(out), nil
}
