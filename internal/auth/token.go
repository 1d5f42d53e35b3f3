package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	minTokenLength = 16
	tokenBytes     = 24
)

// GenerateToken returns a random hex token suitable for CHUNKSTORE_API_TOKEN.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidateToken checks minimal token requirements.
func ValidateToken(token string) error {
	if len(token) < minTokenLength {
		return fmt.Errorf("token must be at least %d characters", minTokenLength)
	}
	return nil
}

// HashToken hashes one plaintext token so it can be configured without
// exposing the secret.
func HashToken(token string) (string, error) {
	if err := ValidateToken(token); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// IsHash reports whether a configured value is a bcrypt hash.
func IsHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}

// Verifier checks request tokens against one configured value, either a
// plaintext token or a bcrypt hash of it. The zero value is disabled.
type Verifier struct {
	configured string
	hashed     bool

	mu       sync.Mutex
	accepted string
}

// NewVerifier returns a verifier for configured. Blank disables it.
func NewVerifier(configured string) *Verifier {
	configured = strings.TrimSpace(configured)
	return &Verifier{configured: configured, hashed: IsHash(configured)}
}

// Enabled reports whether a token is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && v.configured != ""
}

// Verify reports whether candidate matches. The last accepted candidate is
// remembered so bcrypt runs once per distinct token.
func (v *Verifier) Verify(candidate string) bool {
	if !v.Enabled() || candidate == "" {
		return false
	}
	if !v.hashed {
		return subtle.ConstantTimeCompare([]byte(candidate), []byte(v.configured)) == 1
	}

	v.mu.Lock()
	accepted := v.accepted
	v.mu.Unlock()
	if accepted != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(accepted)) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword([]byte(v.configured), []byte(candidate)) != nil {
		return false
	}
	v.mu.Lock()
	v.accepted = candidate
	v.mu.Unlock()
	return true
}
