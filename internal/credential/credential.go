// Package credential hashes and verifies passwords with PBKDF2-HMAC-SHA256.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	MinIterations = 100_000
	SaltSize      = 16
	KeySize       = 32
)

// ErrCorrupt reports stored hash or salt material that cannot be decoded.
var ErrCorrupt = corruptError{}

type corruptError struct{ reason string }

func (e corruptError) Error() string {
	if e.reason == "" {
		return "stored credential is corrupt"
	}
	return "stored credential is corrupt: " + e.reason
}

func (corruptError) Corrupt() bool { return true }

// Is matches any corruptError regardless of reason.
func (corruptError) Is(target error) bool {
	_, ok := target.(corruptError)
	return ok
}

type Hasher struct {
	iterations int
}

// NewHasher returns a Hasher. Iteration counts below MinIterations are raised.
func NewHasher(iterations int) *Hasher {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return &Hasher{iterations: iterations}
}

func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash derives a key from password with a fresh random salt. Both results are
// hex encoded.
func (h *Hasher) Hash(password string) (string, string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := h.derive(password, salt)
	return hex.EncodeToString(key), hex.EncodeToString(salt), nil
}

// Verify recomputes the key for password and compares it in constant time.
// Undecodable material fails with ErrCorrupt instead of a false match.
func (h *Hasher) Verify(password, hash, salt string) (bool, error) {
	want, err := hex.DecodeString(hash)
	if err != nil {
		return false, corruptError{reason: "hash is not hex"}
	}
	if len(want) != KeySize {
		return false, corruptError{reason: fmt.Sprintf("hash has %d bytes", len(want))}
	}
	rawSalt, err := hex.DecodeString(salt)
	if err != nil {
		return false, corruptError{reason: "salt is not hex"}
	}
	if len(rawSalt) == 0 {
		return false, corruptError{reason: "salt is empty"}
	}
	got := h.derive(password, rawSalt)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Discard derives a key for password against a fixed salt and drops it, so
// a lookup that found no account costs as much as a failed Verify.
func (h *Hasher) Discard(password string) {
	_ = h.derive(password, discardSalt)
}

var discardSalt = make([]byte, SaltSize)

func (h *Hasher) derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, h.iterations, KeySize, sha256.New)
}

// IsCorrupt reports whether err is a corrupt credential error.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
