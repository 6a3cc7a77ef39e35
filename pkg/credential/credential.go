package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	rawKeyBytes = 32
	// bcryptCost is deliberately above the library default; these hashes are
	// computed once per key/secret generation and once per stream attach or
	// API request, never in a hot loop.
	bcryptCost = 12

	// KeyPrefixLength is the number of leading hex characters stored
	// unhashed for prefix-indexed lookup.
	KeyPrefixLength = 8
)

// Generate returns a new random raw credential (hex-encoded) along with its
// prefix and bcrypt hash. raw is returned to the caller exactly once; only
// hash is persisted.
func Generate() (raw, prefix, hash string, err error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generating random credential: %w", err)
	}

	raw = hex.EncodeToString(buf)
	prefix = raw[:KeyPrefixLength]

	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hashing credential: %w", err)
	}

	return raw, prefix, string(hashed), nil
}

// Prefix returns the lookup prefix for a raw credential. Callers use this to
// narrow a storage query before comparing candidates with Verify.
func Prefix(raw string) string {
	if len(raw) < KeyPrefixLength {
		return raw
	}
	return raw[:KeyPrefixLength]
}

// Verify reports whether raw matches the bcrypt hash.
func Verify(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
