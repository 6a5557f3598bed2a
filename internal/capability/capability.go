// Package capability issues and verifies bearer capability tokens (publisher caps, kiosk owner caps).
// Only a salted Argon2id hash of each token is ever stored.
package capability

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	tokenBytes = 32
	saltBytes  = 16

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	argonKeyLen  = 32
)

// Hash is the stored form of a capability token: "<salt>$<key>", both base64.
type Hash string

// Issue generates a fresh random token and its hash. The token is handed to
// the holder exactly once; callers persist only the hash.
func Issue() (string, Hash, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate capability: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	h, err := hashToken(token)
	if err != nil {
		return "", "", err
	}
	return token, h, nil
}

func hashToken(token string) (Hash, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return Hash(base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(key)), nil
}

// Verify reports whether token matches h. A malformed hash never verifies.
func Verify(token string, h Hash) bool {
	if token == "" || h == "" {
		return false
	}

	saltPart, keyPart, ok := strings.Cut(string(h), "$")
	if !ok {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(keyPart)
	if err != nil {
		return false
	}

	actual := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(expected, actual) == 1
}
