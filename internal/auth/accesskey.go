// Package auth provides the credential primitives for the vault gate:
// access key generation and hashing, email pseudonymization, session
// identifiers, and admin bearer verification.
// See internal/middleware for the request-time logic that uses these.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeySecretLength is the length of the random part of an access key in bytes.
	KeySecretLength = 32

	// KeyPrefix marks vault gate access keys so pasted secrets are recognizable.
	KeyPrefix = "vk"

	// KeySuffixLength is the number of trailing characters kept for display
	// ("key ending in …a1b2c3").
	KeySuffixLength = 6

	// EmailPrefixLength is the number of hash characters kept as a displayable
	// member handle for admin tooling.
	EmailPrefixLength = 12

	// SessionIDLength is the length of a session identifier in bytes before
	// encoding. 256 bits of entropy makes the ID unguessable; possession of
	// the cookie is the whole proof.
	SessionIDLength = 32
)

// GenerateKeySecret creates a new random access key secret.
// Returns: full secret (shown once, never stored), its SHA-256 hash (stored),
// and the display suffix.
//
// Access keys are hashed with SHA-256 rather than bcrypt because redemption
// looks the key up BY its hash: the secret already carries 256 bits of
// entropy, so a slow KDF adds nothing and would forbid the indexed lookup.
func GenerateKeySecret() (secret string, hash string, suffix string, err error) {
	randomBytes := make([]byte, KeySecretLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	secret = fmt.Sprintf("%s_%s", KeyPrefix, base64.RawURLEncoding.EncodeToString(randomBytes))
	return secret, HashKeySecret(secret), KeySuffix(secret), nil
}

// HashKeySecret returns the hex SHA-256 digest of a key secret. This is the
// only form in which a key is ever persisted.
func HashKeySecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// KeySuffix returns the trailing characters of a secret for display.
func KeySuffix(secret string) string {
	if len(secret) <= KeySuffixLength {
		return secret
	}
	return secret[len(secret)-KeySuffixLength:]
}

// HashEmail canonicalizes an email address and returns its hex SHA-256
// digest. The raw address never reaches storage; the hash is the member's
// stable identity.
func HashEmail(email string) string {
	canonical := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// EmailHashPrefix returns the short displayable prefix of an email hash.
func EmailHashPrefix(emailHash string) string {
	if len(emailHash) <= EmailPrefixLength {
		return emailHash
	}
	return emailHash[:EmailPrefixLength]
}

// NewSessionID generates an opaque session identifier. The ID carries no
// claims and no structure; it is a pure random handle resolved server-side.
func NewSessionID() (string, error) {
	randomBytes := make([]byte, SessionIDLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}
