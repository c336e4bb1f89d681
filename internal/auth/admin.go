package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor used when hashing admin bearer tokens with
// the companion hash tool.
const BcryptCost = 12

// ErrAdminDisabled is returned when no admin token hash is configured. The
// admin surface fails closed rather than open.
var ErrAdminDisabled = errors.New("admin access is not configured")

// HashAdminToken bcrypt-hashes an admin bearer token for storage in config.
// Unlike access keys, admin tokens are verified by direct comparison (never
// looked up by hash), so the slow KDF applies.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyAdminToken checks a presented bearer token against the configured
// bcrypt hash. An empty configured hash means admin access is disabled.
func VerifyAdminToken(presented, configuredHash string) error {
	if configuredHash == "" {
		return ErrAdminDisabled
	}
	return bcrypt.CompareHashAndPassword([]byte(configuredHash), []byte(presented))
}

// ExtractBearerToken extracts the token from an Authorization header.
// Expected format: "Bearer <token>".
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}
