package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/vault-gate/vault-gate/internal/tier"
)

// DownloadClaim is the payload carried by a signed download token. It proves
// that a download of Slug at RequiredTier was approved at issuance; it does
// NOT by itself grant access. The handler re-checks the redeeming session's
// current tier against RequiredTier, so a member downgraded between receiving
// a link and clicking it is denied even with a structurally valid token.
type DownloadClaim struct {
	Slug         string `json:"slug"`
	Exp          int64  `json:"exp"`
	RequiredTier string `json:"requiredTier"`
	Nonce        string `json:"nonce"`
}

// Tier parses the claim's required tier. Unknown tier strings fail closed.
func (c DownloadClaim) Tier() (tier.Tier, error) {
	return tier.Parse(c.RequiredTier)
}

// DownloadService signs and verifies short-lived, resource-scoped download
// tokens on top of Codec.
type DownloadService struct {
	codec *Codec
	now   func() time.Time
}

// NewDownloadService wraps an existing codec.
func NewDownloadService(codec *Codec) *DownloadService {
	return &DownloadService{codec: codec, now: time.Now}
}

// WithClock overrides the service's wall clock. Intended for tests.
func (s *DownloadService) WithClock(now func() time.Time) *DownloadService {
	s.now = now
	s.codec.WithClock(now)
	return s
}

// Sign produces a token granting a tier-scoped download of slug for ttl.
// The nonce makes every issued token distinct, which keeps audit records
// correlatable and prevents two members' links from being byte-identical.
func (s *DownloadService) Sign(slug string, required tier.Tier, ttl time.Duration) (string, error) {
	if slug == "" {
		return "", fmt.Errorf("token: empty download slug")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token: non-positive ttl %v", ttl)
	}

	nonce := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("token: generating nonce: %w", err)
	}

	claim := DownloadClaim{
		Slug:         slug,
		Exp:          s.now().Add(ttl).Unix(),
		RequiredTier: required.String(),
		Nonce:        base64.RawURLEncoding.EncodeToString(nonce),
	}
	return s.codec.Encode(claim)
}

// Verify checks structure, signature, and expiry, and returns the claim.
// Tier enforcement against the current session is the caller's job.
func (s *DownloadService) Verify(tok string) (DownloadClaim, error) {
	var claim DownloadClaim
	if err := s.codec.Decode(tok, &claim); err != nil {
		return DownloadClaim{}, err
	}
	if claim.Slug == "" {
		return DownloadClaim{}, ErrMalformedToken
	}
	if _, err := claim.Tier(); err != nil {
		return DownloadClaim{}, ErrMalformedToken
	}
	return claim, nil
}
