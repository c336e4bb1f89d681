// Package token implements the signed-payload codec used for stateless
// credentials, and the download token service built on top of it.
//
// Wire format: two segments joined by ".":
//
//	base64url(JSON payload) "." base64url(HMAC-SHA256(encoded payload))
//
// The digest covers the encoded payload segment, is computed with a shared
// secret supplied at construction, and is compared in constant time on
// verification. Every payload must carry an explicit "exp" (unix seconds);
// decoding rejects expired tokens even when the signature is valid.
//
// Tokens are self-contained and never persisted, so an individual token
// cannot be revoked before its expiry — only rotating the signing secret
// invalidates outstanding tokens. Keep TTLs short.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrSecretTooShort is returned by NewCodec when the signing secret has fewer
	// than MinSecretLength bytes. A missing or weak secret must disable signing
	// entirely rather than fall back to a guessable default.
	ErrSecretTooShort = errors.New("token: signing secret must be at least 32 bytes")
	// ErrMalformedToken is returned when a token does not have the expected
	// two-segment shape, fails base64 or JSON decoding, or lacks an expiry.
	ErrMalformedToken = errors.New("token: malformed token")
	// ErrBadSignature is returned when the digest does not match the payload.
	ErrBadSignature = errors.New("token: signature mismatch")
	// ErrTokenExpired is returned when the payload expiry is in the past.
	ErrTokenExpired = errors.New("token: expired")
)

// MinSecretLength is the minimum accepted signing secret size in bytes.
const MinSecretLength = 32

// Codec encodes and decodes HMAC-signed JSON payloads.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec with the given signing secret. The secret must be
// at least MinSecretLength bytes; otherwise the codec refuses to construct so
// the subsystem fails closed.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key, now: time.Now}, nil
}

// WithClock overrides the codec's wall clock. Intended for tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// expProbe extracts only the expiry claim from an arbitrary payload.
type expProbe struct {
	Exp int64 `json:"exp"`
}

// Encode marshals claims to JSON and appends the signature segment. The
// claims value must serialize an "exp" field with a unix-seconds expiry;
// Encode rejects payloads without one so no caller can mint an eternal token.
func (c *Codec) Encode(claims any) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	var probe expProbe
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Exp == 0 {
		return "", errors.New("token: payload must carry an exp claim")
	}

	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + c.sign(payload), nil
}

// Decode verifies the signature and expiry of a token and unmarshals its
// payload into the supplied value. The returned error is one of
// ErrMalformedToken, ErrBadSignature, or ErrTokenExpired; callers expose all
// three as a single generic denial and keep the distinction for audit only.
func (c *Codec) Decode(tok string, into any) error {
	payload, digest, ok := strings.Cut(tok, ".")
	if !ok || payload == "" || digest == "" {
		return ErrMalformedToken
	}

	// Verify before parsing: nothing in an unauthenticated payload is trusted,
	// including its claimed expiry.
	if !hmac.Equal([]byte(c.sign(payload)), []byte(digest)) {
		return ErrBadSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return ErrMalformedToken
	}

	var probe expProbe
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Exp == 0 {
		return ErrMalformedToken
	}
	if c.now().Unix() >= probe.Exp {
		return ErrTokenExpired
	}

	if err := json.Unmarshal(raw, into); err != nil {
		return ErrMalformedToken
	}
	return nil
}

func (c *Codec) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
