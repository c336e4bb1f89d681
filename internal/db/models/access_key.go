// Package models - access_key.go defines the AccessKey model representing a
// single-use credential exchanged for a session.
package models

import "time"

// Access key status values. A key transitions active → redeemed at most
// once; redeemed, revoked, and expired are all terminal. Rows are never
// hard-deleted — they are retained for audit.
const (
	KeyStatusActive   = "active"
	KeyStatusRedeemed = "redeemed"
	KeyStatusRevoked  = "revoked"
	KeyStatusExpired  = "expired"
)

// AccessKey represents a one-time access key. Only the SHA-256 hash of the
// secret is persisted; KeySuffix holds the last few characters for display
// ("key ending in …a1b2c3").
type AccessKey struct {
	ID           string     `db:"id" json:"id"`
	MemberID     string     `db:"member_id" json:"member_id"`
	KeyHash      string     `db:"key_hash" json:"-"`
	KeySuffix    string     `db:"key_suffix" json:"key_suffix"`
	Tier         string     `db:"tier" json:"tier"`
	Status       string     `db:"status" json:"status"`
	IssuedAt     time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	RedeemedAt   *time.Time `db:"redeemed_at" json:"redeemed_at,omitempty"`
	RevokedAt    *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokeReason *string    `db:"revoke_reason" json:"revoke_reason,omitempty"`
}
