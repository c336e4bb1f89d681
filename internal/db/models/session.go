// Package models - session.go defines the Session model, the live
// authorization artifact presented via the session cookie.
package models

import "time"

// Session maps an opaque high-entropy identifier to a member and a tier.
// The tier is fixed at mint time; changing a member's tier requires minting
// a new session, never mutating an existing one.
type Session struct {
	ID           string     `db:"id" json:"-"`
	MemberID     string     `db:"member_id" json:"member_id"`
	Tier         string     `db:"tier" json:"tier"`
	Metadata     []byte     `db:"metadata" json:"-"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	RevokedAt    *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokeReason *string    `db:"revoke_reason" json:"revoke_reason,omitempty"`
}

// Live reports whether the session is usable at the given instant.
func (s *Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
