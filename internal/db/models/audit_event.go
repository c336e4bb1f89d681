// Package models - audit_event.go defines the AuditEvent model recording
// security-relevant events: grants, denials, redemptions, and revocations.
// Rows are append-only; nothing in the core ever mutates or deletes them.
package models

import "time"

// Audit outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeWarning = "warning"
)

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	ID        string                 `db:"id" json:"id"`
	ActorType string                 `db:"actor_type" json:"actor_type"` // "member", "admin", "anonymous", "system"
	ActorID   *string                `db:"actor_id" json:"actor_id,omitempty"`
	Action    string                 `db:"action" json:"action"` // "key.issue", "session.redeem", "vault.access", ...
	Resource  *string                `db:"resource" json:"resource,omitempty"`
	Outcome   string                 `db:"outcome" json:"outcome"`
	Severity  string                 `db:"severity" json:"severity"`
	IPAddress *string                `db:"ip_address" json:"ip_address,omitempty"`
	Metadata  map[string]interface{} `db:"-" json:"metadata,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
