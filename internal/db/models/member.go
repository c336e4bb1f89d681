// Package models defines the database model types for the vault gate.
// Each type corresponds to a database table and uses struct tags for both
// JSON serialization and sqlx row scanning. Models are pure data types —
// business logic belongs in the service layer, query logic in repositories.
package models

import "time"

// Member is a pseudonymous identity keyed by a one-way hash of an email
// address. The raw address is never stored; EmailPrefix holds a short
// displayable prefix of the hash for admin tooling.
type Member struct {
	ID           string    `db:"id" json:"id"`
	EmailHash    string    `db:"email_hash" json:"-"`
	EmailPrefix  string    `db:"email_prefix" json:"email_prefix"`
	Name         string    `db:"name" json:"name"`
	Tier         string    `db:"tier" json:"tier"`
	TotalUnlocks int       `db:"total_unlocks" json:"total_unlocks"`
	Flagged      bool      `db:"flagged" json:"flagged"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
