// member_repository.go implements MemberRepository, providing database
// queries for pseudonymous member rows keyed by email hash.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vault-gate/vault-gate/internal/db/models"
)

// MemberRepository handles member database operations.
type MemberRepository struct {
	db *sqlx.DB
}

// NewMemberRepository creates a new MemberRepository.
func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Upsert creates a member row for the email hash or refreshes the name of an
// existing one. An existing member's tier is not touched here — tier moves on
// redemption (RecordUnlock) or by explicit admin action (SetTier).
func (r *MemberRepository) Upsert(ctx context.Context, member *models.Member) (*models.Member, error) {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	now := time.Now()
	member.CreatedAt = now
	member.UpdatedAt = now

	query := `
		INSERT INTO members (id, email_hash, email_prefix, name, tier, total_unlocks, flagged, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, FALSE, $6, $6)
		ON CONFLICT (email_hash) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE members.name END,
			updated_at = EXCLUDED.updated_at
		RETURNING id, email_hash, email_prefix, name, tier, total_unlocks, flagged, created_at, updated_at
	`

	var out models.Member
	err := r.db.GetContext(ctx, &out, query,
		member.ID, member.EmailHash, member.EmailPrefix, member.Name, member.Tier, now)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByID retrieves a member by ID. Returns (nil, nil) when absent.
func (r *MemberRepository) GetByID(ctx context.Context, id string) (*models.Member, error) {
	var member models.Member
	err := r.db.GetContext(ctx, &member,
		`SELECT * FROM members WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// GetByEmailHash retrieves a member by email hash. Returns (nil, nil) when absent.
func (r *MemberRepository) GetByEmailHash(ctx context.Context, emailHash string) (*models.Member, error) {
	var member models.Member
	err := r.db.GetContext(ctx, &member,
		`SELECT * FROM members WHERE email_hash = $1`, emailHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// RecordUnlock bumps the member's unlock counter and current tier after a
// successful key redemption.
func (r *MemberRepository) RecordUnlock(ctx context.Context, id, tier string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE members
		SET total_unlocks = total_unlocks + 1, tier = $2, updated_at = NOW()
		WHERE id = $1
	`, id, tier)
	return err
}

// SetTier changes a member's tier (admin operation).
func (r *MemberRepository) SetTier(ctx context.Context, id, tier string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE members SET tier = $2, updated_at = NOW() WHERE id = $1`, id, tier)
	return err
}

// SetFlagged flags or unflags a member. Members are never deleted.
func (r *MemberRepository) SetFlagged(ctx context.Context, id string, flagged bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE members SET flagged = $2, updated_at = NOW() WHERE id = $1`, id, flagged)
	return err
}

// List returns members ordered by creation time, newest first.
func (r *MemberRepository) List(ctx context.Context, limit, offset int) ([]*models.Member, error) {
	members := make([]*models.Member, 0)
	err := r.db.SelectContext(ctx, &members, `
		SELECT * FROM members
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return members, nil
}

// Count returns the total number of members.
func (r *MemberRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM members`)
	return count, err
}
