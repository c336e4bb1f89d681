// access_key_repository.go implements AccessKeyRepository, providing
// database queries for access key creation, lookup by hash, and the atomic
// redemption that flips a key from active to redeemed exactly once.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vault-gate/vault-gate/internal/db/models"
)

// AccessKeyRepository handles access key database operations.
type AccessKeyRepository struct {
	db *sqlx.DB
}

// NewAccessKeyRepository creates a new AccessKeyRepository.
func NewAccessKeyRepository(db *sqlx.DB) *AccessKeyRepository {
	return &AccessKeyRepository{db: db}
}

// Create persists a new access key row.
func (r *AccessKeyRepository) Create(ctx context.Context, key *models.AccessKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.IssuedAt.IsZero() {
		key.IssuedAt = time.Now()
	}
	if key.Status == "" {
		key.Status = models.KeyStatusActive
	}

	query := `
		INSERT INTO access_keys (id, member_id, key_hash, key_suffix, tier, status, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		key.ID, key.MemberID, key.KeyHash, key.KeySuffix, key.Tier, key.Status, key.IssuedAt, key.ExpiresAt)
	return err
}

// GetByHash retrieves a key by its secret hash. Returns (nil, nil) when absent.
func (r *AccessKeyRepository) GetByHash(ctx context.Context, keyHash string) (*models.AccessKey, error) {
	var key models.AccessKey
	err := r.db.GetContext(ctx, &key,
		`SELECT * FROM access_keys WHERE key_hash = $1`, keyHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetLatestActiveForMember returns the member's most recently issued active,
// unexpired key, or (nil, nil) if there is none. Used by the resend flow to
// decide between reusing the outstanding key and rotating a fresh one.
func (r *AccessKeyRepository) GetLatestActiveForMember(ctx context.Context, memberID string) (*models.AccessKey, error) {
	var key models.AccessKey
	err := r.db.GetContext(ctx, &key, `
		SELECT * FROM access_keys
		WHERE member_id = $1
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY issued_at DESC
		LIMIT 1
	`, memberID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// Redeem atomically flips an active, unexpired key to redeemed and returns
// the updated row. The status check and the flip happen in one conditional
// UPDATE, so of N concurrent redemption attempts for the same secret exactly
// one sees a row come back; the rest get (nil, nil) and the caller classifies
// the reason with a follow-up read. Read-then-write would race here.
func (r *AccessKeyRepository) Redeem(ctx context.Context, keyHash string) (*models.AccessKey, error) {
	var key models.AccessKey
	err := r.db.GetContext(ctx, &key, `
		UPDATE access_keys
		SET status = 'redeemed', redeemed_at = NOW()
		WHERE key_hash = $1
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > NOW())
		RETURNING *
	`, keyHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// Revoke flips a key to revoked with a reason. Revoking an already-inactive
// key is a no-op, so admin retries are safe. Returns whether a row actually
// changed.
func (r *AccessKeyRepository) Revoke(ctx context.Context, keyHash, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_keys
		SET status = 'revoked', revoked_at = NOW(), revoke_reason = $2
		WHERE key_hash = $1 AND status = 'active'
	`, keyHash, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkExpired flips active keys whose expiry has passed to expired, and
// returns how many rows changed. Called by the background sweep.
func (r *AccessKeyRepository) MarkExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_keys
		SET status = 'expired'
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByMember returns all keys for a member, newest first.
func (r *AccessKeyRepository) ListByMember(ctx context.Context, memberID string) ([]*models.AccessKey, error) {
	keys := make([]*models.AccessKey, 0)
	err := r.db.SelectContext(ctx, &keys, `
		SELECT * FROM access_keys
		WHERE member_id = $1
		ORDER BY issued_at DESC
	`, memberID)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListAll returns keys across all members for admin tooling, newest first.
func (r *AccessKeyRepository) ListAll(ctx context.Context, limit, offset int) ([]*models.AccessKey, error) {
	keys := make([]*models.AccessKey, 0)
	err := r.db.SelectContext(ctx, &keys, `
		SELECT * FROM access_keys
		ORDER BY issued_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// CountByStatus returns key counts grouped by status for the admin stats view.
func (r *AccessKeyRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM access_keys GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
