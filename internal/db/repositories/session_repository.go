// session_repository.go implements SessionRepository. Session verification
// sits on the hot path of every gated request, so reads are a single
// primary-key SELECT with no joins.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vault-gate/vault-gate/internal/db/models"
)

// SessionRepository handles session database operations.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO sessions (id, member_id, tier, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.MemberID, session.Tier, session.Metadata, session.CreatedAt, session.ExpiresAt)
	return err
}

// GetByID retrieves a session by identifier. Returns (nil, nil) when absent.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := r.db.GetContext(ctx, &session,
		`SELECT * FROM sessions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Revoke flags a session revoked. Revoking a nonexistent or already-revoked
// session succeeds without effect so administrative retries are safe.
func (r *SessionRepository) Revoke(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = NOW(), revoke_reason = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, id, reason)
	return err
}

// RevokeAllForMember revokes every live session a member holds. Used when an
// admin downgrades or flags a member: the tier is fixed at mint time, so the
// only way to strip access is to kill the sessions carrying the old tier.
func (r *SessionRepository) RevokeAllForMember(ctx context.Context, memberID, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = NOW(), revoke_reason = $2
		WHERE member_id = $1 AND revoked_at IS NULL
	`, memberID, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes sessions whose expiry is older than the retention
// cutoff. Revocation is a logical flag, but long-dead rows have no audit
// value beyond the retention window and would grow the hot-path table.
func (r *SessionRepository) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountActive returns the number of live sessions for the admin stats view.
func (r *SessionRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sessions
		WHERE revoked_at IS NULL AND expires_at > NOW()
	`)
	return count, err
}
