// Package sessions manages the opaque server-side sessions minted by key
// redemption. A session ID is a pure random handle: it carries no claims,
// so nothing about it can be forged, replayed past expiry, or parsed.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vault-gate/vault-gate/internal/auth"
	"github.com/vault-gate/vault-gate/internal/db/models"
)

// ErrNoSession is returned by Verify when the presented ID does not resolve
// to a live session. Missing, expired, and revoked all collapse into this one
// error; callers get no oracle for which it was.
var ErrNoSession = errors.New("no valid session")

// SessionRepo is the subset of the session repository the store needs.
type SessionRepo interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Revoke(ctx context.Context, id, reason string) error
	RevokeAllForMember(ctx context.Context, memberID, reason string) (int64, error)
}

// Store mints and verifies sessions.
type Store struct {
	repo SessionRepo
	ttl  time.Duration
	log  *slog.Logger
	now  func() time.Time
}

// NewStore creates a session store with the given session lifetime.
func NewStore(repo SessionRepo, ttl time.Duration, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{repo: repo, ttl: ttl, log: log, now: time.Now}
}

// Mint creates a session for the member at the given tier. The tier is fixed
// for the session's whole life; a tier change requires a new session.
func (s *Store) Mint(ctx context.Context, memberID, tier string, meta map[string]string) (*models.Session, error) {
	id, err := auth.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	session := &models.Session{
		ID:        id,
		MemberID:  memberID,
		Tier:      tier,
		CreatedAt: s.now(),
		ExpiresAt: s.now().Add(s.ttl),
	}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal session metadata: %w", err)
		}
		session.Metadata = raw
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info("session minted", "member_id", memberID, "tier", tier,
		"expires_at", session.ExpiresAt)
	return session, nil
}

// Verify resolves a session ID to a live session. Every gated request passes
// through here, so it is a single primary-key read.
func (s *Store) Verify(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil || !session.Live(s.now()) {
		return nil, ErrNoSession
	}
	return session, nil
}

// Revoke invalidates a session. Revoking an unknown or already-revoked
// session succeeds: logout and admin revocation are retried blindly.
func (s *Store) Revoke(ctx context.Context, id, reason string) error {
	if id == "" {
		return nil
	}
	if err := s.repo.Revoke(ctx, id, reason); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForMember kills every live session a member holds. Session tier is
// immutable, so this is how an admin downgrade takes effect immediately.
func (s *Store) RevokeAllForMember(ctx context.Context, memberID, reason string) (int64, error) {
	n, err := s.repo.RevokeAllForMember(ctx, memberID, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke member sessions: %w", err)
	}
	if n > 0 {
		s.log.Info("member sessions revoked", "member_id", memberID, "count", n, "reason", reason)
	}
	return n, nil
}
