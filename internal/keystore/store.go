// Package keystore implements the access key lifecycle: issuing single-use
// keys to members, resending outstanding ones, and redeeming them for a
// member identity. Redemption is exactly-once: the active→redeemed flip is a
// single conditional UPDATE in the repository, so of N concurrent attempts
// with the same secret exactly one succeeds.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vault-gate/vault-gate/internal/auth"
	"github.com/vault-gate/vault-gate/internal/db/models"
	"github.com/vault-gate/vault-gate/internal/tier"
)

// Redemption failure taxonomy. Handlers collapse all of these into one
// generic denial; the distinction exists for audit records only.
var (
	ErrKeyNotFound     = errors.New("access key not found")
	ErrAlreadyRedeemed = errors.New("access key already redeemed")
	ErrKeyRevoked      = errors.New("access key revoked")
	ErrKeyExpired      = errors.New("access key expired")
	ErrUnknownMember   = errors.New("unknown member")
)

// MemberRepo is the subset of the member repository the store needs.
type MemberRepo interface {
	Upsert(ctx context.Context, member *models.Member) (*models.Member, error)
	GetByID(ctx context.Context, id string) (*models.Member, error)
	GetByEmailHash(ctx context.Context, emailHash string) (*models.Member, error)
	RecordUnlock(ctx context.Context, id, tier string) error
}

// KeyRepo is the subset of the access key repository the store needs.
type KeyRepo interface {
	Create(ctx context.Context, key *models.AccessKey) error
	GetByHash(ctx context.Context, keyHash string) (*models.AccessKey, error)
	GetLatestActiveForMember(ctx context.Context, memberID string) (*models.AccessKey, error)
	Redeem(ctx context.Context, keyHash string) (*models.AccessKey, error)
}

// IssuedKey is the result of issuing or resending a key. Secret is populated
// only when a fresh secret was generated on this call; the plaintext is never
// stored, so a resend of a still-active key carries suffix and expiry only.
type IssuedKey struct {
	MemberID  string
	Secret    string
	Suffix    string
	Tier      string
	ExpiresAt *time.Time
	Reused    bool
}

// Redemption is the result of a successful key redemption.
type Redemption struct {
	Member *models.Member
	Key    *models.AccessKey
}

// Store coordinates members and access keys.
type Store struct {
	members MemberRepo
	keys    KeyRepo
	log     *slog.Logger
	now     func() time.Time
}

// NewStore creates a key store over the given repositories.
func NewStore(members MemberRepo, keys KeyRepo, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{members: members, keys: keys, log: log, now: time.Now}
}

// Issue upserts the member identified by email and mints a new access key at
// the given tier. The returned secret is shown to the caller exactly once.
// Existing active keys are left alone: issuing is additive, revocation is a
// separate admin action.
func (s *Store) Issue(ctx context.Context, email, name string, t tier.Tier, ttl time.Duration) (*IssuedKey, error) {
	emailHash := auth.HashEmail(email)
	member, err := s.members.Upsert(ctx, &models.Member{
		EmailHash:   emailHash,
		EmailPrefix: auth.EmailHashPrefix(emailHash),
		Name:        name,
		Tier:        tier.Public.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert member: %w", err)
	}

	return s.mint(ctx, member.ID, t, ttl)
}

// Resend returns the member's outstanding key without rotating it when one
// is still active, making retried "send me my key" requests idempotent. Only
// after the latest key has been revoked or expired does a resend mint a
// fresh secret.
func (s *Store) Resend(ctx context.Context, email string, ttl time.Duration) (*IssuedKey, error) {
	member, err := s.members.GetByEmailHash(ctx, auth.HashEmail(email))
	if err != nil {
		return nil, fmt.Errorf("lookup member: %w", err)
	}
	if member == nil {
		return nil, ErrUnknownMember
	}

	active, err := s.keys.GetLatestActiveForMember(ctx, member.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup active key: %w", err)
	}
	if active != nil {
		return &IssuedKey{
			MemberID:  member.ID,
			Suffix:    active.KeySuffix,
			Tier:      active.Tier,
			ExpiresAt: active.ExpiresAt,
			Reused:    true,
		}, nil
	}

	// No active key left; rotate. The new key carries the tier the member
	// last held so a lapsed key does not silently upgrade anyone.
	t, err := tier.Parse(member.Tier)
	if err != nil {
		t = tier.Public
	}
	return s.mint(ctx, member.ID, t, ttl)
}

func (s *Store) mint(ctx context.Context, memberID string, t tier.Tier, ttl time.Duration) (*IssuedKey, error) {
	secret, hash, suffix, err := auth.GenerateKeySecret()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	key := &models.AccessKey{
		MemberID:  memberID,
		KeyHash:   hash,
		KeySuffix: suffix,
		Tier:      t.String(),
		IssuedAt:  s.now(),
	}
	if ttl > 0 {
		expires := s.now().Add(ttl)
		key.ExpiresAt = &expires
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}

	s.log.Info("access key issued",
		"member_id", memberID, "tier", key.Tier, "suffix", suffix)

	return &IssuedKey{
		MemberID:  memberID,
		Secret:    secret,
		Suffix:    suffix,
		Tier:      key.Tier,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// Redeem exchanges a key secret for the member behind it, flipping the key
// to redeemed. The flip is atomic in the repository; when it reports no row,
// a follow-up read classifies the reason for the audit trail. The classifying
// read is advisory only — the UPDATE already decided the outcome.
func (s *Store) Redeem(ctx context.Context, secret string) (*Redemption, error) {
	hash := auth.HashKeySecret(secret)

	key, err := s.keys.Redeem(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("redeem key: %w", err)
	}
	if key == nil {
		return nil, s.classify(ctx, hash)
	}

	if err := s.members.RecordUnlock(ctx, key.MemberID, key.Tier); err != nil {
		// The key is spent either way; a failed counter bump must not turn a
		// successful redemption into a denial.
		s.log.Error("record unlock failed", "member_id", key.MemberID, "error", err)
	}

	member, err := s.members.GetByID(ctx, key.MemberID)
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	if member == nil {
		return nil, ErrUnknownMember
	}

	s.log.Info("access key redeemed",
		"member_id", key.MemberID, "tier", key.Tier, "suffix", key.KeySuffix)

	return &Redemption{Member: member, Key: key}, nil
}

func (s *Store) classify(ctx context.Context, hash string) error {
	existing, err := s.keys.GetByHash(ctx, hash)
	if err != nil || existing == nil {
		return ErrKeyNotFound
	}
	switch existing.Status {
	case models.KeyStatusRedeemed:
		return ErrAlreadyRedeemed
	case models.KeyStatusRevoked:
		return ErrKeyRevoked
	case models.KeyStatusExpired:
		return ErrKeyExpired
	case models.KeyStatusActive:
		// Active but the conditional UPDATE skipped it: expiry passed between
		// issuance and now, ahead of the sweep.
		return ErrKeyExpired
	default:
		return ErrKeyNotFound
	}
}
