package keystore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vault-gate/vault-gate/internal/auth"
	"github.com/vault-gate/vault-gate/internal/db/models"
	"github.com/vault-gate/vault-gate/internal/tier"
)

// ---------------------------------------------------------------------------
// In-memory fakes. fakeKeys.Redeem performs the same conditional flip the
// SQL UPDATE does, under a mutex, so concurrency behaviour is faithful.
// ---------------------------------------------------------------------------

type fakeMembers struct {
	mu      sync.Mutex
	byHash  map[string]*models.Member
	byID    map[string]*models.Member
	unlocks map[string]int
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{
		byHash:  make(map[string]*models.Member),
		byID:    make(map[string]*models.Member),
		unlocks: make(map[string]int),
	}
}

func (f *fakeMembers) Upsert(_ context.Context, m *models.Member) (*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byHash[m.EmailHash]; ok {
		if m.Name != "" {
			existing.Name = m.Name
		}
		out := *existing
		return &out, nil
	}
	stored := *m
	if stored.ID == "" {
		stored.ID = "member-" + m.EmailHash[:8]
	}
	f.byHash[m.EmailHash] = &stored
	f.byID[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeMembers) GetByID(_ context.Context, id string) (*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (f *fakeMembers) GetByEmailHash(_ context.Context, hash string) (*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byHash[hash]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (f *fakeMembers) RecordUnlock(_ context.Context, id, t string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks[id]++
	if m, ok := f.byID[id]; ok {
		m.Tier = t
	}
	return nil
}

type fakeKeys struct {
	mu     sync.Mutex
	byHash map[string]*models.AccessKey
	now    func() time.Time
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{byHash: make(map[string]*models.AccessKey), now: time.Now}
}

func (f *fakeKeys) Create(_ context.Context, k *models.AccessKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *k
	if stored.ID == "" {
		stored.ID = "key-" + k.KeyHash[:8]
	}
	if stored.Status == "" {
		stored.Status = models.KeyStatusActive
	}
	f.byHash[k.KeyHash] = &stored
	k.ID = stored.ID
	k.Status = stored.Status
	return nil
}

func (f *fakeKeys) GetByHash(_ context.Context, hash string) (*models.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.byHash[hash]
	if !ok {
		return nil, nil
	}
	out := *k
	return &out, nil
}

func (f *fakeKeys) GetLatestActiveForMember(_ context.Context, memberID string) (*models.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.AccessKey
	for _, k := range f.byHash {
		if k.MemberID != memberID || k.Status != models.KeyStatusActive {
			continue
		}
		if k.ExpiresAt != nil && !k.ExpiresAt.After(f.now()) {
			continue
		}
		if latest == nil || k.IssuedAt.After(latest.IssuedAt) {
			latest = k
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (f *fakeKeys) Redeem(_ context.Context, hash string) (*models.AccessKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.byHash[hash]
	if !ok || k.Status != models.KeyStatusActive {
		return nil, nil
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(f.now()) {
		return nil, nil
	}
	now := f.now()
	k.Status = models.KeyStatusRedeemed
	k.RedeemedAt = &now
	out := *k
	return &out, nil
}

func newTestStore(t *testing.T) (*Store, *fakeMembers, *fakeKeys) {
	t.Helper()
	members := newFakeMembers()
	keys := newFakeKeys()
	return NewStore(members, keys, nil), members, keys
}

// ---------------------------------------------------------------------------
// Issue
// ---------------------------------------------------------------------------

func TestIssue_NewMember(t *testing.T) {
	store, members, _ := newTestStore(t)

	issued, err := store.Issue(context.Background(), "ada@example.com", "Ada", tier.Member, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if issued.Secret == "" {
		t.Error("expected a fresh secret")
	}
	if issued.Tier != "member" {
		t.Errorf("Tier = %s, want member", issued.Tier)
	}
	if issued.ExpiresAt == nil {
		t.Error("expected expiry to be set")
	}
	if issued.Reused {
		t.Error("fresh issue must not be marked reused")
	}
	if len(members.byHash) != 1 {
		t.Errorf("members = %d, want 1", len(members.byHash))
	}
}

func TestIssue_SecondKeyForSameMember(t *testing.T) {
	store, members, keys := newTestStore(t)
	ctx := context.Background()

	first, _ := store.Issue(ctx, "ada@example.com", "Ada", tier.Member, time.Hour)
	second, err := store.Issue(ctx, "ada@example.com", "", tier.MemberPlus, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if first.Secret == second.Secret {
		t.Error("two issues produced the same secret")
	}
	if len(members.byHash) != 1 {
		t.Errorf("members = %d, want 1 (same email upserts)", len(members.byHash))
	}
	if len(keys.byHash) != 2 {
		t.Errorf("keys = %d, want 2 (issuing is additive)", len(keys.byHash))
	}
}

func TestIssue_ZeroTTLMeansNoExpiry(t *testing.T) {
	store, _, _ := newTestStore(t)

	issued, err := store.Issue(context.Background(), "ada@example.com", "Ada", tier.Private, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if issued.ExpiresAt != nil {
		t.Error("zero TTL should leave expiry unset")
	}
}

// ---------------------------------------------------------------------------
// Resend
// ---------------------------------------------------------------------------

func TestResend_ActiveKeyIsReusedNotRotated(t *testing.T) {
	store, _, keys := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "ada@example.com", "Ada", tier.Member, time.Hour)

	resent, err := store.Resend(ctx, "ada@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Resend() error: %v", err)
	}
	if !resent.Reused {
		t.Error("expected the outstanding key to be reused")
	}
	if resent.Secret != "" {
		t.Error("resend of an active key must not expose a secret")
	}
	if resent.Suffix != issued.Suffix {
		t.Errorf("Suffix = %s, want %s", resent.Suffix, issued.Suffix)
	}
	if len(keys.byHash) != 1 {
		t.Errorf("keys = %d, want 1 (no rotation)", len(keys.byHash))
	}
}

func TestResend_RotatesAfterRevocation(t *testing.T) {
	store, _, keys := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "ada@example.com", "Ada", tier.MemberPlus, time.Hour)

	// Revoke the outstanding key out of band.
	keys.mu.Lock()
	keys.byHash[auth.HashKeySecret(issued.Secret)].Status = models.KeyStatusRevoked
	keys.mu.Unlock()

	resent, err := store.Resend(ctx, "ada@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Resend() error: %v", err)
	}
	if resent.Reused {
		t.Error("expected rotation after revocation")
	}
	if resent.Secret == "" {
		t.Error("rotation must mint a fresh secret")
	}
	if len(keys.byHash) != 2 {
		t.Errorf("keys = %d, want 2", len(keys.byHash))
	}
}

func TestResend_UnknownMember(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Resend(context.Background(), "nobody@example.com", time.Hour)
	if !errors.Is(err, ErrUnknownMember) {
		t.Errorf("error = %v, want ErrUnknownMember", err)
	}
}

// ---------------------------------------------------------------------------
// Redeem
// ---------------------------------------------------------------------------

func TestRedeem_Success(t *testing.T) {
	store, members, _ := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "ada@example.com", "Ada", tier.MemberElite, time.Hour)

	redemption, err := store.Redeem(ctx, issued.Secret)
	if err != nil {
		t.Fatalf("Redeem() error: %v", err)
	}
	if redemption.Key.Status != models.KeyStatusRedeemed {
		t.Errorf("Status = %s, want redeemed", redemption.Key.Status)
	}
	if redemption.Member.Tier != "member-elite" {
		t.Errorf("member tier = %s, want member-elite", redemption.Member.Tier)
	}
	if members.unlocks[redemption.Member.ID] != 1 {
		t.Errorf("unlocks = %d, want 1", members.unlocks[redemption.Member.ID])
	}
}

func TestRedeem_SecondAttemptFails(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "ada@example.com", "Ada", tier.Member, time.Hour)

	if _, err := store.Redeem(ctx, issued.Secret); err != nil {
		t.Fatalf("first Redeem() error: %v", err)
	}
	_, err := store.Redeem(ctx, issued.Secret)
	if !errors.Is(err, ErrAlreadyRedeemed) {
		t.Errorf("second redeem error = %v, want ErrAlreadyRedeemed", err)
	}
}

func TestRedeem_UnknownSecret(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Redeem(context.Background(), "vk_never-issued")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("error = %v, want ErrKeyNotFound", err)
	}
}

func TestRedeem_RevokedKey(t *testing.T) {
	store, _, keys := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "ada@example.com", "Ada", tier.Member, time.Hour)
	keys.mu.Lock()
	keys.byHash[auth.HashKeySecret(issued.Secret)].Status = models.KeyStatusRevoked
	keys.mu.Unlock()

	_, err := store.Redeem(ctx, issued.Secret)
	if !errors.Is(err, ErrKeyRevoked) {
		t.Errorf("error = %v, want ErrKeyRevoked", err)
	}
}

func TestRedeem_ExpiredKey(t *testing.T) {
	store, _, keys := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "ada@example.com", "Ada", tier.Member, time.Hour)

	// Push the clock past expiry for the key fake only; the key row still
	// says active, mirroring an expiry the sweep has not caught up with.
	keys.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := store.Redeem(ctx, issued.Secret)
	if !errors.Is(err, ErrKeyExpired) {
		t.Errorf("error = %v, want ErrKeyExpired", err)
	}
}

func TestRedeem_ExactlyOnceUnderConcurrency(t *testing.T) {
	store, members, _ := newTestStore(t)
	ctx := context.Background()

	issued, _ := store.Issue(ctx, "ada@example.com", "Ada", tier.Member, time.Hour)

	const attempts = 100
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Redeem(ctx, issued.Secret)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, alreadyRedeemed int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyRedeemed):
			alreadyRedeemed++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
	if alreadyRedeemed != attempts-1 {
		t.Errorf("alreadyRedeemed = %d, want %d", alreadyRedeemed, attempts-1)
	}
	if members.unlocks[issued.MemberID] != 1 {
		t.Errorf("unlocks = %d, want 1", members.unlocks[issued.MemberID])
	}
}
