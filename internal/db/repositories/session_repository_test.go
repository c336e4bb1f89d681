package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/vault-gate/vault-gate/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var sessionCols = []string{
	"id", "member_id", "tier", "metadata",
	"created_at", "expires_at", "revoked_at", "revoke_reason",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleSessionRow() *sqlmock.Rows {
	return sqlmock.NewRows(sessionCols).
		AddRow("sess-1", "member-1", "member", nil,
			time.Now(), time.Now().Add(time.Hour), nil, nil)
}

func emptySessionRow() *sqlmock.Rows {
	return sqlmock.NewRows(sessionCols)
}

func newSessionRepo(t *testing.T) (*SessionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreateSession_Success(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.Session{
		ID:        "sess-new",
		MemberID:  "member-1",
		Tier:      "member",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateSession_DBError(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnError(errDB)

	session := &models.Session{ID: "sess-new", MemberID: "member-1"}
	if err := repo.Create(context.Background(), session); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestGetSessionByID_Found(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectQuery("SELECT.*FROM sessions WHERE id").
		WithArgs("sess-1").
		WillReturnRows(sampleSessionRow())

	session, err := repo.GetByID(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil {
		t.Fatal("expected session, got nil")
	}
	if !session.Live(time.Now()) {
		t.Error("expected live session")
	}
}

func TestGetSessionByID_NotFound(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectQuery("SELECT.*FROM sessions WHERE id").
		WillReturnRows(emptySessionRow())

	session, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Error("expected nil, got non-nil")
	}
}

// ---------------------------------------------------------------------------
// Revoke / RevokeAllForMember
// ---------------------------------------------------------------------------

func TestRevokeSession_Success(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectExec("UPDATE sessions.*SET revoked_at").
		WithArgs("sess-1", "logout").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Revoke(context.Background(), "sess-1", "logout"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevokeSession_AlreadyRevoked(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectExec("UPDATE sessions.*SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Zero rows affected is still success: revoke is idempotent.
	if err := repo.Revoke(context.Background(), "sess-1", "logout"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevokeAllForMember_Success(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectExec("UPDATE sessions.*WHERE member_id").
		WithArgs("member-1", "tier downgraded").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.RevokeAllForMember(context.Background(), "member-1", "tier downgraded")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
}

// ---------------------------------------------------------------------------
// DeleteExpired / CountActive
// ---------------------------------------------------------------------------

func TestDeleteExpiredSessions_Success(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectExec("DELETE FROM sessions WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := repo.DeleteExpired(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
}

func TestCountActiveSessions_Success(t *testing.T) {
	repo, mock := newSessionRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM sessions").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := repo.CountActive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 12 {
		t.Errorf("count = %d, want 12", count)
	}
}
