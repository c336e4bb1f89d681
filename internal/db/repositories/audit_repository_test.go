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

var auditCols = []string{
	"id", "actor_type", "actor_id", "action", "resource",
	"outcome", "severity", "ip_address", "metadata", "created_at",
}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleAuditRow() *sqlmock.Rows {
	actor := "member-1"
	return sqlmock.NewRows(auditCols).
		AddRow("evt-1", "member", &actor, "session.redeem", nil,
			models.OutcomeSuccess, "info", nil, []byte(`{"tier":"member"}`), time.Now())
}

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreateAuditEvent_Success(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &models.AuditEvent{
		ActorType: "member",
		Action:    "session.redeem",
		Outcome:   models.OutcomeSuccess,
		Severity:  "info",
		Metadata:  map[string]interface{}{"tier": "member"},
	}
	if err := repo.Create(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID == "" {
		t.Error("expected generated ID, got empty")
	}
}

func TestCreateAuditEvent_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnError(errDB)

	event := &models.AuditEvent{ActorType: "system", Action: "keys.sweep", Outcome: models.OutcomeFailed, Severity: "error"}
	if err := repo.Create(context.Background(), event); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestListAuditEvents_NoFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT.*FROM audit_events.*ORDER BY created_at DESC").
		WillReturnRows(sampleAuditRow())

	events, total, err := repo.List(context.Background(), AuditFilters{}, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Metadata["tier"] != "member" {
		t.Errorf("Metadata[tier] = %v, want member", events[0].Metadata["tier"])
	}
}

func TestListAuditEvents_WithFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)
	actor := "member-1"
	outcome := models.OutcomeFailed
	mock.ExpectQuery("SELECT COUNT.*FROM audit_events.*actor_id.*outcome").
		WithArgs(actor, outcome).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT.*FROM audit_events.*actor_id.*outcome.*ORDER BY created_at DESC").
		WithArgs(actor, outcome, 50, 0).
		WillReturnRows(sqlmock.NewRows(auditCols))

	events, total, err := repo.List(context.Background(),
		AuditFilters{ActorID: &actor, Outcome: &outcome}, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(events) != 0 {
		t.Errorf("total = %d len = %d, want 0 0", total, len(events))
	}
}

func TestListAuditEvents_CountError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_events").
		WillReturnError(errDB)

	if _, _, err := repo.List(context.Background(), AuditFilters{}, 50, 0); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// CountByOutcome
// ---------------------------------------------------------------------------

func TestCountByOutcome_Success(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery("SELECT outcome, COUNT.*FROM audit_events.*GROUP BY outcome").
		WillReturnRows(sqlmock.NewRows([]string{"outcome", "count"}).
			AddRow("success", 20).
			AddRow("failed", 3))

	counts, err := repo.CountByOutcome(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts["success"] != 20 || counts["failed"] != 3 {
		t.Errorf("counts = %v, want success:20 failed:3", counts)
	}
}
