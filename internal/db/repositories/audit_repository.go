// audit_repository.go implements AuditRepository, providing append and
// filtered-read access to the audit_events table. The core never updates or
// deletes audit rows; retention is an external concern.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vault-gate/vault-gate/internal/db/models"
)

// AuditRepository handles audit event database operations.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters narrows audit event queries.
type AuditFilters struct {
	ActorID   *string
	Action    *string
	Outcome   *string
	StartDate *time.Time
	EndDate   *time.Time
}

// Create appends a new audit event.
func (r *AuditRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_events (id, actor_type, actor_id, action, resource, outcome, severity, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.ActorType, event.ActorID, event.Action, event.Resource,
		event.Outcome, event.Severity, event.IPAddress, metadataJSON, event.CreatedAt)
	return err
}

// List retrieves audit events with optional filters and pagination, newest
// first, along with the total count matching the filters.
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditEvent, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_events WHERE 1=1`
	query := `
		SELECT id, actor_type, actor_id, action, resource, outcome, severity, ip_address, metadata, created_at
		FROM audit_events
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(clause string, value interface{}) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.ActorID != nil {
		addFilter(` AND actor_id = $%d`, *filters.ActorID)
	}
	if filters.Action != nil {
		addFilter(` AND action = $%d`, *filters.Action)
	}
	if filters.Outcome != nil {
		addFilter(` AND outcome = $%d`, *filters.Outcome)
	}
	if filters.StartDate != nil {
		addFilter(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		event := &models.AuditEvent{}
		var metadataJSON []byte

		err := rows.Scan(
			&event.ID, &event.ActorType, &event.ActorID, &event.Action, &event.Resource,
			&event.Outcome, &event.Severity, &event.IPAddress, &metadataJSON, &event.CreatedAt)
		if err != nil {
			return nil, 0, err
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, 0, err
			}
		}
		events = append(events, event)
	}

	return events, total, rows.Err()
}

// CountByOutcome returns event counts grouped by outcome since the cutoff,
// for the admin stats view.
func (r *AuditRepository) CountByOutcome(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM audit_events
		WHERE created_at >= $1
		GROUP BY outcome
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[outcome] = count
	}
	return counts, rows.Err()
}
