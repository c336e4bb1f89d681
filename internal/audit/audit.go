// Package audit records security-relevant events: key issuance, redemptions,
// authorization verdicts, revocations, and admin actions. Audit records are
// intentionally separate from application logs — application logs are
// ephemeral debug output, audit rows are append-only records with their own
// consumers and retention. The primary sink is the audit_events table; an
// optional shipper forwards copies to a webhook or append-only file for SIEM
// ingestion.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/vault-gate/vault-gate/internal/db/models"
	"github.com/vault-gate/vault-gate/internal/safego"
)

// Actor types.
const (
	ActorMember    = "member"
	ActorAdmin     = "admin"
	ActorAnonymous = "anonymous"
	ActorSystem    = "system"
)

// Severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is one audit record before persistence.
type Event struct {
	ActorType string
	ActorID   string
	Action    string
	Resource  string
	Outcome   string
	Severity  string
	IP        string
	Meta      map[string]interface{}
}

// Sink persists audit events.
type Sink interface {
	Create(ctx context.Context, event *models.AuditEvent) error
}

// Recorder fans audit events out to the database sink and an optional
// shipper. Writes are asynchronous: authorization latency must not depend on
// audit I/O, and an audit failure must never turn a grant into a denial. A
// failed write is logged and dropped.
type Recorder struct {
	sink    Sink
	shipper Shipper
	log     *slog.Logger
	timeout time.Duration
}

// NewRecorder creates a recorder over the given sink. shipper may be nil.
func NewRecorder(sink Sink, shipper Shipper, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sink: sink, shipper: shipper, log: log, timeout: 5 * time.Second}
}

// Record persists the event in the background and returns immediately.
func (r *Recorder) Record(event Event) {
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.ActorType == "" {
		event.ActorType = ActorAnonymous
	}

	row := &models.AuditEvent{
		ActorType: event.ActorType,
		Action:    event.Action,
		Outcome:   event.Outcome,
		Severity:  event.Severity,
		Metadata:  event.Meta,
		CreatedAt: time.Now(),
	}
	if event.ActorID != "" {
		row.ActorID = &event.ActorID
	}
	if event.Resource != "" {
		row.Resource = &event.Resource
	}
	if event.IP != "" {
		row.IPAddress = &event.IP
	}

	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.sink.Create(ctx, row); err != nil {
			r.log.Error("audit write failed",
				"action", event.Action, "outcome", event.Outcome, "error", err)
		}
		if r.shipper != nil {
			if err := r.shipper.Ship(ctx, row); err != nil {
				r.log.Error("audit ship failed", "action", event.Action, "error", err)
			}
		}
	})
}
