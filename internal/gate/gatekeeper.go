// Package gate implements the gatekeeper: the single choke point every
// request for tiered content passes through. It composes the rate limiter,
// the session store, and the tier order into one decision, and guarantees
// that each decision produces exactly one audit event and one metrics
// increment — no more, no less, on every path out.
package gate

import (
	"context"
	"log/slog"

	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/db/models"
	"github.com/vault-gate/vault-gate/internal/ratelimit"
	"github.com/vault-gate/vault-gate/internal/sessions"
	"github.com/vault-gate/vault-gate/internal/telemetry"
	"github.com/vault-gate/vault-gate/internal/tier"
)

// Outcome is a terminal authorization verdict.
type Outcome string

const (
	OutcomeGranted         Outcome = "granted"
	OutcomeDeniedAuth      Outcome = "denied-auth"
	OutcomeDeniedTier      Outcome = "denied-tier"
	OutcomeDeniedRateLimit Outcome = "denied-rate-limit"
)

// Request describes one access attempt.
type Request struct {
	// Resource is the vault slug being requested, for audit.
	Resource string
	// Required is the tier the resource demands.
	Required tier.Tier
	// SessionID is the cookie-borne session identifier; may be empty.
	SessionID string
	// Origin is the client IP as reported by the HTTP layer.
	Origin string
	// Scope names the rate-limit bucket family ("vault", "download", ...).
	Scope string
}

// Verdict is the gatekeeper's decision. The precise outcome is for audit and
// admin surfaces; HTTP handlers map everything that is not granted onto one
// generic denial so the public response never reveals why.
type Verdict struct {
	Outcome  Outcome
	Held     tier.Tier
	MemberID string
	// RateLimit carries the limiter state for response headers on limited
	// paths. Nil when the limiter was short-circuited (public resources).
	RateLimit *ratelimit.PairResult
}

// Granted reports whether access was allowed.
func (v Verdict) Granted() bool { return v.Outcome == OutcomeGranted }

// SessionVerifier resolves session IDs to live sessions.
type SessionVerifier interface {
	Verify(ctx context.Context, id string) (*models.Session, error)
}

// Gatekeeper makes authorization decisions for tiered resources.
type Gatekeeper struct {
	sessions SessionVerifier
	limiter  *ratelimit.Limiter
	limits   ratelimit.Config
	recorder *audit.Recorder
	log      *slog.Logger
}

// New creates a gatekeeper. limits applies to every scope the gatekeeper
// evaluates; per-route scopes share the shape but use distinct bucket keys.
func New(sessions SessionVerifier, limiter *ratelimit.Limiter, limits ratelimit.Config, recorder *audit.Recorder, log *slog.Logger) *Gatekeeper {
	if log == nil {
		log = slog.Default()
	}
	return &Gatekeeper{
		sessions: sessions,
		limiter:  limiter,
		limits:   limits,
		recorder: recorder,
		log:      log,
	}
}

// Authorize runs the full decision pipeline:
// public short-circuit → rate limit → session validity → tier comparison.
//
// The rate limiter runs before the session check so an attacker cannot dodge
// it by omitting or fabricating cookies, and both bucket keys are always
// charged. A missing session and an expired session are indistinguishable in
// the verdict; the distinction lives only in the audit metadata.
func (g *Gatekeeper) Authorize(ctx context.Context, req Request) Verdict {
	if req.Scope == "" {
		req.Scope = "vault"
	}

	// Public resources are visible to everyone; no session, no rate charge.
	if req.Required == tier.Public {
		return g.finish(req, Verdict{Outcome: OutcomeGranted, Held: tier.Public}, nil)
	}

	// Anonymous requests fall back to an origin-derived identity bucket so
	// both takes land in distinct buckets and nobody is double-charged.
	originKey := ratelimit.OriginKey(req.Origin)
	identityKey := ratelimit.IdentityKey(req.Origin)
	if req.SessionID != "" {
		identityKey = ratelimit.IdentityKey(req.SessionID)
	}

	pair := g.limiter.TakePair(ctx, req.Scope, originKey, identityKey, g.limits)
	if !pair.Allowed {
		telemetry.RateLimitDeniedTotal.WithLabelValues(req.Scope).Inc()
		return g.finish(req, Verdict{Outcome: OutcomeDeniedRateLimit, RateLimit: &pair}, nil)
	}

	session, err := g.sessions.Verify(ctx, req.SessionID)
	if err != nil {
		// Missing, expired, revoked, and backend errors all deny. A storage
		// failure must not grant access.
		return g.finish(req, Verdict{Outcome: OutcomeDeniedAuth, RateLimit: &pair}, nil)
	}

	held, err := tier.Parse(session.Tier)
	if err != nil {
		// A session row carrying an unparseable tier is a data corruption
		// signal; deny rather than guess.
		g.log.Error("session carries unknown tier", "tier", session.Tier)
		return g.finish(req, Verdict{Outcome: OutcomeDeniedAuth, RateLimit: &pair}, session)
	}

	verdict := Verdict{Held: held, MemberID: session.MemberID, RateLimit: &pair}
	if !held.AtLeast(req.Required) {
		verdict.Outcome = OutcomeDeniedTier
		return g.finish(req, verdict, session)
	}

	verdict.Outcome = OutcomeGranted
	return g.finish(req, verdict, session)
}

// finish emits the single audit event and metrics increment for a terminal
// verdict. Every return path of Authorize funnels through here exactly once.
func (g *Gatekeeper) finish(req Request, v Verdict, session *models.Session) Verdict {
	telemetry.GateVerdictsTotal.WithLabelValues(string(v.Outcome), req.Required.String()).Inc()

	event := audit.Event{
		Action:   "vault.access",
		Resource: req.Resource,
		IP:       req.Origin,
		Meta: map[string]interface{}{
			"verdict":       string(v.Outcome),
			"required_tier": req.Required.String(),
		},
	}
	switch v.Outcome {
	case OutcomeGranted:
		event.Outcome = models.OutcomeSuccess
	case OutcomeDeniedRateLimit:
		event.Outcome = models.OutcomeFailed
		event.Severity = audit.SeverityWarning
	default:
		event.Outcome = models.OutcomeFailed
	}
	if session != nil {
		event.ActorType = audit.ActorMember
		event.ActorID = session.MemberID
		event.Meta["held_tier"] = session.Tier
	}
	g.recorder.Record(event)

	return v
}

var _ SessionVerifier = (*sessions.Store)(nil)
