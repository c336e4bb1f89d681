// Package downloads implements signed download links. Signing runs through
// the gatekeeper like any vault access; redemption verifies the token and
// then re-checks the redeeming session's CURRENT tier against the tier the
// token was signed for. A member downgraded between receiving a link and
// clicking it is denied even though the token itself is valid — tokens prove
// approval at issuance, sessions prove entitlement now.
package downloads

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vault-gate/vault-gate/internal/api/vault"
	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/db/models"
	"github.com/vault-gate/vault-gate/internal/gate"
	"github.com/vault-gate/vault-gate/internal/middleware"
	"github.com/vault-gate/vault-gate/internal/sessions"
	"github.com/vault-gate/vault-gate/internal/tier"
	"github.com/vault-gate/vault-gate/internal/token"
)

// Handler serves download token requests.
type Handler struct {
	gate     *gate.Gatekeeper
	svc      *token.DownloadService
	sessions *sessions.Store
	recorder *audit.Recorder
	resolve  vault.TierResolver
	ttl      time.Duration
	baseURL  string
}

// NewHandler creates a downloads handler.
func NewHandler(g *gate.Gatekeeper, svc *token.DownloadService, store *sessions.Store, recorder *audit.Recorder, resolve vault.TierResolver, ttl time.Duration, baseURL string) *Handler {
	return &Handler{gate: g, svc: svc, sessions: store, recorder: recorder, resolve: resolve, ttl: ttl, baseURL: baseURL}
}

type signRequest struct {
	Slug string `json:"slug" binding:"required"`
}

// Sign issues a short-lived download token for a resource the presenting
// session is entitled to. The authorization decision (and its audit event)
// belongs to the gatekeeper under the "download" scope.
func (h *Handler) Sign(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}
	required := h.resolve(req.Slug)

	v := h.gate.Authorize(c.Request.Context(), gate.Request{
		Resource:  req.Slug,
		Required:  required,
		SessionID: middleware.SessionID(c),
		Origin:    c.ClientIP(),
		Scope:     "download",
	})
	if !vault.WriteVerdict(c, v, nil) {
		return
	}

	tok, err := h.svc.Sign(req.Slug, required, h.ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      tok,
		"url":        h.baseURL + "/v1/downloads/redeem?token=" + tok,
		"expires_in": int(h.ttl / time.Second),
	})
}

// Redeem validates a download token and re-checks the live session against
// the tier the token was signed for. All failures share one 403 body.
func (h *Handler) Redeem(c *gin.Context) {
	deny := func(reason string, meta map[string]interface{}) {
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta["reason"] = reason
		h.recorder.Record(audit.Event{
			ActorType: audit.ActorAnonymous,
			Action:    "download.redeem",
			Outcome:   models.OutcomeFailed,
			IP:        c.ClientIP(),
			Meta:      meta,
		})
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	}

	claim, err := h.svc.Verify(c.Query("token"))
	if err != nil {
		deny("invalid-token", nil)
		return
	}
	required, err := claim.Tier()
	if err != nil {
		deny("invalid-token", nil)
		return
	}

	sess, err := h.sessions.Verify(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		deny("no-session", map[string]interface{}{"slug": claim.Slug})
		return
	}
	held, err := tier.Parse(sess.Tier)
	if err != nil {
		deny("corrupt-session", map[string]interface{}{"slug": claim.Slug})
		return
	}
	if !held.AtLeast(required) {
		// The downgrade-between-sign-and-redeem case lands here.
		deny("tier", map[string]interface{}{
			"slug":          claim.Slug,
			"held_tier":     held.String(),
			"required_tier": required.String(),
		})
		return
	}

	h.recorder.Record(audit.Event{
		ActorType: audit.ActorMember,
		ActorID:   sess.MemberID,
		Action:    "download.redeem",
		Outcome:   models.OutcomeSuccess,
		Resource:  claim.Slug,
		IP:        c.ClientIP(),
		Meta:      map[string]interface{}{"required_tier": required.String()},
	})

	c.JSON(http.StatusOK, gin.H{
		"slug":    claim.Slug,
		"granted": true,
	})
}
