// Package session implements the redemption and session lifecycle endpoints.
// Redemption is the single moment an access key turns into a session; every
// failure mode returns the same generic denial so callers cannot probe
// whether a guessed key exists, was already used, or was revoked. The precise
// reason goes to the audit trail only.
package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/db/models"
	"github.com/vault-gate/vault-gate/internal/keystore"
	"github.com/vault-gate/vault-gate/internal/middleware"
	"github.com/vault-gate/vault-gate/internal/sessions"
	"github.com/vault-gate/vault-gate/internal/telemetry"
)

// CookieConfig controls how the session cookie is written.
type CookieConfig struct {
	Domain string
	Secure bool
	TTL    time.Duration
}

// Handler serves session lifecycle requests.
type Handler struct {
	keys     *keystore.Store
	sessions *sessions.Store
	recorder *audit.Recorder
	cookie   CookieConfig
}

// NewHandler creates a session handler.
func NewHandler(keys *keystore.Store, store *sessions.Store, recorder *audit.Recorder, cookie CookieConfig) *Handler {
	return &Handler{keys: keys, sessions: store, recorder: recorder, cookie: cookie}
}

type redeemRequest struct {
	Key string `json:"key" binding:"required"`
}

// redemptionResult maps a keystore error onto the metrics result label.
func redemptionResult(err error) string {
	switch {
	case errors.Is(err, keystore.ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, keystore.ErrKeyRevoked):
		return "revoked"
	case errors.Is(err, keystore.ErrKeyExpired):
		return "expired"
	case errors.Is(err, keystore.ErrKeyNotFound), errors.Is(err, keystore.ErrUnknownMember):
		return "not_found"
	default:
		return ""
	}
}

// Redeem exchanges a one-time access key for a session cookie. The session's
// tier is fixed from the key at this moment; later tier changes require a
// fresh key or an admin revocation.
func (h *Handler) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	redemption, err := h.keys.Redeem(c.Request.Context(), req.Key)
	if err != nil {
		result := redemptionResult(err)
		if result == "" {
			// Storage failure, not a bad key. Still no detail for the caller.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redemption unavailable"})
			return
		}
		telemetry.KeyRedemptionsTotal.WithLabelValues(result).Inc()
		h.recorder.Record(audit.Event{
			ActorType: audit.ActorAnonymous,
			Action:    "key.redeem",
			Outcome:   models.OutcomeFailed,
			Severity:  audit.SeverityWarning,
			IP:        c.ClientIP(),
			Meta:      map[string]interface{}{"reason": result},
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid key"})
		return
	}

	sess, err := h.sessions.Mint(c.Request.Context(), redemption.Member.ID, redemption.Key.Tier, map[string]string{
		"key_id": redemption.Key.ID,
	})
	if err != nil {
		// The key is burned but no session exists; resend recovers from this.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session creation failed"})
		return
	}

	telemetry.KeyRedemptionsTotal.WithLabelValues("success").Inc()
	h.recorder.Record(audit.Event{
		ActorType: audit.ActorMember,
		ActorID:   redemption.Member.ID,
		Action:    "key.redeem",
		Outcome:   models.OutcomeSuccess,
		IP:        c.ClientIP(),
		Meta: map[string]interface{}{
			"tier":   redemption.Key.Tier,
			"suffix": redemption.Key.KeySuffix,
		},
	})

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, sess.ID, int(h.cookie.TTL/time.Second), "/", h.cookie.Domain, h.cookie.Secure, true)
	c.JSON(http.StatusOK, gin.H{
		"tier":       sess.Tier,
		"expires_at": sess.ExpiresAt,
	})
}

// Logout revokes the presented session and clears the cookie. Always 204:
// logging out without a session, or twice, is not an error worth reporting.
func (h *Handler) Logout(c *gin.Context) {
	if id := middleware.SessionID(c); id != "" {
		if err := h.sessions.Revoke(c.Request.Context(), id, "logout"); err == nil {
			h.recorder.Record(audit.Event{
				ActorType: audit.ActorMember,
				Action:    "session.logout",
				Outcome:   models.OutcomeSuccess,
				IP:        c.ClientIP(),
			})
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, "", -1, "/", h.cookie.Domain, h.cookie.Secure, true)
	c.Status(http.StatusNoContent)
}

// Current introspects the presented session for the UI.
func (h *Handler) Current(c *gin.Context) {
	sess, err := h.sessions.Verify(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"member_id":  sess.MemberID,
		"tier":       sess.Tier,
		"created_at": sess.CreatedAt,
		"expires_at": sess.ExpiresAt,
	})
}
