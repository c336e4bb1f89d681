// Package keys implements the access key issuance endpoints. These sit
// behind the fulfillment boundary: whatever sells or grants memberships
// calls register, and members who lost their key call resend. Both are
// rate limited by scope middleware before the handlers run.
package keys

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/db/models"
	"github.com/vault-gate/vault-gate/internal/keystore"
	"github.com/vault-gate/vault-gate/internal/telemetry"
	"github.com/vault-gate/vault-gate/internal/tier"
)

// Handler serves key issuance requests.
type Handler struct {
	store    *keystore.Store
	recorder *audit.Recorder
	keyTTL   time.Duration
}

// NewHandler creates a keys handler.
func NewHandler(store *keystore.Store, recorder *audit.Recorder, keyTTL time.Duration) *Handler {
	return &Handler{store: store, recorder: recorder, keyTTL: keyTTL}
}

type registerRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"required"`
	Tier  string `json:"tier"`
}

// Register issues a fresh access key for the given address, creating the
// member row if needed. The response is the only place the plaintext secret
// ever appears; it is not stored and cannot be recovered later.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and name are required"})
		return
	}

	t := tier.Member
	if req.Tier != "" {
		parsed, err := tier.Parse(req.Tier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
			return
		}
		t = parsed
	}

	issued, err := h.store.Issue(c.Request.Context(), req.Email, req.Name, t, h.keyTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "key issuance failed"})
		return
	}

	telemetry.KeysIssuedTotal.WithLabelValues(issued.Tier).Inc()
	h.recorder.Record(audit.Event{
		ActorType: audit.ActorMember,
		ActorID:   issued.MemberID,
		Action:    "key.issue",
		Outcome:   models.OutcomeSuccess,
		IP:        c.ClientIP(),
		Meta: map[string]interface{}{
			"tier":   issued.Tier,
			"suffix": issued.Suffix,
		},
	})

	c.JSON(http.StatusCreated, gin.H{
		"key":        issued.Secret,
		"suffix":     issued.Suffix,
		"tier":       issued.Tier,
		"expires_at": issued.ExpiresAt,
	})
}

type resendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Resend returns the state of a member's current key. A still-active key is
// reported by suffix and expiry only (the plaintext is gone); a revoked or
// expired latest key is replaced by a fresh secret at the member's last held
// tier.
func (h *Handler) Resend(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	issued, err := h.store.Resend(c.Request.Context(), req.Email, h.keyTTL)
	if err != nil {
		if errors.Is(err, keystore.ErrUnknownMember) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resend failed"})
		return
	}

	outcome := "rotated"
	if issued.Reused {
		outcome = "reused"
	}
	h.recorder.Record(audit.Event{
		ActorType: audit.ActorMember,
		ActorID:   issued.MemberID,
		Action:    "key.resend",
		Outcome:   models.OutcomeSuccess,
		IP:        c.ClientIP(),
		Meta: map[string]interface{}{
			"tier":   issued.Tier,
			"suffix": issued.Suffix,
			"result": outcome,
		},
	})

	resp := gin.H{
		"suffix":     issued.Suffix,
		"tier":       issued.Tier,
		"expires_at": issued.ExpiresAt,
		"reused":     issued.Reused,
	}
	if !issued.Reused {
		telemetry.KeysIssuedTotal.WithLabelValues(issued.Tier).Inc()
		resp["key"] = issued.Secret
	}
	c.JSON(http.StatusOK, resp)
}
