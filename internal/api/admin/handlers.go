// Package admin implements the operator API. Every route in this group sits
// behind the bearer-credential middleware; handlers here can therefore speak
// precisely about members, keys, and denial reasons that the public surface
// deliberately hides.
package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/db/models"
	"github.com/vault-gate/vault-gate/internal/db/repositories"
	"github.com/vault-gate/vault-gate/internal/sessions"
)

// Handler serves the admin API.
type Handler struct {
	members     *repositories.MemberRepository
	keys        *repositories.AccessKeyRepository
	sessionRepo *repositories.SessionRepository
	auditRepo   *repositories.AuditRepository
	sessions    *sessions.Store
	recorder    *audit.Recorder
}

// NewHandler creates an admin handler.
func NewHandler(
	members *repositories.MemberRepository,
	keys *repositories.AccessKeyRepository,
	sessionRepo *repositories.SessionRepository,
	auditRepo *repositories.AuditRepository,
	store *sessions.Store,
	recorder *audit.Recorder,
) *Handler {
	return &Handler{
		members:     members,
		keys:        keys,
		sessionRepo: sessionRepo,
		auditRepo:   auditRepo,
		sessions:    store,
		recorder:    recorder,
	}
}

// pagination reads limit/offset query params with sane bounds.
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type revokeRequest struct {
	SessionID string `json:"session_id"`
	KeyHash   string `json:"key_hash"`
	MemberID  string `json:"member_id"`
	Reason    string `json:"reason"`
}

// Revoke cuts credentials off. Any combination of a session ID, a key hash,
// and a member ID may be supplied; revoking something already revoked or
// missing still reports success — the desired end state holds either way.
// Revoking by member ID kills all of that member's sessions, which is how an
// operator makes a tier downgrade take effect immediately.
func (h *Handler) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.SessionID == "" && req.KeyHash == "" && req.MemberID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of session_id, key_hash, member_id is required"})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "admin revocation"
	}
	ctx := c.Request.Context()

	result := gin.H{}
	meta := map[string]interface{}{"reason": reason}

	if req.SessionID != "" {
		if err := h.sessions.Revoke(ctx, req.SessionID, reason); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session revocation failed"})
			return
		}
		result["session_revoked"] = true
		meta["session"] = true
	}
	if req.KeyHash != "" {
		changed, err := h.keys.Revoke(ctx, req.KeyHash, reason)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "key revocation failed"})
			return
		}
		result["key_revoked"] = changed
		meta["key"] = true
	}
	if req.MemberID != "" {
		n, err := h.sessions.RevokeAllForMember(ctx, req.MemberID, reason)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "member revocation failed"})
			return
		}
		result["sessions_revoked"] = n
		meta["member_id"] = req.MemberID
	}

	h.recorder.Record(audit.Event{
		ActorType: audit.ActorAdmin,
		Action:    "admin.revoke",
		Outcome:   models.OutcomeSuccess,
		IP:        c.ClientIP(),
		Meta:      meta,
	})
	c.JSON(http.StatusOK, result)
}

// ListMembers returns the member roster. Only the hash prefix of the email
// is available; the raw address was never stored.
func (h *Handler) ListMembers(c *gin.Context) {
	limit, offset := pagination(c)
	ctx := c.Request.Context()

	members, err := h.members.List(ctx, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing members failed"})
		return
	}
	total, err := h.members.Count(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "counting members failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"members": members,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// ListKeys returns issued keys across all members, newest first.
func (h *Handler) ListKeys(c *gin.Context) {
	limit, offset := pagination(c)

	keys, err := h.keys.ListAll(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing keys failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":   keys,
		"limit":  limit,
		"offset": offset,
	})
}

// ListAudit returns audit events with optional filters. This is the only
// surface where denial reasons are readable.
func (h *Handler) ListAudit(c *gin.Context) {
	limit, offset := pagination(c)

	var filters repositories.AuditFilters
	if v := c.Query("actor_id"); v != "" {
		filters.ActorID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("outcome"); v != "" {
		filters.Outcome = &v
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
			return
		}
		filters.StartDate = &t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
			return
		}
		filters.EndDate = &t
	}

	events, total, err := h.auditRepo.List(c.Request.Context(), filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing audit events failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Stats returns the operator dashboard counts in one response.
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	memberCount, err := h.members.Count(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	keysByStatus, err := h.keys.CountByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	activeSessions, err := h.sessionRepo.CountActive(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	outcomes, err := h.auditRepo.CountByOutcome(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"members":         memberCount,
		"keys":            keysByStatus,
		"active_sessions": activeSessions,
		"audit_24h":       outcomes,
	})
}
