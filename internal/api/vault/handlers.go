// Package vault implements the gated-content endpoint. The handler is a thin
// HTTP adapter over the gatekeeper: it resolves the slug's required tier from
// configuration, forwards the decision, and collapses every denial except
// rate limiting into one generic 403 so the response never explains itself.
package vault

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vault-gate/vault-gate/internal/gate"
	"github.com/vault-gate/vault-gate/internal/middleware"
	"github.com/vault-gate/vault-gate/internal/ratelimit"
	"github.com/vault-gate/vault-gate/internal/tier"
)

// TierResolver maps a vault slug to its required tier. Unknown slugs must
// resolve to Private.
type TierResolver func(slug string) tier.Tier

// Handler serves vault access requests.
type Handler struct {
	gate    *gate.Gatekeeper
	resolve TierResolver
}

// NewHandler creates a vault handler.
func NewHandler(g *gate.Gatekeeper, resolve TierResolver) *Handler {
	return &Handler{gate: g, resolve: resolve}
}

// writeRateHeaders emits the limiter state headers when the gate charged a
// bucket for this request.
func writeRateHeaders(c *gin.Context, res *ratelimit.PairResult) {
	if res == nil {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// WriteVerdict translates a gate verdict into the HTTP response. Shared with
// the downloads package so both gated surfaces deny identically.
func WriteVerdict(c *gin.Context, v gate.Verdict, grant gin.H) bool {
	writeRateHeaders(c, v.RateLimit)

	switch v.Outcome {
	case gate.OutcomeGranted:
		if grant != nil {
			c.JSON(http.StatusOK, grant)
		}
		return true
	case gate.OutcomeDeniedRateLimit:
		retryAfter := 1
		if v.RateLimit != nil && v.RateLimit.RetryAfter > time.Second {
			retryAfter = int(v.RateLimit.RetryAfter / time.Second)
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "retry_after": retryAfter})
		return false
	default:
		// denied-auth and denied-tier are indistinguishable from outside.
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return false
	}
}

// Get returns the access verdict for one vault resource. Content itself lives
// in external storage; a grant here is the entitlement the delivery layer
// trusts.
func (h *Handler) Get(c *gin.Context) {
	slug := c.Param("slug")
	required := h.resolve(slug)

	v := h.gate.Authorize(c.Request.Context(), gate.Request{
		Resource:  slug,
		Required:  required,
		SessionID: middleware.SessionID(c),
		Origin:    c.ClientIP(),
		Scope:     "vault",
	})

	WriteVerdict(c, v, gin.H{
		"slug":          slug,
		"required_tier": required.String(),
		"tier":          v.Held.String(),
		"granted":       true,
	})
}
