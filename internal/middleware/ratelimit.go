// ratelimit.go provides the per-scope Gin middleware in front of the key
// lifecycle endpoints (register, resend, redeem, download signing). Vault
// reads are limited inside the gatekeeper instead, so its denial shares the
// audit/metrics discipline of the other verdicts.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vault-gate/vault-gate/internal/config"
	"github.com/vault-gate/vault-gate/internal/ratelimit"
	"github.com/vault-gate/vault-gate/internal/telemetry"
)

// LimitConfig converts a configured rule into the limiter's runtime shape.
func LimitConfig(rule config.RateLimitRule) ratelimit.Config {
	return ratelimit.Config{
		Window:           rule.Window,
		Max:              rule.Max,
		BlockDuration:    rule.BlockDuration,
		MaxBlockDuration: rule.MaxBlockDuration,
		StrikeWindow:     rule.StrikeWindow,
	}
}

// RateLimitMiddleware enforces the dual-key limit for one scope. Both the
// normalized network origin and the claimed identity (session cookie when
// present, an origin-derived bucket otherwise) are charged on every request,
// so neither omitting cookies nor rotating them resets the accounting.
//
// Denials return 429 with a Retry-After header and a body that says nothing
// about which bucket tripped. Allowed responses carry the standard
// X-RateLimit-* headers reporting the tighter of the two buckets.
func RateLimitMiddleware(limiter *ratelimit.Limiter, scope string, rule config.RateLimitRule) gin.HandlerFunc {
	cfg := LimitConfig(rule)

	return func(c *gin.Context) {
		originKey := ratelimit.OriginKey(c.ClientIP())
		identityKey := ratelimit.IdentityKey(c.ClientIP())
		if id := SessionID(c); id != "" {
			identityKey = ratelimit.IdentityKey(id)
		}

		res := limiter.TakePair(c.Request.Context(), scope, originKey, identityKey, cfg)

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			telemetry.RateLimitDeniedTotal.WithLabelValues(scope).Inc()
			retryAfter := int(res.RetryAfter / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
