// throttle.go provides a coarse per-IP request throttle in front of the whole
// API, backed by Redis GCRA. It exists to shed floods cheaply before the
// scoped limiter, the session store, and the database see them; the scoped
// limiter remains the enforcement layer for abuse policy.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/vault-gate/vault-gate/internal/config"
)

// ThrottleMiddleware returns a per-IP GCRA throttle. When Redis errors the
// request passes through: the scoped limiter behind it still enforces, and a
// flapping cache must not take the API down with it.
func ThrottleMiddleware(rdb *redis.Client, cfg config.ThrottleConfig) gin.HandlerFunc {
	limiter := redis_rate.NewLimiter(rdb)
	limit := redis_rate.Limit{
		Rate:   cfg.RPS,
		Burst:  cfg.Burst,
		Period: time.Second,
	}

	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), "throttle:"+c.ClientIP(), limit)
		if err != nil {
			slog.Warn("throttle check failed, passing through", "error", err)
			c.Next()
			return
		}

		if res.Allowed == 0 {
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
