// adminauth.go guards the admin API group with a single bearer credential
// verified against a bcrypt hash from configuration. There is no admin user
// table: the credential is operator-held, and an empty configured hash
// disables the whole surface rather than opening it.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/auth"
	"github.com/vault-gate/vault-gate/internal/db/models"
)

// AdminContextKey is set to true once a request has passed admin auth.
const AdminContextKey = "is_admin"

// AdminAuthMiddleware validates the Authorization bearer token against the
// configured bcrypt hash. Every failure looks the same from outside (plain
// 401, no detail); the distinction between missing header, disabled surface,
// and wrong token lives only in the audit trail.
func AdminAuthMiddleware(tokenHash string, recorder *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		deny := func(reason string) {
			slog.Warn("admin auth denied", "reason", reason, "ip", c.ClientIP())
			recorder.Record(audit.Event{
				ActorType: audit.ActorAnonymous,
				Action:    "admin.auth",
				Outcome:   models.OutcomeFailed,
				Severity:  audit.SeverityWarning,
				IP:        c.ClientIP(),
				Meta:      map[string]interface{}{"reason": reason},
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		}

		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			deny("missing bearer token")
			return
		}
		if err := auth.VerifyAdminToken(token, tokenHash); err != nil {
			if err == auth.ErrAdminDisabled {
				deny("admin surface disabled")
			} else {
				deny("invalid token")
			}
			return
		}

		c.Set(AdminContextKey, true)
		c.Next()
	}
}
