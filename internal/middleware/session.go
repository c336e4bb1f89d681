// session.go extracts the opaque session cookie so handlers and the rate
// limiter can key on it without re-parsing headers. The cookie value is an
// opaque store handle; nothing in this middleware trusts or decodes it — the
// session store does the verification.
package middleware

import (
	"github.com/gin-gonic/gin"
)

const (
	// SessionCookieName is the cookie carrying the opaque session identifier.
	SessionCookieName = "vault_session"

	// SessionIDKey is the gin.Context key under which the raw cookie value is
	// stored. Absent when the request carried no cookie.
	SessionIDKey = "session_id"
)

// SessionCookieMiddleware copies the session cookie value into the gin
// context. It never rejects: an absent or garbage cookie simply leaves the
// request anonymous, and downstream checks decide what that means.
func SessionCookieMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := c.Cookie(SessionCookieName); err == nil && id != "" {
			c.Set(SessionIDKey, id)
		}
		c.Next()
	}
}

// SessionID returns the cookie-borne session ID for the request, or "" when
// the request is anonymous.
func SessionID(c *gin.Context) string {
	if v, ok := c.Get(SessionIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
