package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// newSessionRouter echoes the extracted session ID back in a header so tests
// can observe what the middleware stored.
func newSessionRouter() *gin.Engine {
	r := gin.New()
	r.Use(SessionCookieMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.Header("X-Session-Seen", SessionID(c))
		c.Status(http.StatusOK)
	})
	return r
}

func TestSessionCookieMiddleware_ExtractsCookie(t *testing.T) {
	r := newSessionRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "opaque-handle-123"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Session-Seen"); got != "opaque-handle-123" {
		t.Errorf("SessionID = %q, want opaque-handle-123", got)
	}
}

func TestSessionCookieMiddleware_NoCookieIsAnonymous(t *testing.T) {
	r := newSessionRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for anonymous request", w.Code)
	}
	if got := w.Header().Get("X-Session-Seen"); got != "" {
		t.Errorf("SessionID = %q, want empty", got)
	}
}

func TestSessionCookieMiddleware_IgnoresOtherCookies(t *testing.T) {
	r := newSessionRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "tracking", Value: "whatever"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Session-Seen"); got != "" {
		t.Errorf("SessionID = %q, want empty when only unrelated cookies present", got)
	}
}
