package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/auth"
	"github.com/vault-gate/vault-gate/internal/db/models"
)

// recordingSink collects audit rows written by the middleware's recorder.
type recordingSink struct {
	events chan *models.AuditEvent
}

func (r *recordingSink) Create(_ context.Context, e *models.AuditEvent) error {
	r.events <- e
	return nil
}

func newAdminRouter(t *testing.T, tokenHash string) (*gin.Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{events: make(chan *models.AuditEvent, 8)}
	r := gin.New()
	r.Use(AdminAuthMiddleware(tokenHash, audit.NewRecorder(sink, nil, nil)))
	r.GET("/admin/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, sink
}

func adminGet(r *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuthMiddleware_ValidToken(t *testing.T) {
	hash, err := auth.HashAdminToken("correct-horse-battery")
	if err != nil {
		t.Fatal("HashAdminToken:", err)
	}
	r, _ := newAdminRouter(t, hash)

	w := adminGet(r, "Bearer correct-horse-battery")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAdminAuthMiddleware_WrongToken(t *testing.T) {
	hash, err := auth.HashAdminToken("correct-horse-battery")
	if err != nil {
		t.Fatal("HashAdminToken:", err)
	}
	r, sink := newAdminRouter(t, hash)

	w := adminGet(r, "Bearer guessing")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	select {
	case e := <-sink.events:
		if e.Action != "admin.auth" {
			t.Errorf("audit action = %q, want admin.auth", e.Action)
		}
		if e.Outcome != models.OutcomeFailed {
			t.Errorf("audit outcome = %q, want failed", e.Outcome)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for audit event")
	}
}

func TestAdminAuthMiddleware_MissingHeader(t *testing.T) {
	hash, err := auth.HashAdminToken("correct-horse-battery")
	if err != nil {
		t.Fatal("HashAdminToken:", err)
	}
	r, _ := newAdminRouter(t, hash)

	if w := adminGet(r, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without Authorization header", w.Code)
	}
}

func TestAdminAuthMiddleware_DisabledSurfaceFailsClosed(t *testing.T) {
	// No configured hash: every credential is rejected, including empty ones.
	r, _ := newAdminRouter(t, "")

	if w := adminGet(r, "Bearer anything"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when admin surface is disabled", w.Code)
	}
}

func TestAdminAuthMiddleware_DisabledSurfaceRejectsHashShapedBearer(t *testing.T) {
	// A bearer that is itself a bcrypt hash must not be confused with the
	// configured hash: with no hash configured, even bcrypt("") is rejected.
	forged, err := auth.HashAdminToken("")
	if err != nil {
		t.Fatal("HashAdminToken:", err)
	}
	r, _ := newAdminRouter(t, "")

	if w := adminGet(r, "Bearer "+forged); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for hash-shaped bearer on disabled surface", w.Code)
	}
}

func TestAdminAuthMiddleware_ConfiguredHashIsNotAValidBearer(t *testing.T) {
	// Presenting the stored hash itself must fail: only the original
	// credential verifies against it.
	hash, err := auth.HashAdminToken("correct-horse-battery")
	if err != nil {
		t.Fatal("HashAdminToken:", err)
	}
	r, _ := newAdminRouter(t, hash)

	if w := adminGet(r, "Bearer "+hash); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when the bearer is the hash itself", w.Code)
	}
}
