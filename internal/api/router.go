// Package api wires together all HTTP routes for the vault gate.
//
// Route grouping philosophy:
//   - The key lifecycle routes (/v1/keys/, /v1/sessions/) are public but sit
//     behind per-scope dual-key rate limits; the vault and download routes
//     run their limits inside the gatekeeper so the denial shares the audit
//     discipline of the other verdicts.
//   - Admin routes (/v1/admin/) always require the operator bearer
//     credential and are disabled outright when no credential hash is
//     configured.
//   - /healthz, /readyz, and /version are unauthenticated probes.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	adminapi "github.com/vault-gate/vault-gate/internal/api/admin"
	"github.com/vault-gate/vault-gate/internal/api/downloads"
	"github.com/vault-gate/vault-gate/internal/api/keys"
	sessionapi "github.com/vault-gate/vault-gate/internal/api/session"
	"github.com/vault-gate/vault-gate/internal/api/vault"
	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/config"
	"github.com/vault-gate/vault-gate/internal/db/repositories"
	"github.com/vault-gate/vault-gate/internal/gate"
	"github.com/vault-gate/vault-gate/internal/jobs"
	"github.com/vault-gate/vault-gate/internal/keystore"
	"github.com/vault-gate/vault-gate/internal/middleware"
	"github.com/vault-gate/vault-gate/internal/ratelimit"
	"github.com/vault-gate/vault-gate/internal/safego"
	"github.com/vault-gate/vault-gate/internal/sessions"
	"github.com/vault-gate/vault-gate/internal/token"
)

// Version is the reported API version; overridden at build time via ldflags.
var Version = "0.1.0"

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal, after the HTTP server has drained.
type BackgroundServices struct {
	sweeper *jobs.Sweeper
	limiter *ratelimit.Limiter
	shipper *audit.MultiShipper
}

// Shutdown stops all background goroutines and flushes the audit shippers.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.limiter != nil {
		bg.limiter.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("closing audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. rdb may be nil, in which
// case the rate limiter runs purely in-memory and the coarse throttle is
// skipped.
func NewRouter(cfg *config.Config, pool *sqlx.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	// Repositories
	memberRepo := repositories.NewMemberRepository(pool)
	keyRepo := repositories.NewAccessKeyRepository(pool)
	sessionRepo := repositories.NewSessionRepository(pool)
	auditRepo := repositories.NewAuditRepository(pool)

	// Audit pipeline: DB sink always, shippers per config.
	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, nil, fmt.Errorf("configuring audit shippers: %w", err)
	}
	recorder := audit.NewRecorder(auditRepo, shipper, slog.Default())

	// Rate limiter: Redis-backed when available, in-memory otherwise. The
	// in-memory fallback inside the limiter covers Redis outages either way.
	var backend ratelimit.Backend
	if rdb != nil {
		backend = ratelimit.NewRedisBackend(rdb)
	}
	limiter := ratelimit.New(backend)

	// Domain services
	keyStore := keystore.NewStore(memberRepo, keyRepo, slog.Default())
	sessionStore := sessions.NewStore(sessionRepo, cfg.Auth.SessionTTL, slog.Default())
	codec, err := token.NewCodec([]byte(cfg.Auth.SigningSecret))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing token codec: %w", err)
	}
	downloadSvc := token.NewDownloadService(codec)
	gatekeeper := gate.New(sessionStore, limiter, middleware.LimitConfig(cfg.RateLimits.Vault), recorder, slog.Default())
	downloadGate := gate.New(sessionStore, limiter, middleware.LimitConfig(cfg.RateLimits.Download), recorder, slog.Default())

	// Background sweep
	sweeper := jobs.NewSweeper(keyRepo, sessionRepo, cfg.Jobs.KeySweepInterval, cfg.Jobs.SessionRetention, slog.Default())
	safego.Go(func() { sweeper.Start(context.Background()) })

	// Middleware chain
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	if rdb != nil && cfg.RateLimits.Throttle.Enabled {
		router.Use(middleware.ThrottleMiddleware(rdb, cfg.RateLimits.Throttle))
	}
	router.Use(middleware.SessionCookieMiddleware())

	// Probes
	router.GET("/healthz", healthCheckHandler(pool))
	router.GET("/readyz", readinessHandler(pool))
	router.GET("/version", versionHandler())

	// Handlers
	keysHandler := keys.NewHandler(keyStore, recorder, cfg.Auth.KeyTTL)
	sessionHandler := sessionapi.NewHandler(keyStore, sessionStore, recorder, sessionapi.CookieConfig{
		Domain: cfg.Auth.CookieDomain,
		Secure: cfg.Auth.CookieSecure,
		TTL:    cfg.Auth.SessionTTL,
	})
	vaultHandler := vault.NewHandler(gatekeeper, cfg.ResourceTier)
	downloadsHandler := downloads.NewHandler(downloadGate, downloadSvc, sessionStore, recorder, cfg.ResourceTier, cfg.Auth.DownloadTokenTTL, cfg.Server.BaseURL)

	v1 := router.Group("/v1")
	{
		keyGroup := v1.Group("/keys")
		keyGroup.POST("/register",
			middleware.RateLimitMiddleware(limiter, "register", cfg.RateLimits.Register),
			keysHandler.Register)
		keyGroup.POST("/resend",
			middleware.RateLimitMiddleware(limiter, "resend", cfg.RateLimits.Resend),
			keysHandler.Resend)

		sessGroup := v1.Group("/sessions")
		sessGroup.POST("/redeem",
			middleware.RateLimitMiddleware(limiter, "redeem", cfg.RateLimits.Redeem),
			sessionHandler.Redeem)
		sessGroup.POST("/logout", sessionHandler.Logout)
		sessGroup.GET("/current", sessionHandler.Current)

		// The gatekeeper charges the vault/download scopes itself.
		v1.GET("/vault/:slug", vaultHandler.Get)
		v1.POST("/downloads/sign", downloadsHandler.Sign)
		v1.GET("/downloads/redeem", downloadsHandler.Redeem)

		adminHandler := adminapi.NewHandler(memberRepo, keyRepo, sessionRepo, auditRepo, sessionStore, recorder)
		adminGroup := v1.Group("/admin")
		adminGroup.Use(middleware.AdminAuthMiddleware(cfg.Auth.AdminTokenHash, recorder))
		adminGroup.POST("/revoke", adminHandler.Revoke)
		adminGroup.GET("/members", adminHandler.ListMembers)
		adminGroup.GET("/keys", adminHandler.ListKeys)
		adminGroup.GET("/audit", adminHandler.ListAudit)
		adminGroup.GET("/stats", adminHandler.Stats)
	}

	bg := &BackgroundServices{
		sweeper: sweeper,
		limiter: limiter,
		shipper: shipper,
	}
	return router, bg, nil
}

func healthCheckHandler(pool *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := pool.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports whether the service can serve traffic. The gate
// has exactly one hard dependency: the database. Redis degrades, storage is
// external, so DB connectivity is the whole readiness story.
func readinessHandler(pool *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := pool.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready": false,
				"error": "database not ready",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready": true,
			"time":  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging via slog.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the configured origins. The session cookie
// is credentialed, so wildcard origins are intentionally not reflected.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
