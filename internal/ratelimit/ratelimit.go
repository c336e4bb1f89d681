// Package ratelimit implements a dual-key fixed-window rate limiter with
// escalating block durations and a pluggable counter backend.
//
// Buckets are keyed by (scope, key) where scope names a logical action
// ("register", "resend", "redeem") and key is either a normalized network
// origin or a hashed identity. Exceeding the window limit records a strike;
// each strike inside the trailing strike window doubles the block duration,
// so a client that keeps slamming an endpoint cools down for progressively
// longer. Blocked state overrides the normal counter check until it elapses.
//
// Two backends exist: an in-memory map (always available) and a Redis hash
// driven by a single Lua script. Both implement the exact same windowing
// algorithm with the clock supplied by the caller, so backend choice never
// changes the effective limits. When the shared backend errors, the Limiter
// degrades to the in-memory fallback with the limit halved — tighter, never
// open.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/vault-gate/vault-gate/internal/telemetry"
)

// Config tunes one scope's window.
type Config struct {
	// Window is the fixed window length.
	Window time.Duration
	// Max is the number of requests allowed per window.
	Max int
	// BlockDuration, when positive, is the base cool-down applied once the
	// window limit is exceeded. Zero means plain fixed-window behaviour.
	BlockDuration time.Duration
	// MaxBlockDuration caps escalation. Defaults to 8x BlockDuration.
	MaxBlockDuration time.Duration
	// StrikeWindow is the trailing period over which repeated overages
	// escalate the block. Defaults to one hour.
	StrikeWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.BlockDuration > 0 && c.MaxBlockDuration <= 0 {
		c.MaxBlockDuration = 8 * c.BlockDuration
	}
	if c.StrikeWindow <= 0 {
		c.StrikeWindow = time.Hour
	}
	return c
}

// blockFor returns the escalated block duration for the given strike count.
func (c Config) blockFor(strikes int) time.Duration {
	d := c.BlockDuration
	// Strikes beyond 16 would overflow the shift and are far past the cap anyway.
	if strikes > 16 {
		strikes = 16
	}
	for i := 1; i < strikes; i++ {
		d *= 2
		if d >= c.MaxBlockDuration {
			return c.MaxBlockDuration
		}
	}
	if d > c.MaxBlockDuration {
		return c.MaxBlockDuration
	}
	return d
}

// Result is the outcome of a single bucket take.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	Blocked    bool
	BlockUntil time.Time
	RetryAfter time.Duration
}

// Backend performs one atomic take against a bucket. Implementations must
// guarantee that concurrent takes for the same (scope, key) are linearizable:
// two racing requests at the window boundary must never both observe a count
// within the limit once the configured max is reached.
type Backend interface {
	Take(ctx context.Context, scope, key string, cfg Config, now time.Time) (Result, error)
}

// TrippedKey identifies which of the two keys denied a dual-key take. It is
// used to pick the right headers and audit detail, and is never echoed to
// clients — revealing which key tripped would aid enumeration.
type TrippedKey string

const (
	// TrippedNone means the take was allowed.
	TrippedNone TrippedKey = ""
	// TrippedOrigin means the network-origin bucket denied.
	TrippedOrigin TrippedKey = "origin"
	// TrippedIdentity means the claimed-identity bucket denied.
	TrippedIdentity TrippedKey = "identity"
)

// PairResult is the outcome of a dual-key take.
type PairResult struct {
	Result
	TrippedBy TrippedKey
}

// Limiter evaluates rate limits against a primary backend with a mandatory
// in-memory fallback. Construct one per process and inject it; it owns the
// fallback's janitor goroutine until Stop is called.
type Limiter struct {
	primary  Backend
	fallback *MemoryBackend
	now      func() time.Time
}

// New creates a Limiter. primary may be nil, in which case all decisions are
// made by the in-memory backend.
func New(primary Backend) *Limiter {
	return &Limiter{
		primary:  primary,
		fallback: NewMemoryBackend(),
		now:      time.Now,
	}
}

// WithClock overrides the limiter's wall clock. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Stop shuts down the fallback janitor.
func (l *Limiter) Stop() {
	l.fallback.Stop()
}

// Take evaluates a single bucket. A primary-backend failure degrades to the
// in-memory fallback with the limit halved: during a shared-cache outage the
// service throttles harder rather than opening up.
func (l *Limiter) Take(ctx context.Context, scope, key string, cfg Config) Result {
	cfg = cfg.withDefaults()
	now := l.now()

	backend := Backend(l.fallback)
	if l.primary != nil {
		res, err := l.primary.Take(ctx, scope, key, cfg, now)
		if err == nil {
			return res
		}
		slog.Warn("rate limit backend unavailable, using tightened local fallback",
			"scope", scope, "error", err)
		telemetry.RateLimitFallbacksTotal.Inc()
		cfg = tighten(cfg)
	}

	res, err := backend.Take(ctx, scope, key, cfg, now)
	if err != nil {
		// The memory backend cannot fail today; if it ever does, deny.
		slog.Error("rate limit fallback failed, denying", "scope", scope, "error", err)
		return Result{Allowed: false, Limit: cfg.Max, ResetAt: now.Add(cfg.Window), RetryAfter: cfg.Window}
	}
	return res
}

// TakePair evaluates both the origin-scoped and identity-scoped buckets for
// the same logical action and denies if either is exceeded. Both buckets are
// always incremented so an attacker cannot starve one key's accounting by
// tripping the other first.
func (l *Limiter) TakePair(ctx context.Context, scope, originKey, identityKey string, cfg Config) PairResult {
	origin := l.Take(ctx, scope, originKey, cfg)
	identity := l.Take(ctx, scope, identityKey, cfg)

	switch {
	case origin.Allowed && identity.Allowed:
		// Report the tighter of the two so headers never promise more
		// headroom than actually exists.
		if identity.Remaining < origin.Remaining {
			return PairResult{Result: identity}
		}
		return PairResult{Result: origin}
	case !origin.Allowed && !identity.Allowed:
		// Both tripped: surface whichever holds the client longest.
		if identity.RetryAfter > origin.RetryAfter {
			return PairResult{Result: identity, TrippedBy: TrippedIdentity}
		}
		return PairResult{Result: origin, TrippedBy: TrippedOrigin}
	case !origin.Allowed:
		return PairResult{Result: origin, TrippedBy: TrippedOrigin}
	default:
		return PairResult{Result: identity, TrippedBy: TrippedIdentity}
	}
}

func tighten(cfg Config) Config {
	cfg.Max /= 2
	if cfg.Max < 1 {
		cfg.Max = 1
	}
	return cfg
}

// OriginKey normalizes a client IP into a bucket key. Addresses are
// anonymized before use: IPv4 keeps its /24, IPv6 its /48, so buckets do not
// retain full client addresses while still grouping abusive sources.
func OriginKey(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "ip:unknown"
	}
	if v4 := parsed.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return "ip:" + masked.String()
	}
	masked := parsed.Mask(net.CIDRMask(48, 128))
	return "ip:" + masked.String()
}

// IdentityKey derives a bucket key from a claimed identity such as an email
// address. The identity is hashed so raw addresses never appear in bucket
// keys (or in Redis).
func IdentityKey(identity string) string {
	normalized := strings.ToLower(strings.TrimSpace(identity))
	if normalized == "" {
		return "id:unknown"
	}
	sum := sha256.Sum256([]byte(normalized))
	return "id:" + hex.EncodeToString(sum[:16])
}
