package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript implements the full take in one atomic step so concurrent
// requests against the same key are linearizable. It mirrors the memory
// backend's algorithm exactly; all clocks are supplied by the caller (unix
// milliseconds) so both backends share windowing semantics and tests can
// inject time. The key TTL is likewise set as a relative PEXPIRE derived
// from the caller's clock — an absolute PEXPIREAT would be judged against
// the Redis server's clock, and skew between the two would evict buckets
// early and quietly loosen the limit.
//
// KEYS[1]  bucket hash
// ARGV[1]  now (ms)      ARGV[2] window (ms)   ARGV[3] max
// ARGV[4]  block (ms)    ARGV[5] max block (ms) ARGV[6] strike window (ms)
//
// Returns {allowed, count, reset_at, blocked_until}.
var takeScript = redis.NewScript(`
local fields = redis.call("HMGET", KEYS[1], "count", "reset_at", "blocked_until", "strikes", "strike_reset")
local count = tonumber(fields[1]) or 0
local reset_at = tonumber(fields[2]) or 0
local blocked_until = tonumber(fields[3]) or 0
local strikes = tonumber(fields[4]) or 0
local strike_reset = tonumber(fields[5]) or 0

local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local block = tonumber(ARGV[4])
local max_block = tonumber(ARGV[5])
local strike_window = tonumber(ARGV[6])

if blocked_until > now then
  return {0, count, reset_at, blocked_until}
end

if reset_at <= now then
  count = 0
  reset_at = now + window
end

count = count + 1
local allowed = 1
if count > max then
  allowed = 0
  if block > 0 then
    if strike_reset <= now then
      strikes = 0
    end
    strikes = strikes + 1
    strike_reset = now + strike_window
    local dur = block * 2 ^ (math.min(strikes, 16) - 1)
    if dur > max_block then
      dur = max_block
    end
    blocked_until = now + dur
  end
end

redis.call("HMSET", KEYS[1],
  "count", count, "reset_at", reset_at, "blocked_until", blocked_until,
  "strikes", strikes, "strike_reset", strike_reset)

local expire_at = reset_at
if blocked_until > expire_at then expire_at = blocked_until end
if strike_reset > expire_at then expire_at = strike_reset end
local ttl = expire_at - now
if ttl < 1 then ttl = 1 end
redis.call("PEXPIRE", KEYS[1], math.floor(ttl))

return {allowed, count, reset_at, blocked_until}
`)

// RedisBackend stores buckets in Redis hashes so limits are shared across
// process replicas.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps an existing Redis client. The client's lifecycle
// (construction at process start, Close on shutdown) belongs to the caller.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Take implements Backend via the Lua script above.
func (b *RedisBackend) Take(ctx context.Context, scope, key string, cfg Config, now time.Time) (Result, error) {
	cfg = cfg.withDefaults()

	raw, err := takeScript.Run(ctx, b.client,
		[]string{"vg:rl:" + scope + ":" + key},
		now.UnixMilli(),
		cfg.Window.Milliseconds(),
		cfg.Max,
		cfg.BlockDuration.Milliseconds(),
		cfg.MaxBlockDuration.Milliseconds(),
		cfg.StrikeWindow.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis take: %w", err)
	}
	if len(raw) != 4 {
		return Result{}, fmt.Errorf("ratelimit: redis take returned %d values", len(raw))
	}

	allowed := raw[0] == 1
	count := int(raw[1])
	resetAt := time.UnixMilli(raw[2])
	blockedUntil := time.UnixMilli(raw[3])

	res := Result{
		Allowed:   allowed,
		Limit:     cfg.Max,
		Remaining: max(0, cfg.Max-count),
		ResetAt:   resetAt,
	}
	if blockedUntil.After(now) {
		res.Blocked = true
		res.BlockUntil = blockedUntil
		res.ResetAt = blockedUntil
		res.Remaining = 0
	}
	if !allowed {
		res.RetryAfter = res.ResetAt.Sub(now)
	}
	return res, nil
}
