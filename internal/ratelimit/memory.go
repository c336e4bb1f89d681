package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket tracks one (scope, key) pair's rolling state.
type bucket struct {
	count        int
	resetAt      time.Time
	blockedUntil time.Time
	strikes      int
	strikeReset  time.Time
}

// MemoryBackend is a mutex-guarded in-process bucket store. It is the
// fallback backend and also the only backend in single-instance deployments
// without Redis.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	stopCh  chan struct{}
}

// NewMemoryBackend creates a memory backend and starts its janitor goroutine,
// which evicts stale buckets so the map does not grow without bound.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go b.janitor()
	return b
}

// Stop terminates the janitor goroutine.
func (b *MemoryBackend) Stop() {
	close(b.stopCh)
}

func (b *MemoryBackend) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for k, bk := range b.buckets {
				if now.After(bk.resetAt) && now.After(bk.blockedUntil) && now.After(bk.strikeReset) {
					delete(b.buckets, k)
				}
			}
			b.mu.Unlock()
		case <-b.stopCh:
			return
		}
	}
}

// Take implements Backend. It never returns an error.
func (b *MemoryBackend) Take(_ context.Context, scope, key string, cfg Config, now time.Time) (Result, error) {
	cfg = cfg.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()

	id := scope + ":" + key
	bk, ok := b.buckets[id]
	if !ok {
		bk = &bucket{}
		b.buckets[id] = bk
	}

	// Blocked state overrides the counter check entirely.
	if bk.blockedUntil.After(now) {
		return Result{
			Allowed:    false,
			Limit:      cfg.Max,
			Remaining:  0,
			ResetAt:    bk.blockedUntil,
			Blocked:    true,
			BlockUntil: bk.blockedUntil,
			RetryAfter: bk.blockedUntil.Sub(now),
		}, nil
	}

	if !bk.resetAt.After(now) {
		bk.count = 0
		bk.resetAt = now.Add(cfg.Window)
	}

	bk.count++
	allowed := bk.count <= cfg.Max

	if !allowed && cfg.BlockDuration > 0 {
		if !bk.strikeReset.After(now) {
			bk.strikes = 0
		}
		bk.strikes++
		bk.strikeReset = now.Add(cfg.StrikeWindow)
		bk.blockedUntil = now.Add(cfg.blockFor(bk.strikes))
	}

	res := Result{
		Allowed:   allowed,
		Limit:     cfg.Max,
		Remaining: max(0, cfg.Max-bk.count),
		ResetAt:   bk.resetAt,
	}
	if bk.blockedUntil.After(now) {
		res.Blocked = true
		res.BlockUntil = bk.blockedUntil
		res.ResetAt = bk.blockedUntil
	}
	if !allowed {
		res.RetryAfter = res.ResetAt.Sub(now)
	}
	return res, nil
}
