// Package jobs holds the vault gate's background maintenance loops.
//
// sweeper.go implements the expiry sweeper: a periodic pass that flips
// long-expired active access keys to expired status and deletes session rows
// whose retention has lapsed. Correctness never depends on the sweeper —
// redemption's conditional UPDATE and session verification both check
// expires_at directly — so the sweep exists to keep admin listings and stats
// honest and the sessions table from growing without bound.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/vault-gate/vault-gate/internal/db/repositories"
	"github.com/vault-gate/vault-gate/internal/telemetry"
)

// Sweeper periodically expires stale keys and prunes dead sessions.
type Sweeper struct {
	keys             *repositories.AccessKeyRepository
	sessions         *repositories.SessionRepository
	interval         time.Duration
	sessionRetention time.Duration
	log              *slog.Logger
	stopChan         chan struct{}
}

// NewSweeper creates a sweeper. A non-positive interval defaults to one hour,
// a non-positive retention to thirty days.
func NewSweeper(keys *repositories.AccessKeyRepository, sessions *repositories.SessionRepository, interval, sessionRetention time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if sessionRetention <= 0 {
		sessionRetention = 30 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		keys:             keys,
		sessions:         sessions,
		interval:         interval,
		sessionRetention: sessionRetention,
		log:              log,
		stopChan:         make(chan struct{}),
	}
}

// Start runs the sweep loop. It sweeps once immediately, then on the
// configured interval, and exits when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("expiry sweeper started", "interval", s.interval, "session_retention", s.sessionRetention)

	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			s.log.Info("expiry sweeper stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the sweep loop to exit.
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

// runSweep performs one pass. Failures are logged and retried on the next
// tick; a missed sweep costs nothing but listing staleness.
func (s *Sweeper) runSweep(ctx context.Context) {
	swept, err := s.keys.MarkExpired(ctx)
	if err != nil {
		s.log.Error("expiry sweep: marking expired keys failed", "error", err)
	} else if swept > 0 {
		telemetry.KeysExpiredSweptTotal.Add(float64(swept))
		s.log.Info("expiry sweep: keys marked expired", "count", swept)
	}

	pruned, err := s.sessions.DeleteExpired(ctx, s.sessionRetention)
	if err != nil {
		s.log.Error("expiry sweep: pruning sessions failed", "error", err)
	} else if pruned > 0 {
		s.log.Info("expiry sweep: dead sessions pruned", "count", pruned)
	}
}
