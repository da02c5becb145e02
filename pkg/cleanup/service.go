// Package cleanup enforces data retention in the background.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger deletes ended sessions past retention. Implemented by
// services.SessionService.
type SessionPurger interface {
	PurgeTerminalSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// ActivityPruner deletes legacy activity rows past retention. Implemented by
// services.LedgerService. The skill ledger itself is append-only and exempt.
type ActivityPruner interface {
	PruneActivityLog(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options tune the retention sweeps. Zero values fall back to the defaults.
type Options struct {
	SessionRetention  time.Duration // ended sessions older than this are deleted
	ActivityRetention time.Duration // legacy activity rows older than this are deleted
	Interval          time.Duration // time between sweeps
}

// Service periodically enforces retention:
//   - Hard-deletes ended sessions past retention; messages cascade.
//   - Prunes legacy activity_log rows that have been folded into the ledger.
//
// Both sweeps are idempotent and safe to run from multiple replicas.
type Service struct {
	opts     Options
	sessions SessionPurger
	activity ActivityPruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service with defaults applied.
func NewService(opts Options, sessions SessionPurger, activity ActivityPruner) *Service {
	if opts.SessionRetention <= 0 {
		opts.SessionRetention = 90 * 24 * time.Hour
	}
	if opts.ActivityRetention <= 0 {
		opts.ActivityRetention = 180 * 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Hour
	}
	return &Service{opts: opts, sessions: sessions, activity: activity}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"session_retention", s.opts.SessionRetention,
		"activity_retention", s.opts.ActivityRetention,
		"interval", s.opts.Interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	now := time.Now()

	count, err := s.sessions.PurgeTerminalSessions(ctx, now.Add(-s.opts.SessionRetention))
	if err != nil {
		slog.Error("Retention: session purge failed", "error", err)
	} else if count > 0 {
		slog.Info("Retention: purged ended sessions", "count", count)
	}

	count, err = s.activity.PruneActivityLog(ctx, now.Add(-s.opts.ActivityRetention))
	if err != nil {
		slog.Error("Retention: activity prune failed", "error", err)
	} else if count > 0 {
		slog.Info("Retention: pruned legacy activity rows", "count", count)
	}
}
