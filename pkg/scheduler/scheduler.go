package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aria-agents/aria/pkg/engine"
	"github.com/aria-agents/aria/pkg/metrics"
	"github.com/aria-agents/aria/pkg/models"
)

// Jobs is the job persistence surface. Implemented by services.JobService.
type Jobs interface {
	List(ctx context.Context, enabledOnly bool) ([]models.ScheduledJob, error)
	RecordRun(ctx context.Context, id string, status models.JobStatus, duration time.Duration, runErr string, nextRun time.Time) error
	SetNextRun(ctx context.Context, id string, nextRun time.Time) error
}

// Sessions creates the synthetic chat sessions jobs run in.
type Sessions interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.ChatSession, error)
}

// ChatEngine runs the job payload as one turn. Implemented by engine.Engine.
type ChatEngine interface {
	SendMessage(ctx context.Context, sessionID string, req models.SendMessageRequest) (*engine.TurnResult, error)
}

// Scheduler fires enabled jobs on a 1 s tick. A fire that lands while the
// previous run is still in flight is skipped, recorded as overlap.
type Scheduler struct {
	jobs     Jobs
	sessions Sessions
	engine   ChatEngine
	metrics  *metrics.Metrics
	now      func() time.Time
	tick     time.Duration

	mu         sync.Mutex
	inFlight   map[string]bool
	persistent map[string]string // job id -> reused session id
	wg         sync.WaitGroup
}

// New wires a Scheduler.
func New(jobs Jobs, sessions Sessions, chatEngine ChatEngine, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		sessions:   sessions,
		engine:     chatEngine,
		metrics:    m,
		now:        time.Now,
		tick:       time.Second,
		inFlight:   make(map[string]bool),
		persistent: make(map[string]string),
	}
}

// Prime computes next_run_at for every enabled job missing one or whose
// stored value lies in the past. Missed fires while the process was down are
// not backfilled.
func (s *Scheduler) Prime(ctx context.Context) error {
	jobs, err := s.jobs.List(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list jobs for priming: %w", err)
	}
	now := s.now()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		schedule, err := ParseSchedule(job.Cron, job.Every)
		if err != nil {
			slog.Error("job has unusable schedule, leaving idle", "job_id", job.ID, "error", err)
			continue
		}
		if err := s.jobs.SetNextRun(ctx, job.ID, schedule.Next(now)); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks until ctx is cancelled, then waits for in-flight runs.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	slog.Info("scheduler started", "tick", s.tick)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopping, waiting for in-flight jobs")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

// tickOnce fires every enabled job that is due at the current clock.
func (s *Scheduler) tickOnce(ctx context.Context) {
	now := s.now()
	jobs, err := s.jobs.List(ctx, true)
	if err != nil {
		slog.Error("failed to list jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if job.NextRunAt == nil || job.NextRunAt.After(now) {
			continue
		}
		schedule, err := ParseSchedule(job.Cron, job.Every)
		if err != nil {
			slog.Error("job has unusable schedule", "job_id", job.ID, "error", err)
			continue
		}
		next := schedule.Next(now)

		s.mu.Lock()
		if s.inFlight[job.ID] {
			s.mu.Unlock()
			slog.Warn("skipping overlapping job fire", "job_id", job.ID)
			s.metrics.JobRunsTotal.WithLabelValues(job.ID, string(models.JobStatusOverlap)).Inc()
			if err := s.jobs.RecordRun(ctx, job.ID, models.JobStatusOverlap, 0, "previous run still in flight", next); err != nil {
				slog.Error("failed to record overlap", "job_id", job.ID, "error", err)
			}
			continue
		}
		s.inFlight[job.ID] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go s.execute(ctx, job, schedule, next)
	}
}

// execute runs one job fire under its duration budget and records the
// outcome.
func (s *Scheduler) execute(ctx context.Context, job models.ScheduledJob, schedule Schedule, next time.Time) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, job.ID)
		s.mu.Unlock()
	}()

	maxDur := time.Duration(job.MaxDurationSeconds) * time.Second
	if maxDur <= 0 {
		maxDur = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), maxDur)
	defer cancel()

	started := s.now()
	status := models.JobStatusOK
	runErr := ""

	if err := s.runPayload(runCtx, job); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			status = models.JobStatusTimeout
		} else {
			status = models.JobStatusFail
		}
		runErr = err.Error()
		slog.Error("scheduled job failed", "job_id", job.ID, "status", status, "error", err)
	}

	s.metrics.JobRunsTotal.WithLabelValues(job.ID, string(status)).Inc()

	// A run that outlasted its interval must not write a next_run_at in the
	// past, or the next tick would refire immediately and backfill the
	// missed fires.
	if finished := s.now(); !next.After(finished) {
		next = schedule.Next(finished)
	}
	if err := s.jobs.RecordRun(context.WithoutCancel(ctx), job.ID, status, s.now().Sub(started), runErr, next); err != nil {
		slog.Error("failed to record job run", "job_id", job.ID, "error", err)
	}
}

func (s *Scheduler) runPayload(ctx context.Context, job models.ScheduledJob) error {
	sessionID, err := s.sessionFor(ctx, job)
	if err != nil {
		return err
	}

	attempts := job.RetryCount + 1
	for attempt := 1; ; attempt++ {
		_, err = s.engine.SendMessage(ctx, sessionID, models.SendMessageRequest{
			Content:     job.Payload,
			EnableTools: true,
		})
		if err == nil || attempt >= attempts || ctx.Err() != nil {
			return err
		}
		slog.Warn("retrying scheduled job turn", "job_id", job.ID, "attempt", attempt, "error", err)
	}
}

// sessionFor creates a fresh session per fire in isolated mode, or reuses
// one long-lived session per job in persistent mode.
func (s *Scheduler) sessionFor(ctx context.Context, job models.ScheduledJob) (string, error) {
	if job.SessionMode == models.SessionModePersistent {
		s.mu.Lock()
		id, ok := s.persistent[job.ID]
		s.mu.Unlock()
		if ok {
			return id, nil
		}
	}

	sess, err := s.sessions.CreateSession(ctx, models.CreateSessionRequest{
		AgentID: job.AgentID,
		Type:    models.SessionTypeCron,
		Title:   job.Name,
		Metadata: map[string]any{
			"job_id":       job.ID,
			"session_mode": string(job.SessionMode),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create job session: %w", err)
	}
	if job.SessionMode == models.SessionModePersistent {
		s.mu.Lock()
		s.persistent[job.ID] = sess.ID
		s.mu.Unlock()
	}
	return sess.ID, nil
}
