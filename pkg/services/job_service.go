package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aria-agents/aria/pkg/models"
)

// JobService manages the DB mirror of cron_jobs.yaml in
// aria_engine.scheduled_jobs. Run bookkeeping (counters, last status, next
// fire time) lives only in the DB and is preserved across syncs.
type JobService struct {
	pool *pgxpool.Pool
}

// NewJobService creates a new JobService.
func NewJobService(pool *pgxpool.Pool) *JobService {
	return &JobService{pool: pool}
}

const jobColumns = `
	id, name, cron, every_seconds, agent_id, payload_type, payload, session_mode,
	max_duration_seconds, retry_count, enabled, app_managed, last_run_at,
	last_status, last_duration_ms, last_error, next_run_at,
	run_count, success_count, fail_count`

// List returns all jobs ordered by id.
func (s *JobService) List(ctx context.Context, enabledOnly bool) ([]models.ScheduledJob, error) {
	q := `SELECT ` + jobColumns + ` FROM aria_engine.scheduled_jobs`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Get fetches one job by id.
func (s *JobService) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM aria_engine.scheduled_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Sync reconciles declared jobs into the DB mirror. Catalog fields are
// overwritten; run bookkeeping columns are never touched.
func (s *JobService) Sync(ctx context.Context, declared []models.ScheduledJob, force bool) (models.SyncResult, error) {
	var result models.SyncResult

	existing := make(map[string]bool)
	appManaged := make(map[string]bool)
	rows, err := s.pool.Query(ctx, `SELECT id, app_managed FROM aria_engine.scheduled_jobs`)
	if err != nil {
		return result, fmt.Errorf("failed to load existing jobs: %w", err)
	}
	for rows.Next() {
		var id string
		var managed bool
		if err := rows.Scan(&id, &managed); err != nil {
			rows.Close()
			return result, fmt.Errorf("failed to scan job row: %w", err)
		}
		existing[id] = true
		appManaged[id] = managed
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, err
	}

	for _, j := range declared {
		switch decideSync(existing[j.ID], appManaged[j.ID], force) {
		case syncInsert:
			if _, err := s.pool.Exec(ctx, `
				INSERT INTO aria_engine.scheduled_jobs
					(id, name, cron, every_seconds, agent_id, payload_type, payload,
					 session_mode, max_duration_seconds, retry_count, enabled, app_managed)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE)`,
				j.ID, j.Name, j.Cron, int64(j.Every/time.Second), j.AgentID,
				j.PayloadType, j.Payload, j.SessionMode,
				j.MaxDurationSeconds, j.RetryCount, j.Enabled); err != nil {
				return result, fmt.Errorf("failed to insert job %q: %w", j.ID, err)
			}
			result.Inserted++
		case syncUpdate:
			if _, err := s.pool.Exec(ctx, `
				UPDATE aria_engine.scheduled_jobs SET
					name = $2, cron = $3, every_seconds = $4, agent_id = $5,
					payload_type = $6, payload = $7, session_mode = $8,
					max_duration_seconds = $9, retry_count = $10, enabled = $11,
					app_managed = FALSE
				WHERE id = $1`,
				j.ID, j.Name, j.Cron, int64(j.Every/time.Second), j.AgentID,
				j.PayloadType, j.Payload, j.SessionMode,
				j.MaxDurationSeconds, j.RetryCount, j.Enabled); err != nil {
				return result, fmt.Errorf("failed to update job %q: %w", j.ID, err)
			}
			result.Updated++
		case syncSkip:
			result.Skipped++
		}
	}
	return result, nil
}

// RecordRun writes the outcome of one firing and advances next_run_at.
// Overlap skips count as a run with status "overlap" but do not touch the
// success/fail counters.
func (s *JobService) RecordRun(ctx context.Context, id string, status models.JobStatus, duration time.Duration, runErr string, nextRun time.Time) error {
	var successDelta, failDelta int
	switch status {
	case models.JobStatusOK:
		successDelta = 1
	case models.JobStatusFail, models.JobStatusTimeout:
		failDelta = 1
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE aria_engine.scheduled_jobs SET
			last_run_at = now(), last_status = $2, last_duration_ms = $3,
			last_error = $4, next_run_at = $5,
			run_count = run_count + 1,
			success_count = success_count + $6,
			fail_count = fail_count + $7
		WHERE id = $1`,
		id, status, duration.Milliseconds(), runErr, nextRun, successDelta, failDelta)
	if err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNextRun stores the computed next fire time without recording a run.
// Used at startup so the admin API can show schedules before any firing.
func (s *JobService) SetNextRun(ctx context.Context, id string, nextRun time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE aria_engine.scheduled_jobs SET next_run_at = $2 WHERE id = $1`,
		id, nextRun); err != nil {
		return fmt.Errorf("failed to set next run: %w", err)
	}
	return nil
}

func scanJob(row rowScanner) (models.ScheduledJob, error) {
	var j models.ScheduledJob
	var everySeconds int64
	err := row.Scan(&j.ID, &j.Name, &j.Cron, &everySeconds, &j.AgentID,
		&j.PayloadType, &j.Payload, &j.SessionMode, &j.MaxDurationSeconds,
		&j.RetryCount, &j.Enabled, &j.AppManaged, &j.LastRunAt,
		&j.LastStatus, &j.LastDurationMs, &j.LastError, &j.NextRunAt,
		&j.RunCount, &j.SuccessCount, &j.FailCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return j, ErrNotFound
	}
	if err != nil {
		return j, fmt.Errorf("failed to scan job: %w", err)
	}
	j.Every = time.Duration(everySeconds) * time.Second
	return j, nil
}
