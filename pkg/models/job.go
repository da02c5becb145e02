package models

import "time"

// JobStatus is the outcome class of a scheduled job run.
type JobStatus string

const (
	JobStatusOK      JobStatus = "ok"
	JobStatusFail    JobStatus = "fail"
	JobStatusTimeout JobStatus = "timeout"
	JobStatusOverlap JobStatus = "overlap"
)

// SessionMode controls whether a job gets a fresh session per fire or
// accumulates context in one persistent session.
type SessionMode string

const (
	SessionModeIsolated   SessionMode = "isolated"
	SessionModePersistent SessionMode = "persistent"
)

// ScheduledJob is one cron/interval job mirrored from cron_jobs.yaml into
// aria_engine.scheduled_jobs. Exactly one of Cron or Every is set; the
// config validator rejects jobs declaring both.
type ScheduledJob struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Cron               string        `json:"cron,omitempty"`  // 6-field "s m h d M w"
	Every              time.Duration `json:"every,omitempty"` // interval schedule
	AgentID            string        `json:"agent_id"`
	PayloadType        string        `json:"payload_type"` // currently always "prompt"
	Payload            string        `json:"payload"`
	SessionMode        SessionMode   `json:"session_mode"`
	MaxDurationSeconds int           `json:"max_duration_seconds"`
	RetryCount         int           `json:"retry_count"`
	Enabled            bool          `json:"enabled"`
	AppManaged         bool          `json:"app_managed"`
	LastRunAt          *time.Time    `json:"last_run_at,omitempty"`
	LastStatus         JobStatus     `json:"last_status,omitempty"`
	LastDurationMs     int64         `json:"last_duration_ms"`
	LastError          string        `json:"last_error,omitempty"`
	NextRunAt          *time.Time    `json:"next_run_at,omitempty"`
	RunCount           int           `json:"run_count"`
	SuccessCount       int           `json:"success_count"`
	FailCount          int           `json:"fail_count"`
}
