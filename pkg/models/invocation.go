package models

import "time"

// SkillInvocation is one append-only ledger row recording a tool execution.
// Rows are never mutated or deleted by the core.
type SkillInvocation struct {
	ID         string    `json:"id"`
	SkillName  string    `json:"skill_name"`
	ToolName   string    `json:"tool_name"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	ErrorType  string    `json:"error_type,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	ModelUsed  string    `json:"model_used,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SkillHealthStatus classifies a skill from recent ledger rows.
type SkillHealthStatus string

const (
	SkillHealthy   SkillHealthStatus = "healthy"
	SkillDegraded  SkillHealthStatus = "degraded"
	SkillUnhealthy SkillHealthStatus = "unhealthy"
	SkillSlow      SkillHealthStatus = "slow"
)

// SkillHealth is the per-skill aggregation served by the health dashboard.
type SkillHealth struct {
	SkillName     string            `json:"skill_name"`
	Invocations   int               `json:"invocations"`
	SuccessRate   float64           `json:"success_rate"`
	AvgDurationMs float64           `json:"avg_duration_ms"`
	P95DurationMs float64           `json:"p95_duration_ms"`
	LastError     string            `json:"last_error,omitempty"`
	Status        SkillHealthStatus `json:"status"`
}

// ClassifySkillHealth applies the fixed health thresholds.
func ClassifySkillHealth(successRate, p95Ms float64) SkillHealthStatus {
	switch {
	case successRate < 0.7:
		return SkillUnhealthy
	case successRate < 0.9:
		return SkillDegraded
	case p95Ms > 5000:
		return SkillSlow
	default:
		return SkillHealthy
	}
}
