package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aria-agents/aria/pkg/models"
)

// LedgerService owns the append-only skill invocation ledger in
// aria_data.skill_invocations. Rows are written once per tool dispatch and
// never mutated; all reads are aggregations.
type LedgerService struct {
	pool *pgxpool.Pool
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(pool *pgxpool.Pool) *LedgerService {
	return &LedgerService{pool: pool}
}

// Append writes one ledger row. Duplicate (skill, tool, created_at) keys are
// dropped silently so the backfill and live writers can race safely.
func (s *LedgerService) Append(ctx context.Context, inv models.SkillInvocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aria_data.skill_invocations
			(id, skill_name, tool_name, duration_ms, success, error_type, tokens_used, model_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (skill_name, tool_name, created_at) DO NOTHING`,
		inv.ID, inv.SkillName, inv.ToolName, inv.DurationMs, inv.Success,
		inv.ErrorType, inv.TokensUsed, inv.ModelUsed, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append skill invocation: %w", err)
	}
	return nil
}

// Health aggregates the last `hours` of ledger rows per skill and classifies
// each with the fixed thresholds in models.ClassifySkillHealth.
func (s *LedgerService) Health(ctx context.Context, hours int) ([]models.SkillHealth, error) {
	if hours <= 0 {
		hours = 24
	}
	rows, err := s.pool.Query(ctx, `
		SELECT
			skill_name,
			COUNT(*),
			AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END),
			AVG(duration_ms),
			percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms),
			COALESCE((
				SELECT error_type FROM aria_data.skill_invocations e
				WHERE e.skill_name = i.skill_name AND NOT e.success
					AND e.created_at > now() - make_interval(hours => $1)
				ORDER BY e.created_at DESC LIMIT 1
			), '')
		FROM aria_data.skill_invocations i
		WHERE created_at > now() - make_interval(hours => $1)
		GROUP BY skill_name
		ORDER BY skill_name`, hours)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate skill health: %w", err)
	}
	defer rows.Close()

	var out []models.SkillHealth
	for rows.Next() {
		var h models.SkillHealth
		if err := rows.Scan(&h.SkillName, &h.Invocations, &h.SuccessRate,
			&h.AvgDurationMs, &h.P95DurationMs, &h.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan skill health row: %w", err)
		}
		h.Status = models.ClassifySkillHealth(h.SuccessRate, h.P95DurationMs)
		out = append(out, h)
	}
	return out, rows.Err()
}

const (
	expertWindow    = 30 * 24 * time.Hour
	expertHalfLife  = 7 * 24 * time.Hour
	expertColdStart = 0.5
)

// ExpertFor scores each candidate skill for a task type from its recent
// ledger history. Successes count with exponential recency decay (7-day
// half-life over a 30-day window); candidates with no history get the
// cold-start score.
func (s *LedgerService) ExpertFor(ctx context.Context, taskType string, candidates []string) ([]models.ExpertScore, error) {
	now := time.Now().UTC()
	scores := make([]models.ExpertScore, 0, len(candidates))
	for _, candidate := range candidates {
		rows, err := s.pool.Query(ctx, `
			SELECT success, created_at FROM aria_data.skill_invocations
			WHERE skill_name = $1
			  AND ($2 = '' OR tool_name = $2)
			  AND created_at > $3`,
			candidate, taskType, now.Add(-expertWindow))
		if err != nil {
			return nil, fmt.Errorf("failed to load invocations for %q: %w", candidate, err)
		}

		var weighted, total float64
		var samples int
		for rows.Next() {
			var success bool
			var createdAt time.Time
			if err := rows.Scan(&success, &createdAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan invocation: %w", err)
			}
			w := math.Exp2(-now.Sub(createdAt).Hours() / expertHalfLife.Hours())
			total += w
			samples++
			if success {
				weighted += w
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		score := expertColdStart
		if total > 0 {
			score = weighted / total
		}
		scores = append(scores, models.ExpertScore{Candidate: candidate, Score: score, Samples: samples})
	}
	return scores, nil
}

// PruneActivityLog removes legacy activity rows older than the cutoff. The
// ledger itself is append-only and never pruned.
func (s *LedgerService) PruneActivityLog(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM aria_data.activity_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Backfill imports ledger rows from the three pre-ledger sources. It is
// idempotent: the (skill_name, tool_name, created_at) key dedupes reruns.
// Returns the number of rows inserted.
func (s *LedgerService) Backfill(ctx context.Context) (int64, error) {
	var inserted int64

	// Activity log rows categorized as skill executions.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO aria_data.skill_invocations
			(id, skill_name, tool_name, duration_ms, success, error_type, tokens_used, model_used, created_at)
		SELECT gen_random_uuid(),
			detail->>'skill_name',
			COALESCE(detail->>'tool_name', detail->>'skill_name'),
			COALESCE((detail->>'duration_ms')::BIGINT, 0),
			COALESCE((detail->>'success')::BOOLEAN, TRUE),
			COALESCE(detail->>'error_type', ''),
			COALESCE((detail->>'tokens_used')::INTEGER, 0),
			COALESCE(detail->>'model', ''),
			created_at
		FROM aria_data.activity_log
		WHERE category = 'skill_execution' AND detail ? 'skill_name'
		ON CONFLICT (skill_name, tool_name, created_at) DO NOTHING`)
	if err != nil {
		return inserted, fmt.Errorf("failed to backfill from activity log: %w", err)
	}
	inserted += tag.RowsAffected()

	// skill_exec sessions whose metadata names the skill.
	tag, err = s.pool.Exec(ctx, `
		INSERT INTO aria_data.skill_invocations
			(id, skill_name, tool_name, duration_ms, success, error_type, tokens_used, model_used, created_at)
		SELECT gen_random_uuid(),
			metadata->>'skill_name',
			COALESCE(metadata->>'tool_name', metadata->>'skill_name'),
			0,
			status <> 'error',
			CASE WHEN status = 'error' THEN 'session_error' ELSE '' END,
			total_tokens::INTEGER,
			model_snapshot,
			created_at
		FROM aria_data.chat_sessions
		WHERE session_type = 'skill_exec' AND metadata ? 'skill_name'
		ON CONFLICT (skill_name, tool_name, created_at) DO NOTHING`)
	if err != nil {
		return inserted, fmt.Errorf("failed to backfill from sessions: %w", err)
	}
	inserted += tag.RowsAffected()

	// Model usage rows tagged "skill:<name>".
	tag, err = s.pool.Exec(ctx, `
		INSERT INTO aria_data.skill_invocations
			(id, skill_name, tool_name, duration_ms, success, error_type, tokens_used, model_used, created_at)
		SELECT gen_random_uuid(),
			substring(purpose FROM 7),
			substring(purpose FROM 7),
			duration_ms,
			success,
			CASE WHEN success THEN '' ELSE 'legacy_failure' END,
			tokens_used,
			model,
			created_at
		FROM aria_data.model_usage
		WHERE purpose LIKE 'skill:%'
		ON CONFLICT (skill_name, tool_name, created_at) DO NOTHING`)
	if err != nil {
		return inserted, fmt.Errorf("failed to backfill from model usage: %w", err)
	}
	inserted += tag.RowsAffected()

	return inserted, nil
}
