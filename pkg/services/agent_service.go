package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aria-agents/aria/pkg/models"
)

// AgentService manages the DB mirror of the agent catalog in
// aria_engine.agents. Sync preserves runtime state (status, failure counter,
// pheromone score); only catalog fields are overwritten.
type AgentService struct {
	pool *pgxpool.Pool
}

// NewAgentService creates a new AgentService.
func NewAgentService(pool *pgxpool.Pool) *AgentService {
	return &AgentService{pool: pool}
}

const agentColumns = `
	agent_id, display_name, agent_type, parent_agent_id, model, fallback_model,
	system_prompt, temperature, max_tokens, focus_type, skills, capabilities,
	enabled, timeout_seconds, rate_limit_requests, rate_limit_window_s,
	app_managed, status, consecutive_failures, pheromone_score, created_at, updated_at`

// List returns all agents ordered by id.
func (s *AgentService) List(ctx context.Context, enabledOnly bool) ([]models.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM aria_engine.agents`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY agent_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get fetches one agent by id.
func (s *AgentService) Get(ctx context.Context, id string) (*models.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM aria_engine.agents WHERE agent_id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts an operator-defined agent; the row is born app_managed.
func (s *AgentService) Create(ctx context.Context, a models.Agent) (*models.Agent, error) {
	if a.ID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	if a.Model == "" {
		return nil, NewValidationError("model", "required")
	}
	if a.Type == models.AgentTypeSubAgent && a.ParentAgentID == nil {
		return nil, NewValidationError("parent_agent_id", "required for sub_agent")
	}
	a.AppManaged = true
	if a.Status == "" {
		a.Status = models.AgentStatusIdle
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	skills, capabilities, err := marshalAgentJSON(&a)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO aria_engine.agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		a.ID, a.DisplayName, a.Type, a.ParentAgentID, a.Model, a.FallbackModel,
		a.SystemPrompt, a.Temperature, a.MaxTokens, a.FocusType, skills, capabilities,
		a.Enabled, a.TimeoutSeconds, a.RateLimit.Requests, a.RateLimit.WindowSeconds,
		a.AppManaged, a.Status, a.ConsecutiveFailures, a.PheromoneScore, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return &a, nil
}

// Update overwrites catalog fields and marks the row app_managed. Runtime
// state columns are untouched.
func (s *AgentService) Update(ctx context.Context, a models.Agent) (*models.Agent, error) {
	skills, capabilities, err := marshalAgentJSON(&a)
	if err != nil {
		return nil, err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE aria_engine.agents SET
			display_name = $2, agent_type = $3, parent_agent_id = $4, model = $5,
			fallback_model = $6, system_prompt = $7, temperature = $8, max_tokens = $9,
			focus_type = $10, skills = $11, capabilities = $12, enabled = $13,
			timeout_seconds = $14, rate_limit_requests = $15, rate_limit_window_s = $16,
			app_managed = TRUE, updated_at = $17
		WHERE agent_id = $1`,
		a.ID, a.DisplayName, a.Type, a.ParentAgentID, a.Model, a.FallbackModel,
		a.SystemPrompt, a.Temperature, a.MaxTokens, a.FocusType, skills, capabilities,
		a.Enabled, a.TimeoutSeconds, a.RateLimit.Requests, a.RateLimit.WindowSeconds,
		time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, a.ID)
}

// Delete removes an agent row.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM aria_engine.agents WHERE agent_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Sync reconciles declared agents into the DB mirror, preserving runtime
// state on updates. Same skip/force semantics as model sync.
func (s *AgentService) Sync(ctx context.Context, declared []models.Agent, force bool) (models.SyncResult, error) {
	var result models.SyncResult

	existing := make(map[string]bool)
	appManaged := make(map[string]bool)
	rows, err := s.pool.Query(ctx, `SELECT agent_id, app_managed FROM aria_engine.agents`)
	if err != nil {
		return result, fmt.Errorf("failed to load existing agents: %w", err)
	}
	for rows.Next() {
		var id string
		var managed bool
		if err := rows.Scan(&id, &managed); err != nil {
			rows.Close()
			return result, fmt.Errorf("failed to scan agent row: %w", err)
		}
		existing[id] = true
		appManaged[id] = managed
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, err
	}

	now := time.Now().UTC()
	for _, a := range declared {
		skills, capabilities, err := marshalAgentJSON(&a)
		if err != nil {
			return result, err
		}
		switch decideSync(existing[a.ID], appManaged[a.ID], force) {
		case syncInsert:
			if _, err := s.pool.Exec(ctx, `
				INSERT INTO aria_engine.agents (`+agentColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				        $13, $14, $15, $16, FALSE, $17, 0, $18, $19, $19)`,
				a.ID, a.DisplayName, a.Type, a.ParentAgentID, a.Model, a.FallbackModel,
				a.SystemPrompt, a.Temperature, a.MaxTokens, a.FocusType, skills, capabilities,
				a.Enabled, a.TimeoutSeconds, a.RateLimit.Requests, a.RateLimit.WindowSeconds,
				models.AgentStatusIdle, a.PheromoneScore, now); err != nil {
				return result, fmt.Errorf("failed to insert agent %q: %w", a.ID, err)
			}
			result.Inserted++
		case syncUpdate:
			if _, err := s.pool.Exec(ctx, `
				UPDATE aria_engine.agents SET
					display_name = $2, agent_type = $3, parent_agent_id = $4, model = $5,
					fallback_model = $6, system_prompt = $7, temperature = $8, max_tokens = $9,
					focus_type = $10, skills = $11, capabilities = $12, enabled = $13,
					timeout_seconds = $14, rate_limit_requests = $15, rate_limit_window_s = $16,
					app_managed = FALSE, updated_at = $17
				WHERE agent_id = $1`,
				a.ID, a.DisplayName, a.Type, a.ParentAgentID, a.Model, a.FallbackModel,
				a.SystemPrompt, a.Temperature, a.MaxTokens, a.FocusType, skills, capabilities,
				a.Enabled, a.TimeoutSeconds, a.RateLimit.Requests, a.RateLimit.WindowSeconds,
				now); err != nil {
				return result, fmt.Errorf("failed to update agent %q: %w", a.ID, err)
			}
			result.Updated++
		case syncSkip:
			result.Skipped++
		}
	}
	return result, nil
}

// RecordOutcome updates an agent's runtime health after a turn: the
// consecutive-failure counter and the recency-weighted pheromone score.
func (s *AgentService) RecordOutcome(ctx context.Context, id string, success bool) error {
	var q string
	if success {
		q = `UPDATE aria_engine.agents SET
			consecutive_failures = 0,
			pheromone_score = LEAST(1.0, pheromone_score*0.9 + 0.1),
			updated_at = now()
		WHERE agent_id = $1`
	} else {
		q = `UPDATE aria_engine.agents SET
			consecutive_failures = consecutive_failures + 1,
			pheromone_score = GREATEST(0.0, pheromone_score*0.9),
			updated_at = now()
		WHERE agent_id = $1`
	}
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("failed to record agent outcome: %w", err)
	}
	return nil
}

// SetStatus updates an agent's runtime status.
func (s *AgentService) SetStatus(ctx context.Context, id string, status models.AgentStatus) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE aria_engine.agents SET status = $2, updated_at = now() WHERE agent_id = $1`,
		id, status); err != nil {
		return fmt.Errorf("failed to set agent status: %w", err)
	}
	return nil
}

func scanAgent(row rowScanner) (models.Agent, error) {
	var a models.Agent
	var skills, capabilities []byte
	err := row.Scan(&a.ID, &a.DisplayName, &a.Type, &a.ParentAgentID, &a.Model,
		&a.FallbackModel, &a.SystemPrompt, &a.Temperature, &a.MaxTokens, &a.FocusType,
		&skills, &capabilities, &a.Enabled, &a.TimeoutSeconds,
		&a.RateLimit.Requests, &a.RateLimit.WindowSeconds,
		&a.AppManaged, &a.Status, &a.ConsecutiveFailures, &a.PheromoneScore,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, fmt.Errorf("failed to scan agent: %w", err)
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &a.Skills); err != nil {
			return a, fmt.Errorf("failed to unmarshal agent skills: %w", err)
		}
	}
	if len(capabilities) > 0 {
		if err := json.Unmarshal(capabilities, &a.Capabilities); err != nil {
			return a, fmt.Errorf("failed to unmarshal agent capabilities: %w", err)
		}
	}
	return a, nil
}

func marshalAgentJSON(a *models.Agent) (skills, capabilities []byte, err error) {
	if skills, err = json.Marshal(orEmptySlice(a.Skills)); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal skills: %w", err)
	}
	if capabilities, err = json.Marshal(orEmptySlice(a.Capabilities)); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	return skills, capabilities, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
