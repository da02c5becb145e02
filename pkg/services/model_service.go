package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aria-agents/aria/pkg/models"
)

// ModelService manages the DB mirror of the model catalog in
// aria_engine.models. The YAML catalog is the source of truth; operator
// edits via the admin API set app_managed so syncs skip them.
type ModelService struct {
	pool *pgxpool.Pool
}

// NewModelService creates a new ModelService.
func NewModelService(pool *pgxpool.Pool) *ModelService {
	return &ModelService{pool: pool}
}

const modelColumns = `
	id, name, provider, tier, reasoning, vision, tool_calling, context_window,
	max_tokens, cost_input, cost_output, proxy_model_string, enabled, sort_order, app_managed`

// List returns all models ordered by sort_order then id.
func (s *ModelService) List(ctx context.Context, enabledOnly bool) ([]models.Model, error) {
	q := `SELECT ` + modelColumns + ` FROM aria_engine.models`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY sort_order, id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []models.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get fetches one model by id.
func (s *ModelService) Get(ctx context.Context, id string) (*models.Model, error) {
	m, err := scanModel(s.pool.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM aria_engine.models WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts an operator-defined model; the row is born app_managed.
func (s *ModelService) Create(ctx context.Context, m models.Model) (*models.Model, error) {
	if m.ID == "" {
		return nil, NewValidationError("id", "required")
	}
	if m.ProxyModelString == "" {
		return nil, NewValidationError("proxy_model_string", "required")
	}
	m.AppManaged = true

	_, err := s.pool.Exec(ctx, `
		INSERT INTO aria_engine.models (`+modelColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.Name, m.Provider, m.Tier, m.Reasoning, m.Vision, m.ToolCalling,
		m.ContextWindow, m.MaxTokens, m.CostInput, m.CostOutput,
		m.ProxyModelString, m.Enabled, m.SortOrder, m.AppManaged)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}
	return &m, nil
}

// Update overwrites catalog fields and marks the row app_managed so the next
// sync preserves the operator's edit.
func (s *ModelService) Update(ctx context.Context, m models.Model) (*models.Model, error) {
	m.AppManaged = true
	tag, err := s.pool.Exec(ctx, `
		UPDATE aria_engine.models SET
			name = $2, provider = $3, tier = $4, reasoning = $5, vision = $6,
			tool_calling = $7, context_window = $8, max_tokens = $9,
			cost_input = $10, cost_output = $11, proxy_model_string = $12,
			enabled = $13, sort_order = $14, app_managed = TRUE
		WHERE id = $1`,
		m.ID, m.Name, m.Provider, m.Tier, m.Reasoning, m.Vision, m.ToolCalling,
		m.ContextWindow, m.MaxTokens, m.CostInput, m.CostOutput,
		m.ProxyModelString, m.Enabled, m.SortOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to update model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return &m, nil
}

// Delete removes a model row. Sync never deletes; this is the only path.
func (s *ModelService) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM aria_engine.models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Sync reconciles the declared catalog into the DB mirror. app_managed rows
// are skipped unless force is set; force also clears the flag on every row
// it touches. Rows absent from the catalog are never deleted.
func (s *ModelService) Sync(ctx context.Context, declared []models.Model, force bool) (models.SyncResult, error) {
	var result models.SyncResult

	existing := make(map[string]bool)
	appManaged := make(map[string]bool)
	rows, err := s.pool.Query(ctx, `SELECT id, app_managed FROM aria_engine.models`)
	if err != nil {
		return result, fmt.Errorf("failed to load existing models: %w", err)
	}
	for rows.Next() {
		var id string
		var managed bool
		if err := rows.Scan(&id, &managed); err != nil {
			rows.Close()
			return result, fmt.Errorf("failed to scan model row: %w", err)
		}
		existing[id] = true
		appManaged[id] = managed
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, err
	}

	for _, m := range declared {
		switch decideSync(existing[m.ID], appManaged[m.ID], force) {
		case syncInsert:
			if _, err := s.pool.Exec(ctx, `
				INSERT INTO aria_engine.models (`+modelColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, FALSE)`,
				m.ID, m.Name, m.Provider, m.Tier, m.Reasoning, m.Vision, m.ToolCalling,
				m.ContextWindow, m.MaxTokens, m.CostInput, m.CostOutput,
				m.ProxyModelString, m.Enabled, m.SortOrder); err != nil {
				return result, fmt.Errorf("failed to insert model %q: %w", m.ID, err)
			}
			result.Inserted++
		case syncUpdate:
			if _, err := s.pool.Exec(ctx, `
				UPDATE aria_engine.models SET
					name = $2, provider = $3, tier = $4, reasoning = $5, vision = $6,
					tool_calling = $7, context_window = $8, max_tokens = $9,
					cost_input = $10, cost_output = $11, proxy_model_string = $12,
					enabled = $13, sort_order = $14, app_managed = FALSE
				WHERE id = $1`,
				m.ID, m.Name, m.Provider, m.Tier, m.Reasoning, m.Vision, m.ToolCalling,
				m.ContextWindow, m.MaxTokens, m.CostInput, m.CostOutput,
				m.ProxyModelString, m.Enabled, m.SortOrder); err != nil {
				return result, fmt.Errorf("failed to update model %q: %w", m.ID, err)
			}
			result.Updated++
		case syncSkip:
			result.Skipped++
		}
	}
	return result, nil
}

func scanModel(row rowScanner) (models.Model, error) {
	var m models.Model
	err := row.Scan(&m.ID, &m.Name, &m.Provider, &m.Tier, &m.Reasoning, &m.Vision,
		&m.ToolCalling, &m.ContextWindow, &m.MaxTokens, &m.CostInput, &m.CostOutput,
		&m.ProxyModelString, &m.Enabled, &m.SortOrder, &m.AppManaged)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, ErrNotFound
	}
	if err != nil {
		return m, fmt.Errorf("failed to scan model: %w", err)
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
