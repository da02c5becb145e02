package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aria-agents/aria/pkg/models"
)

// EmbedPublisher receives "embed this" events for user/assistant messages.
// The external embedder consumes them and writes vectors back; the store
// never blocks on it.
type EmbedPublisher interface {
	PublishEmbed(ctx context.Context, sessionID, messageID, content string) error
}

// SessionService is the session store: chat sessions and their append-only
// message logs in aria_data. Appends on one session are serialized through a
// row lock so the canonical order delivered to the LLM is stable.
type SessionService struct {
	pool  *pgxpool.Pool
	embed EmbedPublisher // nil disables the embedding hook
}

// NewSessionService creates a new SessionService.
func NewSessionService(pool *pgxpool.Pool, embed EmbedPublisher) *SessionService {
	return &SessionService{pool: pool, embed: embed}
}

// CreateSession creates a new active chat session.
func (s *SessionService) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.ChatSession, error) {
	if req.AgentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	switch req.Type {
	case models.SessionTypeInteractive, models.SessionTypeCron, models.SessionTypeSkillExec,
		models.SessionTypeRoundtable, models.SessionTypeSwarm:
	case "":
		req.Type = models.SessionTypeInteractive
	default:
		return nil, NewValidationError("session_type", fmt.Sprintf("unknown type %q", req.Type))
	}

	now := time.Now().UTC()
	sess := &models.ChatSession{
		ID:        uuid.NewString(),
		AgentID:   req.AgentID,
		Type:      req.Type,
		Title:     req.Title,
		Status:    models.SessionStatusActive,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	metadata, err := json.Marshal(orEmptyMap(sess.Metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO aria_data.chat_sessions
			(id, agent_id, session_type, title, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.AgentID, sess.Type, sess.Title, sess.Status, metadata, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession fetches one session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	return scanSession(s.pool.QueryRow(ctx, sessionSelect+` WHERE id = $1`, id))
}

// ListSessions returns sessions newest-first.
func (s *SessionService) ListSessions(ctx context.Context, limit, offset int) ([]*models.ChatSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, sessionSelect+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendMessage appends one row to a session's log inside a transaction that
// locks the session row, giving at-most-one-writer semantics per session.
// created_at is forced strictly greater than the previous message's so the
// canonical ordering is total.
func (s *SessionService) AppendMessage(ctx context.Context, req models.AppendMessageRequest) (*models.ChatMessage, error) {
	if req.SessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	switch req.Role {
	case models.RoleSystem, models.RoleUser, models.RoleAssistant, models.RoleTool:
	default:
		return nil, NewValidationError("role", fmt.Sprintf("unknown role %q", req.Role))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status models.SessionStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM aria_data.chat_sessions WHERE id = $1 FOR UPDATE`,
		req.SessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if status.Terminal() {
		return nil, ErrSessionNotActive
	}

	// Referential integrity: a tool message must answer a prior assistant
	// tool call in the same session.
	if req.Role == models.RoleTool {
		if len(req.ToolResults) != 1 {
			return nil, NewValidationError("tool_results", "tool message requires exactly one result")
		}
		ref, err := json.Marshal([]map[string]string{{"id": req.ToolResults[0].CallID}})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool call ref: %w", err)
		}
		var ok bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM aria_data.chat_messages
				WHERE session_id = $1 AND role = 'assistant' AND tool_calls @> $2
			)`, req.SessionID, ref).Scan(&ok)
		if err != nil {
			return nil, fmt.Errorf("failed to check tool call reference: %w", err)
		}
		if !ok {
			return nil, ErrToolCallUnreferenced
		}
	}

	var lastCreated *time.Time
	err = tx.QueryRow(ctx,
		`SELECT max(created_at) FROM aria_data.chat_messages WHERE session_id = $1`,
		req.SessionID).Scan(&lastCreated)
	if err != nil {
		return nil, fmt.Errorf("failed to read last message time: %w", err)
	}

	createdAt := time.Now().UTC()
	if lastCreated != nil && !createdAt.After(*lastCreated) {
		createdAt = lastCreated.Add(time.Microsecond)
	}

	msg := &models.ChatMessage{
		ID:           uuid.NewString(),
		SessionID:    req.SessionID,
		Role:         req.Role,
		Content:      req.Content,
		Thinking:     req.Thinking,
		ToolCalls:    req.ToolCalls,
		ToolResults:  req.ToolResults,
		Model:        req.Model,
		TokensInput:  req.TokensInput,
		TokensOutput: req.TokensOutput,
		Cost:         req.Cost,
		LatencyMs:    req.LatencyMs,
		AgentID:      req.AgentID,
		Metadata:     req.Metadata,
		CreatedAt:    createdAt,
	}

	toolCalls, toolResults, metadata, err := marshalMessageJSON(msg)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO aria_data.chat_messages
			(id, session_id, role, content, thinking, tool_calls, tool_results,
			 model, tokens_input, tokens_output, cost, latency_ms, agent_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, nullIfEmpty(msg.Thinking),
		toolCalls, toolResults, msg.Model, msg.TokensInput, msg.TokensOutput,
		msg.Cost, msg.LatencyMs, msg.AgentID, metadata, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE aria_data.chat_sessions SET
			message_count = message_count + 1,
			total_tokens = total_tokens + $2,
			total_cost = total_cost + $3,
			updated_at = $4
		WHERE id = $1`,
		req.SessionID, msg.TokensInput+msg.TokensOutput, msg.Cost, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update session counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	// Embedding hand-off: async, best effort, only for conversational rows.
	if s.embed != nil && (msg.Role == models.RoleUser || msg.Role == models.RoleAssistant) && msg.Content != "" {
		if err := s.embed.PublishEmbed(ctx, msg.SessionID, msg.ID, msg.Content); err != nil {
			slog.Warn("embed hand-off failed", "session_id", msg.SessionID, "message_id", msg.ID, "error", err)
		}
	}

	return msg, nil
}

// ListMessages returns a session's messages in canonical created_at order.
func (s *SessionService) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*models.ChatMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, messageSelect+`
		WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// RecentMessages returns the newest n messages, oldest first, for context
// assembly.
func (s *SessionService) RecentMessages(ctx context.Context, sessionID string, n int) ([]*models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT * FROM (`+messageSelect+`
		WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2) sub ORDER BY created_at ASC`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	defer rows.Close()

	var out []*models.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// EndSession terminates a session with the given terminal status.
func (s *SessionService) EndSession(ctx context.Context, id string, status models.SessionStatus) (*models.ChatSession, error) {
	if !status.Terminal() {
		return nil, NewValidationError("status", "end status must be terminal")
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE aria_data.chat_sessions
		SET status = $2, ended_at = $3, updated_at = $3
		WHERE id = $1`,
		id, status, now)
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session; messages cascade.
func (s *SessionService) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM aria_data.chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeTerminalSessions hard-deletes sessions that ended before the cutoff;
// their messages cascade. Active sessions are never touched regardless of
// age.
func (s *SessionService) PurgeTerminalSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM aria_data.chat_sessions
		WHERE status <> 'active' AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- row scanning helpers ---

const sessionSelect = `
	SELECT id, agent_id, session_type, title, system_prompt_snapshot, model_snapshot,
	       status, message_count, total_tokens, total_cost, metadata,
	       created_at, updated_at, ended_at
	FROM aria_data.chat_sessions`

const messageSelect = `
	SELECT id, session_id, role, content, thinking, tool_calls, tool_results,
	       model, tokens_input, tokens_output, cost, latency_ms, agent_id, metadata, created_at
	FROM aria_data.chat_messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.ChatSession, error) {
	var sess models.ChatSession
	var metadata []byte
	err := row.Scan(&sess.ID, &sess.AgentID, &sess.Type, &sess.Title,
		&sess.SystemPromptSnapshot, &sess.ModelSnapshot, &sess.Status,
		&sess.MessageCount, &sess.TotalTokens, &sess.TotalCost, &metadata,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
		}
	}
	return &sess, nil
}

func scanMessage(row rowScanner) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	var thinking *string
	var toolCalls, toolResults, metadata []byte
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &thinking,
		&toolCalls, &toolResults, &msg.Model, &msg.TokensInput, &msg.TokensOutput,
		&msg.Cost, &msg.LatencyMs, &msg.AgentID, &metadata, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	if thinking != nil {
		msg.Thinking = *thinking
	}
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
		}
	}
	if len(toolResults) > 0 {
		if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool results: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
	}
	return &msg, nil
}

func marshalMessageJSON(msg *models.ChatMessage) (toolCalls, toolResults, metadata []byte, err error) {
	if len(msg.ToolCalls) > 0 {
		if toolCalls, err = json.Marshal(msg.ToolCalls); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal tool calls: %w", err)
		}
	}
	if len(msg.ToolResults) > 0 {
		if toolResults, err = json.Marshal(msg.ToolResults); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal tool results: %w", err)
		}
	}
	if len(msg.Metadata) > 0 {
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return toolCalls, toolResults, metadata, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
