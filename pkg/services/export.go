package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aria-agents/aria/pkg/models"
)

// ExportFormat selects the session export rendering.
type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportMarkdown ExportFormat = "markdown"
)

// SessionExport is the JSON export envelope. Embeddings are intentionally
// excluded; re-importing an export reproduces the message list exactly
// modulo vectors.
type SessionExport struct {
	Session  *models.ChatSession   `json:"session"`
	Messages []*models.ChatMessage `json:"messages"`
}

// ExportSession renders a session and its full message list as JSON or as a
// markdown transcript.
func (s *SessionService) ExportSession(ctx context.Context, id string, format ExportFormat) ([]byte, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.ListMessages(ctx, id, 1000, 0)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportJSON, "":
		out, err := json.MarshalIndent(SessionExport{Session: sess, Messages: msgs}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal export: %w", err)
		}
		return out, nil
	case ExportMarkdown:
		return renderMarkdown(sess, msgs), nil
	default:
		return nil, NewValidationError("format", fmt.Sprintf("unknown export format %q", format))
	}
}

func renderMarkdown(sess *models.ChatSession, msgs []*models.ChatMessage) []byte {
	var b strings.Builder
	title := sess.Title
	if title == "" {
		title = sess.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Agent: %s\n- Type: %s\n- Status: %s\n- Messages: %d\n- Tokens: %d\n\n",
		sess.AgentID, sess.Type, sess.Status, sess.MessageCount, sess.TotalTokens)

	for _, msg := range msgs {
		fmt.Fprintf(&b, "## %s (%s)\n\n", msg.Role, msg.CreatedAt.Format("2006-01-02 15:04:05.000000"))
		if msg.Content != "" {
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "> tool call `%s` (%s): `%s`\n\n", tc.Name, tc.ID, tc.Arguments)
		}
		for _, tr := range msg.ToolResults {
			fmt.Fprintf(&b, "> tool result `%s` (%dms): %s\n\n", tr.Name, tr.DurationMs, tr.Content)
		}
	}
	return []byte(b.String())
}

// SetSnapshots records the system prompt and model used for a session's
// first turn; subsequent turns reuse the snapshot for stable context.
func (s *SessionService) SetSnapshots(ctx context.Context, id, systemPrompt, model string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE aria_data.chat_sessions
		SET system_prompt_snapshot = $2, model_snapshot = $3
		WHERE id = $1 AND system_prompt_snapshot = ''`,
		id, systemPrompt, model)
	if err != nil {
		return fmt.Errorf("failed to set session snapshots: %w", err)
	}
	_ = tag // already-snapshotted sessions are left unchanged
	return nil
}
