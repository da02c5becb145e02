package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// EmbedChannel is the NOTIFY channel carrying embedding requests. An
// external embedder LISTENs here and writes vectors back to
// aria_data.chat_messages.embedding; the core never blocks on it.
const EmbedChannel = "aria_embed"

// notifyLimit stays under PostgreSQL's 8000-byte NOTIFY payload cap.
const notifyLimit = 7900

// EmbedRequest asks the external embedder to vectorize one message.
type EmbedRequest struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// EmbedPublisher broadcasts embedding requests via pg_notify. Delivery is
// best-effort; a missed notification only means one message lacks a vector.
type EmbedPublisher struct {
	db *sql.DB
}

// NewEmbedPublisher creates a publisher over the client's database/sql handle.
func NewEmbedPublisher(db *sql.DB) *EmbedPublisher {
	return &EmbedPublisher{db: db}
}

// PublishEmbed emits one embedding request. Oversized content is dropped
// from the payload; the embedder refetches it by message id.
func (p *EmbedPublisher) PublishEmbed(ctx context.Context, sessionID, messageID, content string) error {
	req := EmbedRequest{SessionID: sessionID, MessageID: messageID, Content: content}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal embed request: %w", err)
	}
	if len(payload) > notifyLimit {
		req.Content = ""
		req.Truncated = true
		if payload, err = json.Marshal(req); err != nil {
			return fmt.Errorf("failed to marshal truncated embed request: %w", err)
		}
	}

	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", EmbedChannel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}
