package events

import (
	"log/slog"
	"sync"
)

// FrameType classifies one streaming frame delivered to WebSocket clients.
type FrameType string

const (
	FrameToken      FrameType = "token"
	FrameToolCall   FrameType = "tool_call"
	FrameToolResult FrameType = "tool_result"
	FrameFinal      FrameType = "final"
	FrameError      FrameType = "error"
)

// Frame is one event on a session's live stream.
type Frame struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
}

type subscriber struct {
	ch chan Frame
}

// StreamHub fans chat-turn progress out to WebSocket subscribers, keyed by
// session id. Publishing never blocks: a subscriber that cannot keep up has
// frames dropped, not queued.
type StreamHub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewStreamHub creates an empty hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a listener for one session's frames. The returned
// cancel function must be called exactly once; it closes the channel.
func (h *StreamHub) Subscribe(sessionID string) (<-chan Frame, func()) {
	sub := &subscriber{ch: make(chan Frame, 64)}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[sessionID], sub)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers a frame to every subscriber of the session.
func (h *StreamHub) Publish(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[frame.SessionID] {
		select {
		case sub.ch <- frame:
		default:
			slog.Debug("dropping stream frame for slow subscriber",
				"session_id", frame.SessionID, "type", frame.Type)
		}
	}
}

// SubscriberCount reports the live subscriber count for a session.
func (h *StreamHub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
