package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aria-agents/aria/pkg/events"
	"github.com/aria-agents/aria/pkg/models"
	"github.com/aria-agents/aria/pkg/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients carry no API key; origin checking is delegated to the
	// reverse proxy in front of the service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClientFrame is what a connected client may send: a user message for the
// session this socket is bound to.
type wsClientFrame struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	EnableTools    bool   `json:"enable_tools"`
	EnableThinking bool   `json:"enable_thinking"`
}

// handleChatSocket upgrades the connection and streams turn progress frames
// for one session. Inbound frames post messages exactly like the REST
// endpoint; outcomes arrive on the stream rather than in a response body.
func (s *Server) handleChatSocket(c *gin.Context) {
	sessionID := c.Param("id")
	sess, err := s.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.Status.Terminal() {
		writeError(c, services.ErrSessionNotActive)
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	frames, unsubscribe := s.hub.Subscribe(sessionID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.writeFrames(ctx, conn, frames)
	s.readFrames(ctx, conn, sessionID)
}

// writeFrames pumps hub frames and pings to the socket until the stream or
// the connection dies.
func (s *Server) writeFrames(ctx context.Context, conn *websocket.Conn, frames <-chan events.Frame) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readFrames consumes client frames until the connection closes. Each
// message frame runs a full chat turn; failures surface as error frames on
// the stream, so the read loop only logs them.
func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn, sessionID string) {
	defer conn.Close()
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame wsClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket closed unexpectedly", "session_id", sessionID, "error", err)
			}
			return
		}
		if frame.Type != "message" {
			continue
		}

		go func(frame wsClientFrame) {
			_, err := s.engine.SendMessage(ctx, sessionID, models.SendMessageRequest{
				Content:        frame.Content,
				EnableTools:    frame.EnableTools,
				EnableThinking: frame.EnableThinking,
			})
			if err != nil {
				slog.Debug("websocket turn failed", "session_id", sessionID, "error", err)
			}
		}(frame)
	}
}
