package roundtable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aria-agents/aria/pkg/engine"
	"github.com/aria-agents/aria/pkg/llm"
	"github.com/aria-agents/aria/pkg/metrics"
	"github.com/aria-agents/aria/pkg/models"
)

var (
	// ErrTooFewParticipants rejects discussions with fewer than two agents.
	ErrTooFewParticipants = errors.New("roundtable needs at least two participants")
	// ErrInvalidRounds rejects non-positive round counts.
	ErrInvalidRounds = errors.New("rounds must be >= 1")
	// ErrParticipantUnavailable rejects unknown or disabled participants.
	ErrParticipantUnavailable = errors.New("participant unavailable")
)

const synthesisUnavailable = "[synthesis unavailable]"

// Sessions is the session persistence surface the roundtable uses for the
// parent transcript and the ephemeral per-turn child sessions.
type Sessions interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.ChatSession, error)
	AppendMessage(ctx context.Context, req models.AppendMessageRequest) (*models.ChatMessage, error)
	EndSession(ctx context.Context, id string, status models.SessionStatus) (*models.ChatSession, error)
}

// ChatEngine runs one-shot turns. Implemented by engine.Engine.
type ChatEngine interface {
	SendMessage(ctx context.Context, sessionID string, req models.SendMessageRequest) (*engine.TurnResult, error)
}

// Resolver validates participants. Implemented by services.Registry.
type Resolver interface {
	ResolveAgent(id string) (models.Agent, error)
}

// Coordinator runs multi-agent discussions: sequential turns across rounds,
// then one synthesis turn. A failing or timed-out participant never aborts
// the discussion.
type Coordinator struct {
	sessions Sessions
	engine   ChatEngine
	resolver Resolver
	metrics  *metrics.Metrics

	defaultAgentTimeout time.Duration
	defaultTotalTimeout time.Duration
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(sessions Sessions, chatEngine ChatEngine, resolver Resolver, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		sessions:            sessions,
		engine:              chatEngine,
		resolver:            resolver,
		metrics:             m,
		defaultAgentTimeout: 60 * time.Second,
		defaultTotalTimeout: 10 * time.Minute,
	}
}

// Discuss runs one discussion to completion. The total timeout stops
// scheduling of new turns and forces synthesis over whatever exists, marking
// the record partial. Caller cancellation is honored between turns.
func (c *Coordinator) Discuss(ctx context.Context, req models.DiscussRequest) (*models.RoundtableRecord, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}
	agentTimeout, totalTimeout := c.timeouts(req)

	parent, err := c.sessions.CreateSession(ctx, models.CreateSessionRequest{
		AgentID: req.SynthesizerID,
		Type:    models.SessionTypeRoundtable,
		Title:   req.Topic,
		Metadata: map[string]any{
			"participants": req.AgentIDs,
			"rounds":       req.Rounds,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create roundtable session: %w", err)
	}

	record := &models.RoundtableRecord{
		SessionID:     parent.ID,
		Topic:         req.Topic,
		Participants:  req.AgentIDs,
		Rounds:        req.Rounds,
		SynthesizerID: req.SynthesizerID,
		Status:        models.RoundtableRunning,
	}
	started := time.Now()

	totalCtx, cancelTotal := context.WithTimeout(ctx, totalTimeout)
	defer cancelTotal()

	cancelled := false
rounds:
	for round := 1; round <= req.Rounds; round++ {
		for pos, agentID := range req.AgentIDs {
			if ctx.Err() != nil {
				cancelled = true
				break rounds
			}
			if totalCtx.Err() != nil {
				record.Partial = true
				break rounds
			}
			turn := c.runTurn(totalCtx, parent.ID, agentID, round, pos, agentTimeout,
				participantPrompt(req.Topic, agentID, record.Turns))
			record.Turns = append(record.Turns, turn)
			record.TurnCount++
			c.metrics.RoundtableTurns.Inc()
			c.appendTurn(ctx, parent.ID, turn)
		}
	}

	if cancelled {
		record.Status = models.RoundtableFailed
		record.Partial = true
		record.TotalDurationMs = time.Since(started).Milliseconds()
		c.endParent(parent.ID, models.SessionStatusError)
		return record, ctx.Err()
	}

	if totalCtx.Err() != nil {
		record.Partial = true
		record.Status = models.RoundtableTimeout
	} else {
		record.Status = models.RoundtableCompleted
	}

	c.synthesize(ctx, parent.ID, agentTimeout, req, record)
	record.TotalDurationMs = time.Since(started).Milliseconds()
	c.endParent(parent.ID, models.SessionStatusCompleted)
	return record, nil
}

func (c *Coordinator) validate(req models.DiscussRequest) error {
	if len(req.AgentIDs) < 2 {
		return ErrTooFewParticipants
	}
	if req.Rounds < 1 {
		return ErrInvalidRounds
	}
	ids := append([]string{req.SynthesizerID}, req.AgentIDs...)
	for _, id := range ids {
		agent, err := c.resolver.ResolveAgent(id)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrParticipantUnavailable, id, err)
		}
		if !agent.Enabled {
			return fmt.Errorf("%w: %s is disabled", ErrParticipantUnavailable, id)
		}
	}
	return nil
}

func (c *Coordinator) timeouts(req models.DiscussRequest) (agent, total time.Duration) {
	agent = c.defaultAgentTimeout
	if req.AgentTimeoutSeconds > 0 {
		agent = time.Duration(req.AgentTimeoutSeconds) * time.Second
	}
	total = c.defaultTotalTimeout
	if req.TotalTimeoutSeconds > 0 {
		total = time.Duration(req.TotalTimeoutSeconds) * time.Second
	}
	return agent, total
}

// runTurn executes one participant turn in a fresh child session. Errors and
// timeouts become synthetic turns so the discussion continues.
func (c *Coordinator) runTurn(ctx context.Context, parentID, agentID string, round, pos int,
	timeout time.Duration, prompt string) models.RoundtableTurn {

	turn := models.RoundtableTurn{AgentID: agentID, Round: round, Position: pos}
	started := time.Now()

	child, err := c.sessions.CreateSession(ctx, models.CreateSessionRequest{
		AgentID: agentID,
		Type:    models.SessionTypeRoundtable,
		Metadata: map[string]any{
			"parent_session_id": parentID,
			"round":             round,
			"position":          pos,
		},
	})
	if err != nil {
		turn.Failed = true
		turn.Content = fmt.Sprintf("[%s failed]", agentID)
		return turn
	}
	defer func() {
		if _, err := c.sessions.EndSession(context.WithoutCancel(ctx), child.ID, models.SessionStatusCompleted); err != nil {
			slog.Warn("failed to end roundtable child session", "session_id", child.ID, "error", err)
		}
	}()

	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.engine.SendMessage(turnCtx, child.ID, models.SendMessageRequest{Content: prompt})
	turn.DurationMs = time.Since(started).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, llm.ErrUpstreamTimeout) {
			turn.TimedOut = true
			turn.Content = fmt.Sprintf("[%s timed out]", agentID)
		} else {
			turn.Failed = true
			turn.Content = fmt.Sprintf("[%s failed]", agentID)
		}
		slog.Warn("roundtable turn failed", "agent_id", agentID, "round", round, "error", err)
		return turn
	}
	turn.Content = result.Message.Content
	return turn
}

// appendTurn records a turn on the parent transcript. Best effort; the
// in-memory record is authoritative for the response.
func (c *Coordinator) appendTurn(ctx context.Context, parentID string, turn models.RoundtableTurn) {
	if _, err := c.sessions.AppendMessage(context.WithoutCancel(ctx), models.AppendMessageRequest{
		SessionID: parentID,
		Role:      models.RoleAssistant,
		Content:   turn.Content,
		AgentID:   turn.AgentID,
		Metadata: map[string]any{
			"agent_id": turn.AgentID,
			"round":    turn.Round,
			"position": turn.Position,
		},
	}); err != nil {
		slog.Warn("failed to append roundtable turn", "session_id", parentID, "error", err)
	}
}

// synthesize runs the synthesizer over all turns. Failure degrades to a
// placeholder synthesis with partial=true rather than an error.
func (c *Coordinator) synthesize(ctx context.Context, parentID string, agentTimeout time.Duration,
	req models.DiscussRequest, record *models.RoundtableRecord) {

	turn := c.runTurn(context.WithoutCancel(ctx), parentID, req.SynthesizerID, record.Rounds+1, 0,
		agentTimeout, synthesisPrompt(req.Topic, record.Turns))
	if turn.TimedOut || turn.Failed {
		record.Synthesis = synthesisUnavailable
		record.Partial = true
		return
	}
	record.Synthesis = turn.Content
	c.appendTurn(ctx, parentID, models.RoundtableTurn{
		AgentID: req.SynthesizerID,
		Round:   record.Rounds + 1,
		Content: turn.Content,
	})
}

func (c *Coordinator) endParent(id string, status models.SessionStatus) {
	if _, err := c.sessions.EndSession(context.Background(), id, status); err != nil {
		slog.Warn("failed to end roundtable session", "session_id", id, "error", err)
	}
}

func transcript(turns []models.RoundtableTurn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "Round %d, %s:\n%s\n\n", t.Round, t.AgentID, t.Content)
	}
	return b.String()
}

func participantPrompt(topic, agentID string, turns []models.RoundtableTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are participating in a roundtable discussion.\n\nTopic: %s\n\n", topic)
	if len(turns) > 0 {
		b.WriteString("Discussion so far:\n\n")
		b.WriteString(transcript(turns))
	}
	fmt.Fprintf(&b, "It is your turn, %s. Give your contribution to the discussion.", agentID)
	return b.String()
}

func synthesisPrompt(topic string, turns []models.RoundtableTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synthesize the following roundtable discussion into a final summary.\n\nTopic: %s\n\n", topic)
	b.WriteString(transcript(turns))
	b.WriteString("Write the final synthesis.")
	return b.String()
}
