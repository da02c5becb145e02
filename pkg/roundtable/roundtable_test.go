package roundtable

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-agents/aria/pkg/engine"
	"github.com/aria-agents/aria/pkg/metrics"
	"github.com/aria-agents/aria/pkg/models"
)

type fakeSessions struct {
	mu       sync.Mutex
	seq      int
	agents   map[string]string // session id -> agent id
	appended map[string][]models.AppendMessageRequest
	ended    map[string]models.SessionStatus
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		agents:   make(map[string]string),
		appended: make(map[string][]models.AppendMessageRequest),
		ended:    make(map[string]models.SessionStatus),
	}
}

func (s *fakeSessions) CreateSession(_ context.Context, req models.CreateSessionRequest) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("sess-%d", s.seq)
	s.agents[id] = req.AgentID
	return &models.ChatSession{ID: id, AgentID: req.AgentID, Type: req.Type, Status: models.SessionStatusActive}, nil
}

func (s *fakeSessions) AppendMessage(_ context.Context, req models.AppendMessageRequest) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended[req.SessionID] = append(s.appended[req.SessionID], req)
	return &models.ChatMessage{SessionID: req.SessionID, Role: req.Role, Content: req.Content}, nil
}

func (s *fakeSessions) EndSession(_ context.Context, id string, status models.SessionStatus) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended[id] = status
	return &models.ChatSession{ID: id, Status: status}, nil
}

// fakeEngine answers per agent: "slow" agents block until the turn deadline,
// "broken" agents error, everyone else echoes a canned line.
type fakeEngine struct {
	sessions *fakeSessions
	slow     map[string]bool
	broken   map[string]bool
}

func (e *fakeEngine) SendMessage(ctx context.Context, sessionID string, req models.SendMessageRequest) (*engine.TurnResult, error) {
	e.sessions.mu.Lock()
	agentID := e.sessions.agents[sessionID]
	e.sessions.mu.Unlock()

	if e.slow[agentID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.broken[agentID] {
		return nil, fmt.Errorf("agent exploded")
	}
	return &engine.TurnResult{Message: &models.ChatMessage{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   fmt.Sprintf("%s says something insightful", agentID),
	}}, nil
}

type fakeResolver map[string]models.Agent

func (r fakeResolver) ResolveAgent(id string) (models.Agent, error) {
	a, ok := r[id]
	if !ok {
		return models.Agent{}, fmt.Errorf("agent %q not found", id)
	}
	return a, nil
}

func newCoordinator(slow, broken map[string]bool) (*Coordinator, *fakeSessions) {
	sessions := newFakeSessions()
	resolver := fakeResolver{
		"a": {ID: "a", Enabled: true},
		"b": {ID: "b", Enabled: true},
		"c": {ID: "c", Enabled: false},
	}
	c := NewCoordinator(sessions, &fakeEngine{sessions: sessions, slow: slow, broken: broken},
		resolver, metrics.New(prometheus.NewRegistry()))
	return c, sessions
}

func TestDiscussHappyPath(t *testing.T) {
	c, sessions := newCoordinator(nil, nil)

	record, err := c.Discuss(context.Background(), models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 2, SynthesizerID: "a",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RoundtableCompleted, record.Status)
	assert.Equal(t, 4, record.TurnCount)
	assert.False(t, record.Partial)
	assert.Equal(t, "a says something insightful", record.Synthesis)

	// Turns totally ordered by (round, position).
	expected := []struct {
		agent string
		round int
		pos   int
	}{{"a", 1, 0}, {"b", 1, 1}, {"a", 2, 0}, {"b", 2, 1}}
	require.Len(t, record.Turns, 4)
	for i, want := range expected {
		assert.Equal(t, want.agent, record.Turns[i].AgentID)
		assert.Equal(t, want.round, record.Turns[i].Round)
		assert.Equal(t, want.pos, record.Turns[i].Position)
	}

	// Parent transcript: 4 turns + 1 synthesis.
	assert.Len(t, sessions.appended[record.SessionID], 5)
	assert.Equal(t, models.SessionStatusCompleted, sessions.ended[record.SessionID])
}

func TestDiscussAgentTimeoutContinues(t *testing.T) {
	c, _ := newCoordinator(map[string]bool{"b": true}, nil)

	record, err := c.Discuss(context.Background(), models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 2, SynthesizerID: "a",
		AgentTimeoutSeconds: 1, TotalTimeoutSeconds: 30,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, record.TurnCount)
	assert.Equal(t, "[b timed out]", record.Turns[1].Content)
	assert.True(t, record.Turns[1].TimedOut)
	assert.Equal(t, "[b timed out]", record.Turns[3].Content)
	assert.Equal(t, "a says something insightful", record.Synthesis)
	assert.Equal(t, models.RoundtableCompleted, record.Status)
}

func TestDiscussAgentFailureContinues(t *testing.T) {
	c, _ := newCoordinator(nil, map[string]bool{"b": true})

	record, err := c.Discuss(context.Background(), models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 1, SynthesizerID: "a",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, record.TurnCount)
	assert.True(t, record.Turns[1].Failed)
	assert.Equal(t, "[b failed]", record.Turns[1].Content)
}

func TestDiscussTotalTimeoutPartialSynthesis(t *testing.T) {
	c, _ := newCoordinator(map[string]bool{"b": true}, nil)

	record, err := c.Discuss(context.Background(), models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 50, SynthesizerID: "a",
		AgentTimeoutSeconds: 1, TotalTimeoutSeconds: 2,
	})
	require.NoError(t, err)

	assert.True(t, record.Partial)
	assert.Equal(t, models.RoundtableTimeout, record.Status)
	assert.Less(t, record.TurnCount, 100)
	// Synthesizer is fast, so synthesis still ran over the partial turns.
	assert.Equal(t, "a says something insightful", record.Synthesis)
}

func TestDiscussSynthesizerFailure(t *testing.T) {
	c, _ := newCoordinator(nil, map[string]bool{"b": true})

	record, err := c.Discuss(context.Background(), models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 1, SynthesizerID: "b",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoundtableCompleted, record.Status)
	assert.Equal(t, "[synthesis unavailable]", record.Synthesis)
	assert.True(t, record.Partial)
}

func TestDiscussValidation(t *testing.T) {
	c, _ := newCoordinator(nil, nil)
	ctx := context.Background()

	_, err := c.Discuss(ctx, models.DiscussRequest{Topic: "X", AgentIDs: []string{"a"}, Rounds: 1, SynthesizerID: "a"})
	assert.ErrorIs(t, err, ErrTooFewParticipants)

	_, err = c.Discuss(ctx, models.DiscussRequest{Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 0, SynthesizerID: "a"})
	assert.ErrorIs(t, err, ErrInvalidRounds)

	_, err = c.Discuss(ctx, models.DiscussRequest{Topic: "X", AgentIDs: []string{"a", "c"}, Rounds: 1, SynthesizerID: "a"})
	assert.ErrorIs(t, err, ErrParticipantUnavailable)

	_, err = c.Discuss(ctx, models.DiscussRequest{Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 1, SynthesizerID: "ghost"})
	assert.ErrorIs(t, err, ErrParticipantUnavailable)
}

func TestDiscussCancellationBetweenTurns(t *testing.T) {
	c, _ := newCoordinator(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record, err := c.Discuss(ctx, models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 3, SynthesizerID: "a",
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, record)
	assert.Equal(t, models.RoundtableFailed, record.Status)
	assert.True(t, record.Partial)
	assert.Zero(t, record.TurnCount)
}

func TestTrackerLifecycle(t *testing.T) {
	c, _ := newCoordinator(nil, nil)
	tracker := NewTracker(c)

	key, err := tracker.DiscussAsync(context.Background(), models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 1, SynthesizerID: "a",
	})
	require.NoError(t, err)
	require.NotEmpty(t, key)

	require.Eventually(t, func() bool {
		status, err := tracker.Status(key)
		return err == nil && status.Status == models.RoundtableCompleted
	}, 2*time.Second, 10*time.Millisecond)

	status, err := tracker.Status(key)
	require.NoError(t, err)
	require.NotNil(t, status.Record)
	assert.Equal(t, 2, status.Record.TurnCount)
}

func TestTrackerUnknownKey(t *testing.T) {
	c, _ := newCoordinator(nil, nil)
	tracker := NewTracker(c)

	_, err := tracker.Status("nope")
	assert.ErrorIs(t, err, ErrUnknownTracking)
}

func TestTrackerRejectsInvalidRequestSynchronously(t *testing.T) {
	c, _ := newCoordinator(nil, nil)
	tracker := NewTracker(c)

	_, err := tracker.DiscussAsync(context.Background(), models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a"}, Rounds: 1, SynthesizerID: "a",
	})
	assert.ErrorIs(t, err, ErrTooFewParticipants)
}

func TestTrackerPrunesExpiredEntries(t *testing.T) {
	c, _ := newCoordinator(nil, nil)
	tracker := NewTracker(c)

	key, err := tracker.DiscussAsync(context.Background(), models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 1, SynthesizerID: "a",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		status, err := tracker.Status(key)
		return err == nil && status.Status == models.RoundtableCompleted
	}, 2*time.Second, 10*time.Millisecond)

	tracker.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = tracker.Status(key)
	assert.ErrorIs(t, err, ErrUnknownTracking)
}
