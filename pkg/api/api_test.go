package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-agents/aria/pkg/database"
	"github.com/aria-agents/aria/pkg/engine"
	"github.com/aria-agents/aria/pkg/events"
	"github.com/aria-agents/aria/pkg/llm"
	"github.com/aria-agents/aria/pkg/models"
	"github.com/aria-agents/aria/pkg/roundtable"
	"github.com/aria-agents/aria/pkg/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAPIKey = "test-key"

// --- fakes ---

type fakeSessions struct {
	sessions map[string]*models.ChatSession
	err      error
}

func (f *fakeSessions) CreateSession(_ context.Context, req models.CreateSessionRequest) (*models.ChatSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ChatSession{ID: "sess-1", AgentID: req.AgentID, Type: req.Type, Status: models.SessionStatusActive}, nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, services.ErrNotFound)
	}
	return sess, nil
}

func (f *fakeSessions) ListSessions(context.Context, int, int) ([]*models.ChatSession, error) {
	var out []*models.ChatSession
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSessions) ListMessages(context.Context, string, int, int) ([]*models.ChatMessage, error) {
	return nil, f.err
}

func (f *fakeSessions) EndSession(_ context.Context, id string, status models.SessionStatus) (*models.ChatSession, error) {
	return &models.ChatSession{ID: id, Status: status}, f.err
}

func (f *fakeSessions) DeleteSession(_ context.Context, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return fmt.Errorf("session %q: %w", id, services.ErrNotFound)
	}
	return nil
}

func (f *fakeSessions) ExportSession(context.Context, string, services.ExportFormat) ([]byte, error) {
	return []byte("# transcript\n"), f.err
}

type fakeEngine struct {
	err    error
	result *engine.TurnResult
}

func (f *fakeEngine) SendMessage(context.Context, string, models.SendMessageRequest) (*engine.TurnResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDiscussions struct {
	record *models.RoundtableRecord
	err    error
	key    string
}

func (f *fakeDiscussions) Discuss(context.Context, models.DiscussRequest) (*models.RoundtableRecord, error) {
	return f.record, f.err
}

func (f *fakeDiscussions) DiscussAsync(context.Context, models.DiscussRequest) (string, error) {
	return f.key, f.err
}

func (f *fakeDiscussions) Status(key string) (*roundtable.AsyncStatus, error) {
	if key != f.key {
		return nil, roundtable.ErrUnknownTracking
	}
	return &roundtable.AsyncStatus{TrackingKey: key, Status: models.RoundtableCompleted}, nil
}

type fakeAgents struct {
	agents map[string]models.Agent
	err    error
}

func (f *fakeAgents) List(context.Context, bool) ([]models.Agent, error) {
	var out []models.Agent
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out, f.err
}

func (f *fakeAgents) Get(_ context.Context, id string) (*models.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", id, services.ErrNotFound)
	}
	return &a, nil
}

func (f *fakeAgents) Create(_ context.Context, a models.Agent) (*models.Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &a, nil
}

func (f *fakeAgents) Update(_ context.Context, a models.Agent) (*models.Agent, error) {
	return &a, f.err
}

func (f *fakeAgents) Delete(context.Context, string) error { return f.err }

type fakeModels struct {
	mods []models.Model
	err  error
}

func (f *fakeModels) List(_ context.Context, enabledOnly bool) ([]models.Model, error) {
	var out []models.Model
	for _, m := range f.mods {
		if !enabledOnly || m.Enabled {
			out = append(out, m)
		}
	}
	return out, f.err
}

func (f *fakeModels) Get(_ context.Context, id string) (*models.Model, error) {
	for _, m := range f.mods {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("model %q: %w", id, services.ErrNotFound)
}

func (f *fakeModels) Create(_ context.Context, m models.Model) (*models.Model, error) {
	return &m, f.err
}

func (f *fakeModels) Update(_ context.Context, m models.Model) (*models.Model, error) {
	return &m, f.err
}

func (f *fakeModels) Delete(context.Context, string) error { return f.err }

type fakeSyncer struct {
	result models.SyncResult
	force  bool
}

func (f *fakeSyncer) SyncAgents(_ context.Context, force bool) (models.SyncResult, error) {
	f.force = force
	return f.result, nil
}

func (f *fakeSyncer) SyncModels(_ context.Context, force bool) (models.SyncResult, error) {
	f.force = force
	return f.result, nil
}

type fakeLedger struct {
	health []models.SkillHealth
	scores []models.ExpertScore
}

func (f *fakeLedger) Health(context.Context, int) ([]models.SkillHealth, error) {
	return f.health, nil
}

func (f *fakeLedger) ExpertFor(context.Context, string, []string) ([]models.ExpertScore, error) {
	return f.scores, nil
}

type fakeHealth struct{ err error }

func (f *fakeHealth) Health(context.Context) (*database.HealthStatus, error) {
	if f.err != nil {
		return &database.HealthStatus{Status: "unhealthy"}, f.err
	}
	return &database.HealthStatus{Status: "healthy"}, nil
}

type harness struct {
	sessions    *fakeSessions
	engine      *fakeEngine
	discussions *fakeDiscussions
	agents      *fakeAgents
	mods        *fakeModels
	syncer      *fakeSyncer
	health      *fakeHealth
	router      *gin.Engine
}

func newHarness() *harness {
	h := &harness{
		sessions: &fakeSessions{sessions: map[string]*models.ChatSession{
			"sess-1": {ID: "sess-1", AgentID: "analyst", Status: models.SessionStatusActive},
		}},
		engine:      &fakeEngine{result: &engine.TurnResult{Message: &models.ChatMessage{Content: "hi"}}},
		discussions: &fakeDiscussions{key: "track-1"},
		agents:      &fakeAgents{agents: map[string]models.Agent{"analyst": {ID: "analyst", Enabled: true}}},
		mods:        &fakeModels{mods: []models.Model{{ID: "kimi", Enabled: true}, {ID: "old", Enabled: false}}},
		syncer:      &fakeSyncer{result: models.SyncResult{Inserted: 1, Skipped: 2}},
		health:      &fakeHealth{},
	}
	srv := NewServer(h.sessions, h.engine, h.discussions, h.agents, h.mods, h.syncer,
		&fakeLedger{}, h.health, events.NewStreamHub(), nil, testAPIKey, "test")
	h.router = srv.Router()
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error
}

// --- tests ---

func TestAuthRequiredOnMutatingRoutes(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodPost, "/engine/chat/sessions", models.CreateSessionRequest{AgentID: "analyst"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, KindUnauthorized, decodeError(t, w).Kind)

	w = h.do(t, http.MethodPost, "/engine/chat/sessions", models.CreateSessionRequest{AgentID: "analyst"}, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodPost, "/engine/chat/sessions", models.CreateSessionRequest{AgentID: "analyst"}, testAPIKey)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestReadRoutesAreOpen(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodGet, "/engine/chat/sessions/sess-1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/agents/db", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSendMessageReturnsTurnResult(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodPost, "/engine/chat/sessions/sess-1/messages",
		models.SendMessageRequest{Content: "hello"}, testAPIKey)
	require.Equal(t, http.StatusOK, w.Code)

	var result engine.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.NotNil(t, result.Message)
	assert.Equal(t, "hi", result.Message.Content)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"session busy", engine.ErrSessionBusy, http.StatusConflict, KindSessionBusy},
		{"not found", services.ErrNotFound, http.StatusNotFound, KindNotFound},
		{"not active", services.ErrSessionNotActive, http.StatusConflict, KindConflict},
		{"agent disabled", engine.ErrAgentDisabled, http.StatusConflict, KindAgentDisabled},
		{"rate limited", engine.ErrRateLimited, http.StatusTooManyRequests, KindRateLimited},
		{"upstream rate limited", llm.ErrUpstreamRateLimited, http.StatusTooManyRequests, KindRateLimited},
		{"empty content", engine.ErrEmptyContent, http.StatusUnprocessableEntity, KindValidation},
		{"validation", services.NewValidationError("agent_id", "is required"), http.StatusUnprocessableEntity, KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.engine.err = tt.err

			w := h.do(t, http.MethodPost, "/engine/chat/sessions/sess-1/messages",
				models.SendMessageRequest{Content: "hello"}, testAPIKey)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, w).Kind)
		})
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	h := newHarness()
	h.engine.err = fmt.Errorf("pq: connection reset by peer")

	w := h.do(t, http.MethodPost, "/engine/chat/sessions/sess-1/messages",
		models.SendMessageRequest{Content: "hello"}, testAPIKey)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decodeError(t, w)
	assert.Equal(t, KindInternal, body.Kind)
	assert.Equal(t, "internal error", body.Message)
	assert.NotEmpty(t, body.IncidentID)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	h := newHarness()

	req := httptest.NewRequest(http.MethodPost, "/engine/chat/sessions", bytes.NewBufferString("{not json"))
	req.Header.Set(apiKeyHeader, testAPIKey)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, KindValidation, decodeError(t, w).Kind)
}

func TestRoundtableAsyncLifecycle(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodPost, "/engine/roundtable/async", models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a", "b"}, Rounds: 1, SynthesizerID: "a",
	}, testAPIKey)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "track-1", resp["tracking_key"])

	w = h.do(t, http.MethodGet, "/engine/roundtable/status/track-1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/engine/roundtable/status/ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoundtableValidationRejected(t *testing.T) {
	h := newHarness()
	h.discussions.err = roundtable.ErrTooFewParticipants

	w := h.do(t, http.MethodPost, "/engine/roundtable", models.DiscussRequest{
		Topic: "X", AgentIDs: []string{"a"}, Rounds: 1, SynthesizerID: "a",
	}, testAPIKey)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, KindValidation, decodeError(t, w).Kind)
}

func TestCatalogSyncPassesForce(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodPost, "/agents/db/sync?force=true", nil, testAPIKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.syncer.force)

	var result models.SyncResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 2, result.Skipped)
}

func TestAvailableModelsFiltersDisabled(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodGet, "/models/available", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Models []models.Model `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "kimi", resp.Models[0].ID)
}

func TestHealthDegradesTo503(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	h.health.err = fmt.Errorf("dial tcp: connection refused")
	w = h.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodDelete, "/engine/chat/sessions/sess-1", nil, testAPIKey)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodDelete, "/engine/chat/sessions/ghost", nil, testAPIKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportSessionMarkdown(t *testing.T) {
	h := newHarness()

	w := h.do(t, http.MethodGet, "/engine/chat/sessions/sess-1/export?format=markdown", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, w.Body.String(), "# transcript")
}
