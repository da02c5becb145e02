package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aria-agents/aria/pkg/database"
	"github.com/aria-agents/aria/pkg/engine"
	"github.com/aria-agents/aria/pkg/events"
	"github.com/aria-agents/aria/pkg/models"
	"github.com/aria-agents/aria/pkg/roundtable"
	"github.com/aria-agents/aria/pkg/services"
)

// SessionStore is the chat session surface. Implemented by
// services.SessionService.
type SessionStore interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.ChatSession, error)
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*models.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*models.ChatMessage, error)
	EndSession(ctx context.Context, id string, status models.SessionStatus) (*models.ChatSession, error)
	DeleteSession(ctx context.Context, id string) error
	ExportSession(ctx context.Context, id string, format services.ExportFormat) ([]byte, error)
}

// ChatEngine runs one chat turn. Implemented by engine.Engine.
type ChatEngine interface {
	SendMessage(ctx context.Context, sessionID string, req models.SendMessageRequest) (*engine.TurnResult, error)
}

// Discussions runs roundtable discussions, synchronously and in the
// background. Implemented by roundtable.Coordinator plus roundtable.Tracker.
type Discussions interface {
	Discuss(ctx context.Context, req models.DiscussRequest) (*models.RoundtableRecord, error)
	DiscussAsync(ctx context.Context, req models.DiscussRequest) (string, error)
	Status(key string) (*roundtable.AsyncStatus, error)
}

// AgentCatalog is the agent CRUD and sync surface. Implemented by
// services.AgentService.
type AgentCatalog interface {
	List(ctx context.Context, enabledOnly bool) ([]models.Agent, error)
	Get(ctx context.Context, id string) (*models.Agent, error)
	Create(ctx context.Context, a models.Agent) (*models.Agent, error)
	Update(ctx context.Context, a models.Agent) (*models.Agent, error)
	Delete(ctx context.Context, id string) error
}

// ModelCatalog is the model CRUD and sync surface. Implemented by
// services.ModelService.
type ModelCatalog interface {
	List(ctx context.Context, enabledOnly bool) ([]models.Model, error)
	Get(ctx context.Context, id string) (*models.Model, error)
	Create(ctx context.Context, m models.Model) (*models.Model, error)
	Update(ctx context.Context, m models.Model) (*models.Model, error)
	Delete(ctx context.Context, id string) error
}

// CatalogSyncer pushes the declared file catalogs into the database and
// refreshes the in-memory registry afterwards.
type CatalogSyncer interface {
	SyncAgents(ctx context.Context, force bool) (models.SyncResult, error)
	SyncModels(ctx context.Context, force bool) (models.SyncResult, error)
}

// Ledger reads skill invocation aggregates. Implemented by
// services.LedgerService.
type Ledger interface {
	Health(ctx context.Context, hours int) ([]models.SkillHealth, error)
	ExpertFor(ctx context.Context, taskType string, candidates []string) ([]models.ExpertScore, error)
}

// HealthChecker reports database connectivity for the health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) (*database.HealthStatus, error)
}

// Server carries the HTTP surface and its dependencies.
type Server struct {
	sessions    SessionStore
	engine      ChatEngine
	discussions Discussions
	agents      AgentCatalog
	mods        ModelCatalog
	syncer      CatalogSyncer
	ledger      Ledger
	health      HealthChecker
	hub         *events.StreamHub
	gatherer    prometheus.Gatherer
	apiKey      string
	version     string
	started     time.Time
}

// NewServer wires the HTTP server. gatherer may be nil when the metrics
// endpoint is not wanted.
func NewServer(sessions SessionStore, chatEngine ChatEngine, discussions Discussions,
	agents AgentCatalog, mods ModelCatalog, syncer CatalogSyncer, ledger Ledger,
	health HealthChecker, hub *events.StreamHub, gatherer prometheus.Gatherer,
	apiKey, version string) *Server {
	return &Server{
		sessions:    sessions,
		engine:      chatEngine,
		discussions: discussions,
		agents:      agents,
		mods:        mods,
		syncer:      syncer,
		ledger:      ledger,
		health:      health,
		hub:         hub,
		gatherer:    gatherer,
		apiKey:      apiKey,
		version:     version,
		started:     time.Now(),
	}
}

// Router builds the gin engine with all routes registered. Reads are open;
// mutating routes sit behind the API key.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	auth := requireAPIKey(s.apiKey)

	r.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	chat := r.Group("/engine/chat")
	{
		chat.GET("/sessions", s.handleListSessions)
		chat.GET("/sessions/:id", s.handleGetSession)
		chat.GET("/sessions/:id/messages", s.handleListMessages)
		chat.GET("/sessions/:id/export", s.handleExportSession)
		chat.POST("/sessions", auth, s.handleCreateSession)
		chat.POST("/sessions/:id/messages", auth, s.handleSendMessage)
		chat.POST("/sessions/:id/end", auth, s.handleEndSession)
		chat.DELETE("/sessions/:id", auth, s.handleDeleteSession)
	}

	rt := r.Group("/engine/roundtable")
	{
		rt.GET("/status/:key", s.handleRoundtableStatus)
		rt.POST("", auth, s.handleRoundtable)
		rt.POST("/async", auth, s.handleRoundtableAsync)
	}

	agents := r.Group("/agents/db")
	{
		agents.GET("", s.handleListAgents)
		agents.GET("/:id", s.handleGetAgent)
		agents.POST("", auth, s.handleCreateAgent)
		agents.PUT("/:id", auth, s.handleUpdateAgent)
		agents.DELETE("/:id", auth, s.handleDeleteAgent)
		agents.POST("/sync", auth, s.handleSyncAgents)
	}

	mods := r.Group("/models/db")
	{
		mods.GET("", s.handleListModels)
		mods.GET("/:id", s.handleGetModel)
		mods.POST("", auth, s.handleCreateModel)
		mods.PUT("/:id", auth, s.handleUpdateModel)
		mods.DELETE("/:id", auth, s.handleDeleteModel)
		mods.POST("/sync", auth, s.handleSyncModels)
	}
	r.GET("/models/available", s.handleAvailableModels)

	skills := r.Group("/skills")
	{
		skills.GET("/health/dashboard", s.handleSkillDashboard)
		skills.GET("/expert", s.handleSkillExpert)
	}

	r.GET("/ws/chat/:id", s.handleChatSocket)

	return r
}

// Run serves the router until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
