package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/aria-agents/aria/pkg/config"
	"github.com/aria-agents/aria/pkg/models"
)

// Syncer pushes the declared file catalogs into the database and refreshes
// the in-memory registry afterwards. Hot reload swaps the catalog pointer;
// in-flight syncs keep the catalog they started with.
type Syncer struct {
	catalog  atomic.Pointer[config.Catalog]
	agents   *AgentService
	mods     *ModelService
	jobs     *JobService
	registry *Registry
}

// NewSyncer wires a Syncer over the loaded catalog.
func NewSyncer(cat *config.Catalog, agents *AgentService, mods *ModelService,
	jobs *JobService, registry *Registry) *Syncer {
	s := &Syncer{agents: agents, mods: mods, jobs: jobs, registry: registry}
	s.catalog.Store(cat)
	return s
}

// SetCatalog installs a freshly reloaded catalog.
func (s *Syncer) SetCatalog(cat *config.Catalog) {
	s.catalog.Store(cat)
}

// SyncModels reconciles the declared models into the database.
func (s *Syncer) SyncModels(ctx context.Context, force bool) (models.SyncResult, error) {
	result, err := s.mods.Sync(ctx, s.catalog.Load().Models, force)
	if err != nil {
		return result, err
	}
	return result, s.registry.Refresh(ctx)
}

// SyncAgents reconciles the declared agents into the database.
func (s *Syncer) SyncAgents(ctx context.Context, force bool) (models.SyncResult, error) {
	result, err := s.agents.Sync(ctx, s.catalog.Load().Agents, force)
	if err != nil {
		return result, err
	}
	return result, s.registry.Refresh(ctx)
}

// SyncJobs reconciles the declared scheduled jobs into the database.
func (s *Syncer) SyncJobs(ctx context.Context, force bool) (models.SyncResult, error) {
	return s.jobs.Sync(ctx, s.catalog.Load().Jobs, force)
}

// SyncAll runs the three catalog syncs in dependency order: models before
// agents, since agents reference model ids.
func (s *Syncer) SyncAll(ctx context.Context, force bool) error {
	mres, err := s.SyncModels(ctx, force)
	if err != nil {
		return fmt.Errorf("model sync failed: %w", err)
	}
	ares, err := s.SyncAgents(ctx, force)
	if err != nil {
		return fmt.Errorf("agent sync failed: %w", err)
	}
	jres, err := s.SyncJobs(ctx, force)
	if err != nil {
		return fmt.Errorf("job sync failed: %w", err)
	}
	slog.Info("catalog sync complete",
		"models", mres, "agents", ares, "jobs", jres)
	return nil
}
