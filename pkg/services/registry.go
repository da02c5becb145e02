package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aria-agents/aria/pkg/models"
)

// registrySnapshot is one immutable view of the agent and model catalogs.
type registrySnapshot struct {
	agents map[string]models.Agent
	models map[string]models.Model
}

// Registry serves point-in-time agent and model lookups to the engines.
// Refresh rebuilds the snapshot from the DB mirror; readers always see a
// consistent pair of maps via atomic pointer swap.
type Registry struct {
	agents *AgentService
	mods   *ModelService
	snap   atomic.Pointer[registrySnapshot]
}

// NewRegistry creates a Registry with an empty snapshot. Call Refresh after
// the bootstrap sync before serving traffic.
func NewRegistry(agents *AgentService, mods *ModelService) *Registry {
	r := &Registry{agents: agents, mods: mods}
	r.snap.Store(&registrySnapshot{
		agents: map[string]models.Agent{},
		models: map[string]models.Model{},
	})
	return r
}

// Refresh reloads both catalogs and publishes a new snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	agentList, err := r.agents.List(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to refresh agent snapshot: %w", err)
	}
	modelList, err := r.mods.List(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to refresh model snapshot: %w", err)
	}

	snap := &registrySnapshot{
		agents: make(map[string]models.Agent, len(agentList)),
		models: make(map[string]models.Model, len(modelList)),
	}
	for _, a := range agentList {
		snap.agents[a.ID] = a
	}
	for _, m := range modelList {
		snap.models[m.ID] = m
	}
	r.snap.Store(snap)
	return nil
}

// ResolveAgent returns the snapshotted agent, enabled or not. Callers decide
// whether a disabled agent is acceptable for their operation.
func (r *Registry) ResolveAgent(id string) (models.Agent, error) {
	a, ok := r.snap.Load().agents[id]
	if !ok {
		return models.Agent{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	return a, nil
}

// ResolveModel returns the snapshotted model.
func (r *Registry) ResolveModel(id string) (models.Model, error) {
	m, ok := r.snap.Load().models[id]
	if !ok {
		return models.Model{}, fmt.Errorf("model %q: %w", id, ErrNotFound)
	}
	return m, nil
}

// Agents returns all snapshotted agents. The slice is freshly allocated; the
// snapshot itself is never exposed for mutation.
func (r *Registry) Agents() []models.Agent {
	snap := r.snap.Load()
	out := make([]models.Agent, 0, len(snap.agents))
	for _, a := range snap.agents {
		out = append(out, a)
	}
	return out
}

// Models returns all snapshotted models.
func (r *Registry) Models() []models.Model {
	snap := r.snap.Load()
	out := make([]models.Model, 0, len(snap.models))
	for _, m := range snap.models {
		out = append(out, m)
	}
	return out
}
