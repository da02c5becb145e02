package engine

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/aria-agents/aria/pkg/models"
)

// agentLimiters caches one token bucket per agent, rebuilt when the agent's
// declared rate limit changes. A zero request count means unlimited.
type agentLimiters struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter *rate.Limiter
	cfg     models.RateLimit
}

func newAgentLimiters() *agentLimiters {
	return &agentLimiters{limiters: make(map[string]*limiterEntry)}
}

// Allow reports whether the agent may serve one more request now.
func (a *agentLimiters) Allow(agentID string, cfg models.RateLimit) bool {
	if cfg.Requests <= 0 {
		return true
	}
	window := cfg.WindowSeconds
	if window <= 0 {
		window = 60
	}

	a.mu.Lock()
	entry, ok := a.limiters[agentID]
	if !ok || entry.cfg != cfg {
		perSecond := rate.Limit(float64(cfg.Requests) / float64(window))
		entry = &limiterEntry{
			limiter: rate.NewLimiter(perSecond, cfg.Requests),
			cfg:     cfg,
		}
		a.limiters[agentID] = entry
	}
	a.mu.Unlock()

	return entry.limiter.Allow()
}
