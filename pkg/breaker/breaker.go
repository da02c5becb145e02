// Package breaker implements the three-state failure-isolation primitive
// guarding every outbound dependency (LLM proxy, skill execution, probes).
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State labels a breaker's current position for logging and dashboards.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// state is the pair mutated atomically via CAS. openedAt zero means the
// breaker is not open.
type state struct {
	failures int
	openedAt time.Time
}

// Breaker is a per-endpoint failure counter with states closed, open and
// half-open. It never returns errors; callers inspect IsOpen before a call
// and report the outcome afterwards. Safe for concurrent use: transitions
// are compare-and-swap on the (failures, openedAt) pair.
type Breaker struct {
	name       string
	threshold  int
	resetAfter time.Duration

	st  atomic.Pointer[state]
	now func() time.Time

	onTransition func(name string, from, to State)
}

// New creates a closed breaker. threshold is the consecutive-failure count
// that opens it; resetAfter is how long it stays open before permitting one
// half-open probe.
func New(name string, threshold int, resetAfter time.Duration) *Breaker {
	b := &Breaker{
		name:       name,
		threshold:  threshold,
		resetAfter: resetAfter,
		now:        time.Now,
	}
	b.st.Store(&state{})
	return b
}

// Name returns the breaker's identifier.
func (b *Breaker) Name() string { return b.name }

// IsOpen reports whether requests should be rejected. After resetAfter has
// elapsed in the open state it transitions to half-open and returns false,
// letting exactly one probe through.
func (b *Breaker) IsOpen() bool {
	for {
		cur := b.st.Load()
		if cur.openedAt.IsZero() {
			return false
		}
		if b.now().Sub(cur.openedAt) < b.resetAfter {
			return true
		}
		// Open interval elapsed: move to half-open (failures reset,
		// openedAt cleared) and admit the probe.
		if b.st.CompareAndSwap(cur, &state{}) {
			b.transition(StateOpen, StateHalfOpen)
			return false
		}
		// Lost the race; re-evaluate.
	}
}

// RecordSuccess clears the failure counter in any state.
func (b *Breaker) RecordSuccess() {
	for {
		cur := b.st.Load()
		if cur.failures == 0 && cur.openedAt.IsZero() {
			return
		}
		if b.st.CompareAndSwap(cur, &state{}) {
			if !cur.openedAt.IsZero() {
				b.transition(StateOpen, StateClosed)
			}
			return
		}
	}
}

// RecordFailure increments the counter; reaching the threshold opens the
// breaker and stamps openedAt with the current clock.
func (b *Breaker) RecordFailure() {
	for {
		cur := b.st.Load()
		next := &state{failures: cur.failures + 1, openedAt: cur.openedAt}
		opening := next.failures >= b.threshold && cur.openedAt.IsZero()
		if opening {
			next.openedAt = b.now()
		}
		if b.st.CompareAndSwap(cur, next) {
			if opening {
				b.transition(StateClosed, StateOpen)
			}
			return
		}
	}
}

// Reset force-clears the breaker to closed.
func (b *Breaker) Reset() {
	b.st.Store(&state{})
}

// CurrentState returns the observable state without side effects.
func (b *Breaker) CurrentState() State {
	cur := b.st.Load()
	switch {
	case cur.openedAt.IsZero():
		return StateClosed
	case b.now().Sub(cur.openedAt) >= b.resetAfter:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	return b.st.Load().failures
}

func (b *Breaker) transition(from, to State) {
	if b.onTransition != nil {
		b.onTransition(b.name, from, to)
	}
}

// Registry hands out one breaker per name, creating on first use.
type Registry struct {
	threshold  int
	resetAfter time.Duration

	mu       sync.RWMutex
	breakers map[string]*Breaker

	// OnTransition, when set before first use, is attached to every breaker
	// the registry creates (metrics hook).
	OnTransition func(name string, from, to State)
}

// NewRegistry creates a registry with shared threshold/resetAfter defaults.
func NewRegistry(threshold int, resetAfter time.Duration) *Registry {
	return &Registry{
		threshold:  threshold,
		resetAfter: resetAfter,
		breakers:   make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = New(name, r.threshold, r.resetAfter)
	b.onTransition = r.OnTransition
	r.breakers[name] = b
	return b
}

// Snapshot returns the current state of every breaker, for the debug API.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.CurrentState()
	}
	return out
}
