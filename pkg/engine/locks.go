package engine

import "sync"

// sessionLocks serializes turns per session. TryAcquire fails fast instead
// of queueing; a second concurrent send on the same session must not wait.
type sessionLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{active: make(map[string]struct{})}
}

func (l *sessionLocks) TryAcquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[sessionID]; busy {
		return false
	}
	l.active[sessionID] = struct{}{}
	return true
}

func (l *sessionLocks) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, sessionID)
}
