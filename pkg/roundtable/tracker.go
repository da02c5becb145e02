package roundtable

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aria-agents/aria/pkg/models"
)

// ErrUnknownTracking is returned for expired or never-issued tracking keys.
var ErrUnknownTracking = errors.New("unknown tracking key")

// statusTTL keeps finished discussion results queryable for one hour.
const statusTTL = time.Hour

// AsyncStatus is the queryable state of a background discussion.
type AsyncStatus struct {
	TrackingKey string                   `json:"tracking_key"`
	Status      models.RoundtableStatus  `json:"status"`
	Record      *models.RoundtableRecord `json:"record,omitempty"`
}

type trackedDiscussion struct {
	status     models.RoundtableStatus
	record     *models.RoundtableRecord
	finishedAt time.Time
}

// Tracker runs discussions in the background and caches their outcomes.
type Tracker struct {
	coordinator *Coordinator
	now         func() time.Time

	mu      sync.Mutex
	tracked map[string]*trackedDiscussion
}

// NewTracker creates a Tracker over the Coordinator.
func NewTracker(c *Coordinator) *Tracker {
	return &Tracker{
		coordinator: c,
		now:         time.Now,
		tracked:     make(map[string]*trackedDiscussion),
	}
}

// Discuss runs a discussion synchronously on the underlying coordinator.
func (t *Tracker) Discuss(ctx context.Context, req models.DiscussRequest) (*models.RoundtableRecord, error) {
	return t.coordinator.Discuss(ctx, req)
}

// DiscussAsync validates the request, then runs the discussion detached from
// the caller's context and returns a tracking key immediately.
func (t *Tracker) DiscussAsync(ctx context.Context, req models.DiscussRequest) (string, error) {
	if err := t.coordinator.validate(req); err != nil {
		return "", err
	}
	key := uuid.NewString()

	t.mu.Lock()
	t.tracked[key] = &trackedDiscussion{status: models.RoundtableQueued}
	t.mu.Unlock()

	go func() {
		t.setStatus(key, models.RoundtableRunning, nil)
		record, err := t.coordinator.Discuss(context.WithoutCancel(ctx), req)
		switch {
		case err != nil && record == nil:
			t.setStatus(key, models.RoundtableFailed, nil)
		case err != nil:
			t.setStatus(key, models.RoundtableFailed, record)
		default:
			t.setStatus(key, record.Status, record)
		}
	}()
	return key, nil
}

// Status returns the current state for a tracking key. Finished entries
// expire one hour after completion.
func (t *Tracker) Status(key string) (*AsyncStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()

	tracked, ok := t.tracked[key]
	if !ok {
		return nil, ErrUnknownTracking
	}
	return &AsyncStatus{TrackingKey: key, Status: tracked.status, Record: tracked.record}, nil
}

func (t *Tracker) setStatus(key string, status models.RoundtableStatus, record *models.RoundtableRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tracked, ok := t.tracked[key]
	if !ok {
		return
	}
	tracked.status = status
	tracked.record = record
	if terminalRoundtable(status) {
		tracked.finishedAt = t.now()
	}
}

func (t *Tracker) pruneLocked() {
	cutoff := t.now().Add(-statusTTL)
	for key, tracked := range t.tracked {
		if !tracked.finishedAt.IsZero() && tracked.finishedAt.Before(cutoff) {
			delete(t.tracked, key)
		}
	}
}

func terminalRoundtable(status models.RoundtableStatus) bool {
	switch status {
	case models.RoundtableCompleted, models.RoundtableFailed, models.RoundtableTimeout:
		return true
	default:
		return false
	}
}
