package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, resetAfter time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := New("test", threshold, resetAfter)
	b.now = clock.Now
	return b, clock
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "below threshold must stay closed")

	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, StateOpen, b.CurrentState())
}

func TestBreakerHalfOpenAfterResetWindow(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.IsOpen())

	clock.Advance(59 * time.Second)
	assert.True(t, b.IsOpen(), "still inside reset window")

	clock.Advance(2 * time.Second)
	assert.False(t, b.IsOpen(), "reset window elapsed: one probe allowed")

	// Probe fails: a single failure below threshold keeps it closed until
	// the threshold is reached again.
	b.RecordFailure()
	assert.False(t, b.IsOpen())
	b.RecordFailure()
	assert.True(t, b.IsOpen(), "repeated failure reopens")
}

func TestBreakerSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.IsOpen())

	clock.Advance(61 * time.Second)
	require.False(t, b.IsOpen())

	b.RecordSuccess()
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.CurrentState())
	assert.Equal(t, 0, b.Failures())
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// Counter restarted: two more failures stay below threshold.
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
}

func TestBreakerConcurrentFailures(t *testing.T) {
	b, _ := newTestBreaker(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.RecordFailure()
			}
		}()
	}
	wg.Wait()

	// Exactly 100 failures recorded: the breaker must be open.
	assert.True(t, b.IsOpen())
}

func TestRegistrySharesBreakersByName(t *testing.T) {
	r := NewRegistry(5, time.Minute)
	a := r.Get("model:kimi")
	b := r.Get("model:kimi")
	c := r.Get("skill:calc")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	a.RecordFailure()
	assert.Equal(t, 1, b.Failures())

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, StateClosed, snap["model:kimi"])
}
