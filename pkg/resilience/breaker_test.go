package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
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

func newTestStore(clock Clock) *BreakerStore {
	return NewBreakerStore(BreakerSettings{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		MaxIdle:          time.Hour,
	}, clock, nil)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	store := newTestStore(newFakeClock())

	for range 3 {
		require.NoError(t, store.Allow("slack"))
		store.RecordFailure("slack")
	}

	assert.Equal(t, StateOpen, store.SnapshotFor("slack").State)
	assert.ErrorIs(t, store.Allow("slack"), ErrCircuitOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	store := newTestStore(newFakeClock())

	store.RecordFailure("slack")
	store.RecordFailure("slack")
	store.RecordSuccess("slack")
	store.RecordFailure("slack")
	store.RecordFailure("slack")

	assert.Equal(t, StateClosed, store.SnapshotFor("slack").State)
	assert.NoError(t, store.Allow("slack"))
}

func TestBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	for range 3 {
		store.RecordFailure("slack")
	}

	require.ErrorIs(t, store.Allow("slack"), ErrCircuitOpen)

	clock.Advance(31 * time.Second)

	// Exactly one trial call is admitted after the cooldown.
	require.NoError(t, store.Allow("slack"))
	assert.Equal(t, StateHalfOpen, store.SnapshotFor("slack").State)

	// Concurrent attempts beyond the trial are rejected.
	assert.ErrorIs(t, store.Allow("slack"), ErrCircuitOpen)
	assert.ErrorIs(t, store.Allow("slack"), ErrCircuitOpen)
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	for range 3 {
		store.RecordFailure("slack")
	}

	clock.Advance(31 * time.Second)
	require.NoError(t, store.Allow("slack"))

	store.RecordSuccess("slack")

	snapshot := store.SnapshotFor("slack")
	assert.Equal(t, StateClosed, snapshot.State)
	assert.Zero(t, snapshot.ConsecutiveFailures)
	assert.NoError(t, store.Allow("slack"))
}

func TestBreaker_TrialFailureReopensAndRestartsCooldown(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	for range 3 {
		store.RecordFailure("slack")
	}

	clock.Advance(31 * time.Second)
	require.NoError(t, store.Allow("slack"))

	store.RecordFailure("slack")
	assert.Equal(t, StateOpen, store.SnapshotFor("slack").State)

	// Cooldown restarted: still rejecting before it elapses again.
	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, store.Allow("slack"), ErrCircuitOpen)

	clock.Advance(2 * time.Second)
	assert.NoError(t, store.Allow("slack"))
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	store := newTestStore(newFakeClock())

	for range 3 {
		store.RecordFailure("slack|conn-1")
	}

	assert.ErrorIs(t, store.Allow("slack|conn-1"), ErrCircuitOpen)
	assert.NoError(t, store.Allow("slack|conn-2"))
	assert.NoError(t, store.Allow("github"))
}

func TestBreaker_ConcurrentFailuresNeverLoseUpdates(t *testing.T) {
	store := NewBreakerStore(BreakerSettings{
		FailureThreshold: 100,
		Cooldown:         time.Minute,
	}, newFakeClock(), nil)

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			store.RecordFailure("slack")
		}()
	}

	wg.Wait()

	assert.Equal(t, 50, store.SnapshotFor("slack").ConsecutiveFailures)
}

func TestBreaker_SweepEvictsIdleEntries(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	require.NoError(t, store.Allow("stale"))
	clock.Advance(2 * time.Hour)
	require.NoError(t, store.Allow("fresh"))

	store.Sweep()

	// Unknown keys read as closed, so the eviction is observable via a
	// fresh failure count after re-touching.
	store.RecordFailure("stale")
	assert.Equal(t, 1, store.SnapshotFor("stale").ConsecutiveFailures)
	assert.Equal(t, StateClosed, store.SnapshotFor("fresh").State)
}
