package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrCircuitOpen is returned by Allow when the breaker rejects a call
// without any network I/O.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the circuit breaker state machine.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerSettings configure every breaker in a store.
type BreakerSettings struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int

	// Cooldown is how long an open breaker rejects calls before allowing
	// a half-open trial.
	Cooldown time.Duration

	// MaxIdle is how long an untouched entry survives before the janitor
	// evicts it.
	MaxIdle time.Duration
}

// DefaultBreakerSettings are production defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		MaxIdle:          time.Hour,
	}
}

// Snapshot is a read-only view of one breaker entry.
type Snapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
}

type breakerEntry struct {
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
	lastTouched         time.Time
}

// BreakerStore holds one breaker per key (integration, or
// integration|connection). All mutation happens under the store lock so
// racing invocations never lose updates, and a half-open breaker admits at
// most one trial call at a time.
type BreakerStore struct {
	mu       sync.Mutex
	entries  map[string]*breakerEntry
	settings BreakerSettings
	clock    Clock
	logger   *slog.Logger
}

// NewBreakerStore creates a keyed breaker store. A nil clock means the
// system clock.
func NewBreakerStore(settings BreakerSettings, clock Clock, logger *slog.Logger) *BreakerStore {
	if clock == nil {
		clock = SystemClock()
	}

	if logger == nil {
		logger = slog.Default()
	}

	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}

	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultBreakerSettings().Cooldown
	}

	if settings.MaxIdle <= 0 {
		settings.MaxIdle = DefaultBreakerSettings().MaxIdle
	}

	return &BreakerStore{
		entries:  make(map[string]*breakerEntry),
		settings: settings,
		clock:    clock,
		logger:   logger.With("module", "resilience"),
	}
}

// Allow decides whether a call for key may proceed. Open breakers reject
// with ErrCircuitOpen until the cooldown elapses; then exactly one trial
// call is admitted (half-open) while concurrent attempts keep rejecting.
func (s *BreakerStore) Allow(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	entry, ok := s.entries[key]
	if !ok {
		s.entries[key] = &breakerEntry{state: StateClosed, lastTouched: now}
		return nil
	}

	entry.lastTouched = now

	switch entry.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(entry.openedAt) < s.settings.Cooldown {
			return ErrCircuitOpen
		}

		entry.state = StateHalfOpen
		entry.trialInFlight = true
		s.logger.Info("Circuit breaker half-open, admitting trial call", "key", key)

		return nil
	case StateHalfOpen:
		if entry.trialInFlight {
			return ErrCircuitOpen
		}

		entry.trialInFlight = true

		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (s *BreakerStore) RecordSuccess(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return
	}

	if entry.state != StateClosed {
		s.logger.Info("Circuit breaker closed", "key", key)
	}

	entry.state = StateClosed
	entry.consecutiveFailures = 0
	entry.trialInFlight = false
	entry.lastTouched = s.clock.Now()
}

// RecordFailure increments the failure count; crossing the threshold, or
// failing the half-open trial, opens the breaker and restarts the cooldown.
func (s *BreakerStore) RecordFailure(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	entry, ok := s.entries[key]
	if !ok {
		entry = &breakerEntry{state: StateClosed}
		s.entries[key] = entry
	}

	entry.consecutiveFailures++
	entry.lastTouched = now

	failedTrial := entry.state == StateHalfOpen

	if failedTrial || entry.consecutiveFailures >= s.settings.FailureThreshold {
		entry.state = StateOpen
		entry.openedAt = now
		entry.trialInFlight = false
		s.logger.Warn("Circuit breaker opened",
			"key", key,
			"consecutive_failures", entry.consecutiveFailures,
			"trial_failed", failedTrial,
		)
	}
}

// SnapshotFor returns the current state of one key. Unknown keys read as
// closed.
func (s *BreakerStore) SnapshotFor(key string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Snapshot{State: StateClosed}
	}

	snapshot := Snapshot{
		State:               entry.state,
		ConsecutiveFailures: entry.consecutiveFailures,
	}

	if !entry.openedAt.IsZero() {
		openedAt := entry.openedAt
		snapshot.OpenedAt = &openedAt
	}

	return snapshot
}

// Sweep evicts entries untouched for longer than MaxIdle. Called
// periodically by the janitor.
func (s *BreakerStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.settings.MaxIdle)
	evicted := 0

	for key, entry := range s.entries {
		if entry.lastTouched.Before(cutoff) && !entry.trialInFlight {
			delete(s.entries, key)

			evicted++
		}
	}

	if evicted > 0 {
		s.logger.Debug("Circuit breaker janitor swept idle entries", "evicted", evicted)
	}
}

// StartJanitor schedules periodic sweeps on the given cron spec and returns
// the scheduler so the caller can stop it on shutdown.
func (s *BreakerStore) StartJanitor(spec string) (*cron.Cron, error) {
	scheduler := cron.New()

	if _, err := scheduler.AddFunc(spec, s.Sweep); err != nil {
		return nil, err
	}

	scheduler.Start()

	return scheduler, nil
}
