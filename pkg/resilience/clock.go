// Package resilience provides the per-integration failure isolation used by
// the action gateway: a keyed circuit-breaker store and bounded retry with
// exponential backoff.
package resilience

import "time"

// Clock abstracts time for deterministic breaker tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
