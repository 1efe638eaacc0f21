// Package util contains small helpers shared by the solver and the sweep driver.
package util

import (
	"sync"
	"time"
)

// SkipThrottler admits at most one event per period, and skips the rest.
// It is safe for concurrent use.
type SkipThrottler struct {
	d   time.Duration
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewSkipThrottler(d time.Duration) *SkipThrottler {
	tt := &SkipThrottler{d: d, now: time.Now, last: time.Date(0, 0, 0, 0, 0, 0, 0, time.UTC)}
	return tt
}

// Ok reports whether the current event should be handled.
func (tt *SkipThrottler) Ok() bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	now := tt.now()
	if now.Before(tt.last.Add(tt.d)) {
		return false
	}
	tt.last = now
	return true
}
