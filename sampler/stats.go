package sampler

import (
	"sync"
	"time"
)

// Stats holds polling statistics of one sampler.
type Stats struct {
	Polls        int64
	Failures     int64
	LastMetrics  int
	LastDuration time.Duration
	LastSuccess  time.Time
	LastFailure  time.Time
	LastError    string
}

type statsTracker struct {
	mu    sync.RWMutex
	stats Stats
}

func (t *statsTracker) recordSuccess(metrics int, at time.Time, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Polls++
	t.stats.LastMetrics = metrics
	t.stats.LastDuration = d
	t.stats.LastSuccess = at
}

func (t *statsTracker) recordFailure(err error, at time.Time, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Polls++
	t.stats.Failures++
	t.stats.LastDuration = d
	t.stats.LastFailure = at
	t.stats.LastError = err.Error()
}

func (t *statsTracker) snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}
