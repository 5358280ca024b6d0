package sampler

import "time"

// IsStale reports whether a new poll is due given the local time of the last
// successful poll. A sampler that never polled is always stale, and so is
// any sampler when minInterval <= 0.
//
// The window is measured on the local clock, not from the capture time of
// the data: sources that report their own timestamps may lag behind.
func IsStale(lastPoll, now time.Time, minInterval time.Duration) bool {
	if lastPoll.IsZero() || minInterval <= 0 {
		return true
	}
	return now.Sub(lastPoll) > minInterval
}
