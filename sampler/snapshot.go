package sampler

import (
	"sort"
	"time"
)

// Snapshot is the result of a single poll of a collector.
// All readings share the same capture timestamp. A Snapshot never changes
// after NewSnapshot returns, so it can be shared between goroutines freely.
type Snapshot struct {
	CapturedAt time.Time
	values     map[string]float64
}

// NewSnapshot copies values into a new snapshot captured at ts.
func NewSnapshot(ts time.Time, values map[string]float64) *Snapshot {
	s := &Snapshot{
		CapturedAt: ts,
		values:     make(map[string]float64, len(values)),
	}
	for name, v := range values {
		s.values[name] = v
	}
	return s
}

// Value returns the reading for name and whether the source reported it.
func (s *Snapshot) Value(name string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.values[name]
	return v, ok
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Names returns the metric names in the snapshot, sorted.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the readings.
func (s *Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, s.Len())
	if s == nil {
		return out
	}
	for name, v := range s.values {
		out[name] = v
	}
	return out
}
