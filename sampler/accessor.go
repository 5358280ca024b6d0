package sampler

import (
	"context"
	"fmt"
	"strings"
)

// AccessMode selects when the accessor refreshes the store.
type AccessMode int

const (
	// Lazy polls the source inside the read call when the store is stale.
	Lazy AccessMode = iota
	// Background only reads; a running Sampler loop keeps the store fresh.
	Background
)

func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "background":
		return Background, nil
	case "lazy":
		return Lazy, nil
	}
	return Background, fmt.Errorf("unknown access mode %q", s)
}

func (m AccessMode) String() string {
	if m == Lazy {
		return "lazy"
	}
	return "background"
}

// Accessor is the read API handed to the host. ValueOf, RateOf, DeltaOf and
// Read never fail: missing data reads as 0.
type Accessor struct {
	sampler *Sampler
	mode    AccessMode
}

func NewAccessor(s *Sampler, mode AccessMode) *Accessor {
	return &Accessor{sampler: s, mode: mode}
}

func (a *Accessor) Mode() AccessMode { return a.mode }

func (a *Accessor) Sampler() *Sampler { return a.sampler }

func (a *Accessor) refresh() {
	if a.mode != Lazy {
		return
	}
	// failures are logged and counted by the sampler
	_ = a.sampler.EnsureFresh(context.Background())
}

// Lookup returns the latest reading of a gauge. A metric missing from the
// current snapshot falls back to the previous one; when neither has it the
// result is ErrMetricAbsent.
func (a *Accessor) Lookup(name string) (float64, error) {
	a.refresh()
	return lookup(a.sampler.store, name)
}

func lookup(store *Store, name string) (float64, error) {
	cur, prev := store.Load()
	if v, ok := cur.Value(name); ok {
		return v, nil
	}
	if v, ok := prev.Value(name); ok {
		return v, nil
	}
	return 0, fmt.Errorf("%s: %w", name, ErrMetricAbsent)
}

// ValueOf returns the latest reading of name, or 0.
func (a *Accessor) ValueOf(name string) float64 {
	v, err := a.Lookup(name)
	if err != nil {
		return 0
	}
	return v
}

// RateOf returns the per-second rate of the 64-bit counter name, or 0.
// A decrease always reads as a reset; 32-bit wraparound is corrected only
// through RateOfWidth or Read with a Width32 descriptor.
func (a *Accessor) RateOf(name string) float64 {
	return a.RateOfWidth(name, Width64)
}

func (a *Accessor) RateOfWidth(name string, width Width) float64 {
	a.refresh()
	cur, prev := a.sampler.store.Load()
	return PerSecond(prev, cur, name, width)
}

// DeltaOf returns the change of the counter name since the previous poll.
func (a *Accessor) DeltaOf(name string, width Width) float64 {
	a.refresh()
	cur, prev := a.sampler.store.Load()
	return CounterDelta(prev, cur, name, width)
}

// Read returns the value the descriptor declares: the reading of a gauge,
// the rate or delta of a counter, multiplied by Scale when set.
func (a *Accessor) Read(d Descriptor) float64 {
	key := d.SourceKey()
	var v float64
	switch {
	case d.Kind == Gauge:
		v = a.ValueOf(key)
	case d.Mode == Delta:
		v = a.DeltaOf(key, d.Width)
	default:
		v = a.RateOfWidth(key, d.Width)
	}
	if d.Scale != 0 {
		v *= d.Scale
	}
	return v
}
