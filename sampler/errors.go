package sampler

import "errors"

// ErrMetricAbsent is returned by Lookup when the collector succeeded but did
// not report the metric.
var ErrMetricAbsent = errors.New("metric absent")

// FetchError wraps a failed poll of a collector. It is logged and counted by
// the Sampler and never reaches ValueOf or RateOf.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	if e == nil || e.Err == nil {
		return "fetch error"
	}
	if e.Source == "" {
		return "fetch error: " + e.Err.Error()
	}
	return "fetch " + e.Source + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }
