package storage

import (
	"context"
	"time"

	"ratecache/sampler"
)

// MetricRecord is a single persisted metric row.
type MetricRecord struct {
	ID        int64     // auto-increment primary key (mostly for internal use)
	Timestamp time.Time // capture time of the snapshot
	Plugin    string    // owning plugin
	Name      string    // metric name, e.g. "get_hits"
	Value     float64   // raw sampled value
}

// Store abstracts a persistence back-end for accepted snapshots.
type Store interface {
	// Save stores all values of a snapshot in a single transaction.
	// Either all rows are written or none.
	Save(ctx context.Context, plugin string, snap *sampler.Snapshot) error

	// Query returns records of one plugin between from and to (inclusive).
	// An empty name returns records for every metric of the plugin.
	// The returned slice is sorted by Timestamp ascending.
	Query(ctx context.Context, plugin, name string, from, to time.Time) ([]MetricRecord, error)

	// Close releases any resources (e.g. DB connections).
	Close() error
}
