package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ratecache/sampler"
)

const defaultRecorderBuffer = 64

type job struct {
	plugin string
	snap   *sampler.Snapshot
}

// Recorder persists snapshots on a single background worker so that
// samplers never block on disk. Snapshots offered while the queue is full
// are dropped.
type Recorder struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration

	jobs    chan job
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against concurrent Record
	closed  bool
	dropped atomic.Int64
}

// NewRecorder starts the worker. buffer <= 0 selects a default queue size.
func NewRecorder(store Store, buffer int, log *zap.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		store:   store,
		log:     log,
		timeout: 5 * time.Second,
		jobs:    make(chan job, buffer),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Hook returns a sampler.Options.OnSnapshot callback bound to plugin.
func (r *Recorder) Hook(plugin string) func(*sampler.Snapshot) {
	return func(s *sampler.Snapshot) { r.Record(plugin, s) }
}

// Record queues a snapshot and reports whether it was accepted.
func (r *Recorder) Record(plugin string, snap *sampler.Snapshot) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.jobs <- job{plugin: plugin, snap: snap}:
		return true
	default:
		n := r.dropped.Add(1)
		r.log.Warn("history queue full, snapshot dropped",
			zap.String("plugin", plugin), zap.Int64("dropped_total", n))
		return false
	}
}

// Dropped is the number of snapshots discarded because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) worker() {
	defer r.wg.Done()
	for j := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.Save(ctx, j.plugin, j.snap); err != nil {
			r.log.Error("persist snapshot", zap.String("plugin", j.plugin), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting snapshots and waits until the queue is drained or
// ctx is done. It does not close the underlying Store.
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.jobs)
		r.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
