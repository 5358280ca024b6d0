package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMinInterval = 10 * time.Second
	DefaultTimeout     = 2 * time.Second

	flightKey = "fetch"
)

// ErrClosed is returned by EnsureFresh after Shutdown.
var ErrClosed = errors.New("sampler is shut down")

// Source is the collector a Sampler polls. Implementations must honour the
// context deadline and report failures as errors.
type Source interface {
	Collect(ctx context.Context) (map[string]float64, error)
}

// TimedSource is implemented by sources that report their own capture time.
type TimedSource interface {
	Source
	CollectAt(ctx context.Context) (map[string]float64, time.Time, error)
}

// Clock is the time source of a Sampler.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Sampler. Zero values select the defaults.
type Options struct {
	// MinInterval is the minimum time between polls of the source.
	// Values <= 0 make every EnsureFresh poll; the background loop then
	// falls back to DefaultMinInterval.
	MinInterval time.Duration
	// Timeout bounds every fetch.
	Timeout time.Duration
	// MaxBackoff caps the background wait after consecutive failures.
	// Zero keeps the wait at MinInterval.
	MaxBackoff time.Duration
	Clock      Clock
	Logger     *zap.Logger
	// OnSnapshot is called from the polling goroutine after every accepted
	// snapshot. It must not block.
	OnSnapshot func(*Snapshot)
}

// Sampler polls one Source at most once per refresh window and keeps the
// two latest snapshots in its Store.
type Sampler struct {
	name        string
	source      Source
	store       *Store
	minInterval time.Duration
	timeout     time.Duration
	maxBackoff  time.Duration
	clock       Clock
	log         *zap.Logger
	onSnapshot  func(*Snapshot)

	flight   singleflight.Group
	stats    statsTracker
	lastPoll atomic.Pointer[time.Time] // local time of the last successful poll

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func New(name string, source Source, opts Options) *Sampler {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Sampler{
		name:        name,
		source:      source,
		store:       NewStore(),
		minInterval: opts.MinInterval,
		timeout:     opts.Timeout,
		maxBackoff:  opts.MaxBackoff,
		clock:       opts.Clock,
		log:         opts.Logger.With(zap.String("sampler", name)),
		onSnapshot:  opts.OnSnapshot,
	}
}

func (s *Sampler) Name() string { return s.name }

func (s *Sampler) Store() *Store { return s.store }

func (s *Sampler) MinInterval() time.Duration { return s.minInterval }

// LastPoll returns the local time of the last successful poll, including
// polls whose snapshot was discarded, or the zero time.
func (s *Sampler) LastPoll() time.Time {
	if t := s.lastPoll.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Stats returns a copy of the poll statistics.
func (s *Sampler) Stats() Stats { return s.stats.snapshot() }

// EnsureFresh polls the source when the store is stale. Concurrent callers
// share a single fetch. A failed fetch leaves the store untouched and is
// returned for diagnostics only.
func (s *Sampler) EnsureFresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !IsStale(s.LastPoll(), s.clock.Now(), s.minInterval) {
		return nil
	}
	// one caller's cancellation must not fail the callers that joined it
	ctx = context.WithoutCancel(ctx)
	_, err, _ := s.flight.Do(flightKey, func() (interface{}, error) {
		// a fetch may have completed between the check above and here
		if !IsStale(s.LastPoll(), s.clock.Now(), s.minInterval) {
			return nil, nil
		}
		return nil, s.poll(ctx)
	})
	return err
}

// Start runs the background loop until ctx is done or Shutdown is called.
// The source is polled immediately and then every MinInterval.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.log.Info("sampler started", zap.Duration("interval", s.interval()))

	failures := 0
	for {
		_, err, _ := s.flight.Do(flightKey, func() (interface{}, error) {
			return nil, s.poll(ctx)
		})
		if err != nil {
			failures++
		} else {
			failures = 0
		}

		timer := time.NewTimer(s.nextWait(failures))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("sampler stopped")
			return
		case <-timer.C:
		}
	}
}

func (s *Sampler) interval() time.Duration {
	if s.minInterval <= 0 {
		return DefaultMinInterval
	}
	return s.minInterval
}

// nextWait doubles the interval per consecutive failure, capped at
// maxBackoff.
func (s *Sampler) nextWait(failures int) time.Duration {
	wait := s.interval()
	if failures == 0 || s.maxBackoff <= wait {
		return wait
	}
	for i := 0; i < failures && wait < s.maxBackoff; i++ {
		wait *= 2
	}
	if wait > s.maxBackoff {
		wait = s.maxBackoff
	}
	return wait
}

// Shutdown stops the background loop and closes the source if it is an
// io.Closer. It waits for the loop no longer than ctx allows.
func (s *Sampler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("sampler %s: wait for loop: %w", s.name, ctx.Err())
		}
	}
	if c, ok := s.source.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			s.log.Warn("cannot close source", zap.Error(cerr))
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (s *Sampler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sampler) poll(ctx context.Context) error {
	start := s.clock.Now()
	values, at, err := s.fetch(ctx)
	finished := s.clock.Now()
	duration := finished.Sub(start)
	if err != nil {
		s.stats.recordFailure(err, finished, duration)
		s.log.Warn("poll failed", zap.Error(err), zap.Duration("duration", duration))
		return err
	}
	if at.IsZero() {
		at = finished
	}

	s.lastPoll.Store(&finished)

	snap := NewSnapshot(at, values)
	if !s.store.Push(snap) {
		s.stats.recordSuccess(snap.Len(), finished, duration)
		s.log.Debug("discarding snapshot that is not newer than current", zap.Time("captured_at", at))
		return nil
	}
	s.stats.recordSuccess(snap.Len(), finished, duration)
	s.log.Debug("snapshot accepted",
		zap.Time("captured_at", at),
		zap.Int("metrics", snap.Len()),
		zap.Duration("duration", duration))
	if s.onSnapshot != nil {
		s.onSnapshot(snap)
	}
	return nil
}

// fetch calls the source under the fetch timeout. Errors and panics come
// back as *FetchError.
func (s *Sampler) fetch(parent context.Context) (values map[string]float64, at time.Time, err error) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			values, at = nil, time.Time{}
			err = &FetchError{Source: s.name, Err: fmt.Errorf("collector panic: %v", r)}
		}
	}()

	if ts, ok := s.source.(TimedSource); ok {
		values, at, err = ts.CollectAt(ctx)
	} else {
		values, err = s.source.Collect(ctx)
	}
	if err != nil {
		return nil, time.Time{}, &FetchError{Source: s.name, Err: err}
	}
	return values, at, nil
}
