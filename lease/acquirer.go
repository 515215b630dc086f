package lease

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

// Acquirer is the acquisition coordinator: it loops on the provider until a
// lease is obtained or the caller gives up, then hands out handles with
// their renewal loops started.
type Acquirer struct {
	provider  store.Provider
	cfg       Config
	clk       clock.Clock
	logger    *observability.SLogger
	metrics   MetricsSink
	tracer    TraceSink
	callbacks []Callbacks
}

// Option customizes an Acquirer.
type Option func(*Acquirer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *observability.SLogger) Option {
	return func(a *Acquirer) { a.logger = l }
}

// WithMetrics sets the metrics sink. The default is a no-op.
func WithMetrics(m MetricsSink) Option {
	return func(a *Acquirer) { a.metrics = m }
}

// WithTracer sets the trace sink. The default is a no-op.
func WithTracer(t TraceSink) Option {
	return func(a *Acquirer) { a.tracer = t }
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(a *Acquirer) { a.clk = c }
}

// WithCallbacks subscribes cb to every lease this Acquirer hands out.
func WithCallbacks(cb Callbacks) Option {
	return func(a *Acquirer) {
		if cb != nil {
			a.callbacks = append(a.callbacks, cb)
		}
	}
}

// NewAcquirer validates cfg (after filling defaults) and builds a
// coordinator bound to provider.
func NewAcquirer(provider store.Provider, cfg Config, opts ...Option) (*Acquirer, error) {
	if provider == nil {
		return nil, errors.New("provider cannot be nil")
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lease config: %w", err)
	}

	a := &Acquirer{
		provider: provider,
		cfg:      cfg,
		clk:      clock.New(),
		logger:   observability.NewNopLogger(),
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the validated configuration the Acquirer runs with.
func (a *Acquirer) Config() Config { return a.cfg }

// Acquire obtains the lease for name, polling through contention until the
// configured timeout elapses. Contention waits PollInterval with jitter;
// backend unavailability backs off exponentially; fatal provider errors
// surface immediately. Even without a timeout the loop is bounded by a hard
// attempt ceiling.
func (a *Acquirer) Acquire(ctx context.Context, name string) (*Lease, error) {
	backend := a.provider.Backend()
	ctx, end := a.tracer.Start(ctx, "lease.acquire", "lease", name, "backend", backend)

	start := a.clk.Now()
	var deadline time.Time
	if a.cfg.AcquireTimeout > 0 {
		deadline = start.Add(a.cfg.AcquireTimeout)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.PollInterval
	bo.MaxInterval = 16 * a.cfg.PollInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAcquireAttempts; attempt++ {
		attempts = attempt
		if !deadline.IsZero() && !a.clk.Now().Before(deadline) {
			break
		}

		acq, err := a.provider.AttemptAcquire(ctx, name, a.cfg.Duration, a.cfg.Metadata)
		a.metrics.Increment(ctx, metricAcquireAttempts, 1, "backend", backend, "lease", name)

		var wait time.Duration
		switch {
		case err == nil && acq != nil:
			a.metrics.RecordDuration(ctx, metricAcquireDuration, a.clk.Now().Sub(start), "backend", backend, "lease", name)
			a.logger.Infow("lease acquired", "lease", name, "backend", backend, "expiry", acq.Expiry)
			end("ok")
			return a.newLease(name, acq), nil

		case err == nil || errors.Is(err, store.ErrConflict):
			lastErr = store.ErrConflict
			wait = jitter(a.cfg.PollInterval)
			bo.Reset()

		case store.IsTransient(err):
			lastErr = err
			wait = bo.NextBackOff()
			a.logger.Warnw("backend unavailable during acquisition",
				"lease", name, "backend", backend, "attempt", attempt, "error", err)

		default:
			end("error")
			return nil, &AcquisitionError{Name: name, Attempts: attempt, Elapsed: a.clk.Now().Sub(start), Err: err}
		}

		if !deadline.IsZero() {
			if remaining := deadline.Sub(a.clk.Now()); remaining < wait {
				wait = remaining
			}
			if wait < 0 {
				wait = 0
			}
		}

		t := a.clk.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			end("canceled")
			return nil, &AcquisitionError{Name: name, Attempts: attempt, Elapsed: a.clk.Now().Sub(start), Err: ctx.Err()}
		case <-t.C:
		}
	}

	end("timeout")
	return nil, &AcquisitionError{
		Name:     name,
		Attempts: attempts,
		Elapsed:  a.clk.Now().Sub(start),
		Err:      lastErr,
	}
}

// ForceBreak removes the lease for name without ownership verification.
func (a *Acquirer) ForceBreak(ctx context.Context, name string) error {
	return a.provider.ForceBreak(ctx, name)
}

func (a *Acquirer) newLease(name string, acq *store.Acquisition) *Lease {
	now := a.clk.Now()
	expiry := acq.Expiry
	if expiry.IsZero() && a.cfg.Duration != InfiniteDuration {
		expiry = now.Add(a.cfg.Duration)
	}

	l := &Lease{
		name:        name,
		token:       acq.Token,
		acquired:    now,
		provider:    a.provider,
		cfg:         a.cfg,
		clk:         a.clk,
		logger:      a.logger,
		metrics:     a.metrics,
		tracer:      a.tracer,
		expiry:      expiry,
		lastSuccess: now,
		state:       StateActive,
		done:        make(chan struct{}),
	}
	l.subs = append(l.subs, a.callbacks...)

	if a.cfg.AutoRenew {
		loopCtx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		go l.renewLoop(loopCtx)
	} else {
		close(l.done)
	}

	return l
}

// jitter spreads d by up to ±25% so contending coordinators do not poll in
// lockstep. math/rand/v2's process-wide source is safe for concurrent use.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	quarter := int64(d) / 4
	if quarter == 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(2*quarter)-quarter)
}
