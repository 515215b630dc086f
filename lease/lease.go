// Package lease implements the lease lifecycle: acquisition with retry, the
// auto-renewal state machine owned by an acquired lease, and the error
// taxonomy shared with the backend providers.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

// State describes where a lease handle is in its lifecycle.
type State int32

const (
	// StateActive means the lease is held and its renewal loop, if any, is
	// idle between attempts.
	StateActive State = iota

	// StateRenewing means one renewal attempt is in flight.
	StateRenewing

	// StateLost is terminal: the safety threshold was exceeded or the
	// backend confirmed the lease is gone.
	StateLost

	// StateReleased is terminal and idempotent.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRenewing:
		return "renewing"
	case StateLost:
		return "lost"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Lease is an acquired, renewable ownership claim over a named resource.
// The handle is the single writer of the lease record; the expiry field may
// be read from any goroutine through ExpiresAt.
type Lease struct {
	name     string
	token    string
	acquired time.Time

	provider store.Provider
	cfg      Config
	clk      clock.Clock
	logger   *observability.SLogger
	metrics  MetricsSink
	tracer   TraceSink

	// mu guards only the fields below, never provider I/O.
	mu          sync.Mutex
	expiry      time.Time
	lastSuccess time.Time
	renewCount  uint64
	state       State
	lostErr     *LostError
	subs        []Callbacks

	// renewMu is the gate keeping at most one renewal attempt in flight.
	renewMu sync.Mutex

	cancel      context.CancelFunc
	done        chan struct{}
	releaseOnce sync.Once
	lostOnce    sync.Once
}

// Name returns the logical resource name the lease covers.
func (l *Lease) Name() string { return l.name }

// Token returns the opaque ownership token issued by the backend.
func (l *Lease) Token() string { return l.token }

// AcquiredAt returns when the lease was acquired.
func (l *Lease) AcquiredAt() time.Time { return l.acquired }

// ExpiresAt returns the current expiry. It advances on every successful
// renewal.
func (l *Lease) ExpiresAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiry
}

// State returns the current lifecycle state.
func (l *Lease) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the loss reason once the lease is in StateLost, nil otherwise.
func (l *Lease) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lostErr == nil {
		return nil
	}
	return l.lostErr
}

// Subscribe attaches a lifecycle callback to the handle.
func (l *Lease) Subscribe(cb Callbacks) {
	if cb == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, cb)
}

func (l *Lease) subscribers() []Callbacks {
	l.mu.Lock()
	defer l.mu.Unlock()
	subs := make([]Callbacks, len(l.subs))
	copy(subs, l.subs)
	return subs
}

// Renew performs (or coalesces with) one renewal attempt and returns the
// resulting expiry. If an automatic renewal completes while Renew waits on
// the gate, that result is returned without a second provider call.
func (l *Lease) Renew(ctx context.Context) (time.Time, error) {
	l.mu.Lock()
	seq := l.renewCount
	l.mu.Unlock()

	l.renewMu.Lock()
	defer l.renewMu.Unlock()

	l.mu.Lock()
	state, lostErr := l.state, l.lostErr
	if l.renewCount != seq {
		// a renewal in flight when we were called has since succeeded
		exp := l.expiry
		l.mu.Unlock()
		return exp, nil
	}
	l.mu.Unlock()

	switch state {
	case StateLost:
		return time.Time{}, lostErr
	case StateReleased:
		return time.Time{}, ErrNotActive
	}

	newExpiry, err := l.renewOnce(ctx, 1)
	if err != nil {
		return time.Time{}, err
	}
	return newExpiry, nil
}

// renewOnce issues a single RenewIfOwned call and records the result.
// A definitive ownership loss transitions the handle to StateLost.
func (l *Lease) renewOnce(ctx context.Context, attempt int) (time.Time, error) {
	backend := l.provider.Backend()
	ctx, end := l.tracer.Start(ctx, "lease.renew", "lease", l.name, "backend", backend)

	start := l.clk.Now()
	newExpiry, err := l.provider.RenewIfOwned(ctx, l.name, l.token, l.cfg.Duration)
	l.metrics.RecordDuration(ctx, metricRenewDuration, l.clk.Now().Sub(start), "backend", backend, "lease", l.name)

	if err == nil {
		l.mu.Lock()
		l.expiry = newExpiry
		l.lastSuccess = l.clk.Now()
		l.renewCount++
		l.mu.Unlock()

		l.metrics.Increment(ctx, metricRenewals, 1, "backend", backend, "lease", l.name, "outcome", "ok")
		end("ok")
		multicast(l.subscribers(), func(cb Callbacks) { cb.OnRenewed(newExpiry) })
		return newExpiry, nil
	}

	l.metrics.Increment(ctx, metricRenewals, 1, "backend", backend, "lease", l.name, "outcome", "error")
	end("error")

	if errors.Is(err, store.ErrNotHeld) {
		lost := &LostError{Name: l.name, Reason: ReasonOwnershipLost, Err: err}
		l.markLost(lost)
		return time.Time{}, lost
	}

	multicast(l.subscribers(), func(cb Callbacks) { cb.OnRenewalFailed(err, attempt) })
	return time.Time{}, fmt.Errorf("renewing lease %q: %w", l.name, err)
}

// renewLoop is the background renewal state machine. Timing is measured
// from the last successful renewal, never from acquisition, so every
// success resets the safety clock.
func (l *Lease) renewLoop(ctx context.Context) {
	defer close(l.done)

	for {
		wait := l.nextRenewalIn()
		t := l.clk.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		if !l.renewalCycle(ctx) {
			return
		}
	}
}

func (l *Lease) nextRenewalIn() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	wait := l.cfg.RenewInterval - l.clk.Now().Sub(l.lastSuccess)
	if wait <= 0 {
		// the previous cycle exhausted its retries; re-arm at the retry
		// interval instead of spinning
		wait = l.cfg.RetryInterval
	}
	return wait
}

// renewalCycle runs one scheduled renewal with retries. It returns false
// when the loop must stop: the lease was lost or the context was canceled.
func (l *Lease) renewalCycle(ctx context.Context) bool {
	l.renewMu.Lock()
	defer l.renewMu.Unlock()

	// a manual renewal may have advanced the schedule while the timer was
	// armed; let the loop re-arm for the remaining time
	l.mu.Lock()
	due := l.lastSuccess.Add(l.cfg.RenewInterval)
	l.mu.Unlock()
	if l.clk.Now().Before(due) {
		return true
	}

	if !l.setRenewing() {
		return false
	}
	defer l.setActive()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.RetryInterval
	bo.MaxInterval = 8 * l.cfg.RetryInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; ; attempt++ {
		if l.pastSafetyWindow() {
			l.markLost(&LostError{Name: l.name, Reason: ReasonSafetyThreshold})
			return false
		}

		_, err := l.renewOnce(ctx, attempt)
		if err == nil {
			return true
		}
		if IsLost(err) {
			return false
		}
		if ctx.Err() != nil {
			return false
		}

		l.logger.Warnw("lease renewal attempt failed",
			"lease", l.name,
			"backend", l.provider.Backend(),
			"attempt", attempt,
			"error", err,
		)

		if attempt > l.cfg.MaxRetries {
			// retry budget spent inside the safety window; the loop re-arms
			return true
		}

		wait := bo.NextBackOff()
		if remaining := l.safetyDeadline().Sub(l.clk.Now()); remaining < wait {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}
		t := l.clk.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

func (l *Lease) safetyDeadline() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSuccess.Add(l.cfg.safetyWindow())
}

func (l *Lease) pastSafetyWindow() bool {
	return !l.clk.Now().Before(l.safetyDeadline())
}

func (l *Lease) setRenewing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateActive {
		return false
	}
	l.state = StateRenewing
	return true
}

func (l *Lease) setActive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRenewing {
		l.state = StateActive
	}
}

// markLost transitions to StateLost and fires OnLost. At most once per
// handle; a no-op after Release.
func (l *Lease) markLost(lost *LostError) {
	l.lostOnce.Do(func() {
		l.mu.Lock()
		if l.state == StateReleased {
			l.mu.Unlock()
			return
		}
		l.state = StateLost
		l.lostErr = lost
		l.mu.Unlock()

		l.metrics.Increment(context.Background(), metricLost, 1,
			"backend", l.provider.Backend(), "lease", l.name, "reason", string(lost.Reason))
		l.logger.Warnw("lease lost", "lease", l.name, "reason", string(lost.Reason), "error", lost.Err)

		// OnLost runs on its own goroutine; it may fire on the renewal
		// loop itself, and a subscriber calling Release from it would
		// otherwise deadlock against the loop join
		subs := l.subscribers()
		go multicast(subs, func(cb Callbacks) { cb.OnLost(lost) })
	})
}

// Release stops the renewal loop, waits for it to exit, and releases the
// lease best-effort. It never returns an error so it is always safe from
// cleanup paths, and repeated calls are no-ops.
func (l *Lease) Release(ctx context.Context) {
	l.releaseOnce.Do(func() {
		l.stopLoop()

		l.mu.Lock()
		if l.state != StateLost {
			l.state = StateReleased
		}
		l.mu.Unlock()

		backend := l.provider.Backend()
		rctx, end := l.tracer.Start(ctx, "lease.release", "lease", l.name, "backend", backend)
		if err := l.provider.ReleaseIfOwned(rctx, l.name, l.token); err != nil {
			l.logger.Warnw("lease release failed", "lease", l.name, "backend", backend, "error", err)
			end("error")
		} else {
			end("ok")
		}
		l.metrics.Increment(ctx, metricReleases, 1, "backend", backend, "lease", l.name)
	})
}

// Break force-breaks the lease without ownership verification and stops the
// renewal loop. Administrative recovery only.
func (l *Lease) Break(ctx context.Context) error {
	l.stopLoop()

	l.mu.Lock()
	if l.state != StateLost {
		l.state = StateReleased
	}
	l.mu.Unlock()

	return l.provider.ForceBreak(ctx, l.name)
}

// stopLoop cancels the renewal loop and joins it. The gate is always
// released by the exiting loop, so callers never observe it locked.
func (l *Lease) stopLoop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}
