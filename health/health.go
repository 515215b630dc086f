// Package health probes a lease provider with a short acquire-then-release
// cycle.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

// Status is the probe verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Result carries the verdict together with the observed round-trip latency.
type Result struct {
	Status  Status
	Latency time.Duration
	Err     error
}

// Checker performs acquire-then-release cycles against one provider.
type Checker struct {
	provider store.Provider
	clk      clock.Clock
	logger   *observability.SLogger

	// ProbeName is the lease name used for probing. Defaults to
	// "leasekeeper-health-probe"; override it when several checkers share
	// one backend.
	ProbeName string

	// ProbeDuration is the lease duration requested for the probe.
	ProbeDuration time.Duration

	// LatencyBudget is the round-trip latency above which a successful
	// probe still reports degraded.
	LatencyBudget time.Duration
}

// NewChecker builds a Checker with defaults suitable for most backends.
func NewChecker(provider store.Provider, logger *observability.SLogger) *Checker {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Checker{
		provider:      provider,
		clk:           clock.New(),
		logger:        logger,
		ProbeName:     "leasekeeper-health-probe",
		ProbeDuration: 15 * time.Second,
		LatencyBudget: time.Second,
	}
}

// Check acquires and releases the probe lease once. A conflict on the probe
// name means the backend answers but another checker holds the probe, which
// counts as degraded rather than unhealthy.
func (c *Checker) Check(ctx context.Context) Result {
	start := c.clk.Now()

	acq, err := c.provider.AttemptAcquire(ctx, c.ProbeName, c.ProbeDuration, map[string]string{
		"probe": "true",
	})
	if err != nil {
		if store.IsTransient(err) {
			return Result{Status: StatusUnhealthy, Latency: c.clk.Now().Sub(start), Err: err}
		}
		if errors.Is(err, store.ErrConflict) {
			return Result{Status: StatusDegraded, Latency: c.clk.Now().Sub(start), Err: err}
		}
		return Result{Status: StatusUnhealthy, Latency: c.clk.Now().Sub(start), Err: err}
	}

	releaseErr := c.provider.ReleaseIfOwned(ctx, c.ProbeName, acq.Token)
	latency := c.clk.Now().Sub(start)

	switch {
	case releaseErr != nil:
		c.logger.Warnw("health probe release failed", "backend", c.provider.Backend(), "error", releaseErr)
		return Result{Status: StatusDegraded, Latency: latency, Err: fmt.Errorf("probe release: %w", releaseErr)}
	case latency > c.LatencyBudget:
		return Result{Status: StatusDegraded, Latency: latency}
	default:
		return Result{Status: StatusHealthy, Latency: latency}
	}
}
