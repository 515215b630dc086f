// Package chaos wraps any provider with probabilistic fault injection, for
// soak testing the renewal state machine against flaky backends.
package chaos

import (
	"context"
	"errors"
	rand "math/rand/v2"
	"time"

	"github.com/avivl/leasekeeper/store"
)

// ErrInjected is the cause carried by every injected failure.
var ErrInjected = errors.New("injected fault")

// Config sets per-operation failure probabilities in [0, 1] and an optional
// latency added before every call.
type Config struct {
	AcquireFailureRate float64       `yaml:"acquireFailureRate"`
	RenewFailureRate   float64       `yaml:"renewFailureRate"`
	ReleaseFailureRate float64       `yaml:"releaseFailureRate"`
	Latency            time.Duration `yaml:"latency"`
}

// Provider decorates an inner provider with injected faults. Failures
// surface as backend unavailability, exercising the transient paths of the
// coordinator and the renewal loop.
type Provider struct {
	inner store.Provider
	cfg   Config
}

// Wrap decorates inner with the given fault configuration.
func Wrap(inner store.Provider, cfg Config) *Provider {
	return &Provider{inner: inner, cfg: cfg}
}

func (p *Provider) Backend() string { return p.inner.Backend() }

func (p *Provider) AttemptAcquire(ctx context.Context, name string, duration time.Duration, metadata map[string]string) (*store.Acquisition, error) {
	if err := p.maybeFail(ctx, p.cfg.AcquireFailureRate); err != nil {
		return nil, err
	}
	return p.inner.AttemptAcquire(ctx, name, duration, metadata)
}

func (p *Provider) RenewIfOwned(ctx context.Context, name, token string, duration time.Duration) (time.Time, error) {
	if err := p.maybeFail(ctx, p.cfg.RenewFailureRate); err != nil {
		return time.Time{}, err
	}
	return p.inner.RenewIfOwned(ctx, name, token, duration)
}

func (p *Provider) ReleaseIfOwned(ctx context.Context, name, token string) error {
	if err := p.maybeFail(ctx, p.cfg.ReleaseFailureRate); err != nil {
		return err
	}
	return p.inner.ReleaseIfOwned(ctx, name, token)
}

func (p *Provider) ForceBreak(ctx context.Context, name string) error {
	return p.inner.ForceBreak(ctx, name)
}

func (p *Provider) Close() { p.inner.Close() }

func (p *Provider) maybeFail(ctx context.Context, rate float64) error {
	if p.cfg.Latency > 0 {
		t := time.NewTimer(p.cfg.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if rate > 0 && rand.Float64() < rate {
		return store.Unavailable(p.inner.Backend(), ErrInjected)
	}
	return nil
}
