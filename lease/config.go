package lease

import (
	"errors"
	"fmt"
	"time"

	"github.com/avivl/leasekeeper/store"
)

// InfiniteDuration requests a non-expiring lease from backends with native
// support. Auto-renewal is meaningless for infinite leases and is rejected
// at validation.
const InfiniteDuration = store.InfiniteDuration

// Hard ceiling on acquisition attempts, so a misconfigured "infinite"
// timeout still terminates.
const maxAcquireAttempts = 10000

// Config holds the lease lifecycle settings. Validate it once at
// construction; the Acquirer copies it and never mutates it afterwards.
type Config struct {
	// Duration is the nominal lease duration, or InfiniteDuration.
	Duration time.Duration `yaml:"duration"`

	// AutoRenew starts a background renewal loop on every acquired lease.
	AutoRenew bool `yaml:"autoRenew"`

	// RenewInterval is the time between renewal attempts, measured from the
	// last successful renewal. Must be strictly less than Duration.
	RenewInterval time.Duration `yaml:"renewInterval"`

	// SafetyThreshold is the fraction of Duration after which a failing
	// renewal is treated as definitive loss instead of retried. Allowed
	// range 0.5-0.95.
	SafetyThreshold float64 `yaml:"safetyThreshold"`

	// RetryInterval is the initial backoff between renewal retries.
	RetryInterval time.Duration `yaml:"retryInterval"`

	// MaxRetries bounds renewal retries within one renewal cycle.
	MaxRetries int `yaml:"maxRetries"`

	// AcquireTimeout bounds the acquisition loop. Zero means no deadline;
	// the attempt ceiling still applies.
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`

	// PollInterval is the wait between acquisition attempts while the lease
	// is held elsewhere. Jitter of up to ±25% is added.
	PollInterval time.Duration `yaml:"pollInterval"`

	// Metadata is persisted with the lease by backends that support it.
	Metadata map[string]string `yaml:"metadata"`
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Duration:        30 * time.Second,
		AutoRenew:       true,
		RenewInterval:   10 * time.Second,
		SafetyThreshold: 0.8,
		RetryInterval:   time.Second,
		MaxRetries:      3,
		AcquireTimeout:  time.Minute,
		PollInterval:    2 * time.Second,
	}
}

// Validate checks the configuration invariants from the lease lifecycle:
// the renewal interval must leave room before expiry, and the retry budget
// must fit inside the safety window.
func (c Config) Validate() error {
	if c.Duration == 0 {
		return errors.New("duration is required")
	}
	if c.Duration < 0 && c.Duration != InfiniteDuration {
		return fmt.Errorf("invalid duration %v", c.Duration)
	}
	if c.Duration == InfiniteDuration {
		if c.AutoRenew {
			return errors.New("auto-renew cannot be combined with an infinite duration")
		}
		return nil
	}

	if c.SafetyThreshold < 0.5 || c.SafetyThreshold > 0.95 {
		return fmt.Errorf("safety threshold %.2f outside allowed range [0.5, 0.95]", c.SafetyThreshold)
	}

	if c.AutoRenew {
		if c.RenewInterval <= 0 {
			return errors.New("renew interval is required when auto-renew is enabled")
		}
		if c.RenewInterval >= c.Duration {
			return fmt.Errorf("renew interval %v must be less than duration %v", c.RenewInterval, c.Duration)
		}
		window := c.safetyWindow()
		if c.RenewInterval >= window {
			return fmt.Errorf("renew interval %v leaves no room inside the safety window %v", c.RenewInterval, window)
		}
		if c.RetryInterval <= 0 {
			return errors.New("retry interval is required when auto-renew is enabled")
		}
		if budget := c.RenewInterval + time.Duration(c.MaxRetries)*c.RetryInterval; budget > window {
			return fmt.Errorf("retry budget %v exceeds the safety window %v", budget, window)
		}
	}

	if c.PollInterval <= 0 {
		return errors.New("poll interval is required")
	}
	if c.AcquireTimeout < 0 {
		return fmt.Errorf("invalid acquire timeout %v", c.AcquireTimeout)
	}

	return nil
}

// safetyWindow is the time since the last successful renewal after which a
// failing renewal means the lease must be presumed lost.
func (c Config) safetyWindow() time.Duration {
	return time.Duration(c.SafetyThreshold * float64(c.Duration))
}

// withDefaults fills zero fields from DefaultConfig and deep-copies the
// metadata map so the validated configuration is immutable.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Duration == 0 {
		c.Duration = def.Duration
	}
	if c.RenewInterval == 0 {
		c.RenewInterval = def.RenewInterval
	}
	if c.SafetyThreshold == 0 {
		c.SafetyThreshold = def.SafetyThreshold
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if len(c.Metadata) > 0 {
		meta := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		c.Metadata = meta
	}
	return c
}
