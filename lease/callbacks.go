package lease

import (
	"time"
)

// Callbacks receives lifecycle notifications from a lease handle. Multiple
// subscribers may be attached; one subscriber misbehaving never blocks the
// others.
type Callbacks interface {
	// OnRenewed is called after each successful renewal with the new expiry.
	OnRenewed(newExpiry time.Time)

	// OnRenewalFailed is called after each failed renewal attempt.
	// The loop may still retry; attempt counts from 1 within a renewal cycle.
	OnRenewalFailed(err error, attempt int)

	// OnLost is called exactly once when the lease is definitively lost.
	OnLost(reason error)
}

// NoOpCallbacks implements Callbacks with empty methods
// Useful as a default when no callbacks are provided
type NoOpCallbacks struct{}

func (NoOpCallbacks) OnRenewed(time.Time) {}
func (NoOpCallbacks) OnRenewalFailed(error, int) {}
func (NoOpCallbacks) OnLost(error) {}

// CallbackFuncs adapts plain functions into a Callbacks. Nil fields are
// no-ops.
type CallbackFuncs struct {
	Renewed       func(newExpiry time.Time)
	RenewalFailed func(err error, attempt int)
	Lost          func(reason error)
}

func (c *CallbackFuncs) OnRenewed(newExpiry time.Time) {
	if c.Renewed != nil {
		c.Renewed(newExpiry)
	}
}

func (c *CallbackFuncs) OnRenewalFailed(err error, attempt int) {
	if c.RenewalFailed != nil {
		c.RenewalFailed(err, attempt)
	}
}

func (c *CallbackFuncs) OnLost(reason error) {
	if c.Lost != nil {
		c.Lost(reason)
	}
}

// multicast fans an event out to every subscriber, isolating each call so a
// panicking subscriber cannot take down the renewal loop or starve the rest.
func multicast(subs []Callbacks, notify func(Callbacks)) {
	for _, sub := range subs {
		func() {
			defer func() {
				_ = recover()
			}()
			notify(sub)
		}()
	}
}
