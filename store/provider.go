// Package store defines the provider contract implemented by the lease
// backends, together with the shared error taxonomy the core branches on.
package store

import (
	"context"
	"time"
)

// Acquisition is the result of a successful AttemptAcquire.
type Acquisition struct {
	// Token is the opaque ownership proof issued by the backend. The core
	// never interprets it beyond passing it back on renew and release.
	Token string

	// Expiry is the instant the lease lapses if it is never renewed. For
	// backends that apply drift compensation this is already the reduced,
	// effective expiry.
	Expiry time.Time

	// Metadata echoes the metadata persisted alongside the lease, if the
	// backend stores it.
	Metadata map[string]string
}

// Provider is implemented by each backend adapter. All operations are
// context-aware and safe for concurrent use by multiple lease handles.
type Provider interface {
	// AttemptAcquire tries to take the lease for name once, without waiting.
	// It returns (nil, ErrConflict) when the lease is held by another owner.
	// A duration of InfiniteDuration is only honored by backends with native
	// support; others reject it.
	AttemptAcquire(ctx context.Context, name string, duration time.Duration, metadata map[string]string) (*Acquisition, error)

	// RenewIfOwned extends the lease for name, verifying ownership
	// atomically before extending. It returns the new expiry on success and
	// ErrNotHeld when ownership is gone; ErrNotHeld is definitive and must
	// never be retried.
	RenewIfOwned(ctx context.Context, name, token string, duration time.Duration) (time.Time, error)

	// ReleaseIfOwned releases the lease if token still owns it. Releasing a
	// lease that is already gone, or owned by someone else, is a no-op.
	ReleaseIfOwned(ctx context.Context, name, token string) error

	// ForceBreak removes the lease for name without any ownership check.
	// Administrative recovery only.
	ForceBreak(ctx context.Context, name string) error

	// Backend returns the registered backend name, used for metrics and
	// span attributes.
	Backend() string

	// Close releases resources held by the provider.
	Close()
}

// InfiniteDuration requests a lease with no expiry from backends that
// support one (currently only the blob storage backend).
const InfiniteDuration time.Duration = -1
