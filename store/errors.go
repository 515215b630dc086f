package store

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned by AttemptAcquire when the lease is currently
	// held by another owner. It drives the coordinator's poll loop and is
	// not a hard failure.
	ErrConflict = errors.New("lease held by another owner")

	// ErrNotHeld is returned by RenewIfOwned when the caller's token no
	// longer owns the lease: it expired, was broken, or was taken over.
	// Definitive; the renewal loop must not retry it.
	ErrNotHeld = errors.New("lease not held by caller")

	// ErrInfiniteUnsupported is returned by backends without native support
	// for non-expiring leases.
	ErrInfiniteUnsupported = errors.New("infinite lease duration not supported by this backend")
)

// UnavailableError marks a backend as unreachable. The coordinator and the
// renewal loop treat it as transient and back off before retrying.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: backend unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps a native transport error in an UnavailableError.
func Unavailable(backend string, err error) error {
	return &UnavailableError{Backend: backend, Err: err}
}

// IsUnavailable reports whether err (or anything it wraps) marks the
// backend as unreachable.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsTransient reports whether err is worth retrying within policy. Only
// backend unavailability qualifies; conflicts and ownership loss carry
// their own handling, and everything else is fatal.
func IsTransient(err error) bool {
	return IsUnavailable(err)
}

// InvalidConfigurationError is returned when the type of the configuration
// passed to a driver constructor is not supported by that backend.
type InvalidConfigurationError struct {
	Backend string
	Config  any
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("%s: invalid configuration type: %T", e.Backend, e.Config)
}
