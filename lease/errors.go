package lease

import (
	"errors"
	"fmt"
	"time"

	"github.com/avivl/leasekeeper/store"
)

// LostReason classifies why a lease transitioned to the Lost state.
type LostReason string

const (
	// ReasonOwnershipLost means the backend confirmed another owner took
	// over, or the record is gone.
	ReasonOwnershipLost LostReason = "ownership_lost"

	// ReasonSafetyThreshold means renewals kept failing past the safety
	// window and the lease can no longer be presumed held.
	ReasonSafetyThreshold LostReason = "safety_threshold_exceeded"
)

// AcquisitionError reports that the acquisition loop gave up: the timeout
// elapsed, the attempt ceiling was hit, or the provider failed fatally.
type AcquisitionError struct {
	Name     string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquiring lease %q: %v (attempts=%d, elapsed=%v)", e.Name, e.Err, e.Attempts, e.Elapsed)
	}
	return fmt.Sprintf("acquiring lease %q: gave up after %d attempts in %v", e.Name, e.Attempts, e.Elapsed)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// LostError is the terminal error carried by the Lost state and delivered
// to OnLost. It is produced at most once per handle.
type LostError struct {
	Name   string
	Reason LostReason
	Err    error
}

func (e *LostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lease %q lost (%s): %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("lease %q lost (%s)", e.Name, e.Reason)
}

func (e *LostError) Unwrap() error { return e.Err }

// ErrNotActive is returned by Renew on a handle that is already Lost or
// Released.
var ErrNotActive = errors.New("lease is no longer active")

// IsConflict reports whether err is the normal held-by-another-owner
// response.
func IsConflict(err error) bool { return errors.Is(err, store.ErrConflict) }

// IsLost reports whether err marks a definitive lease loss.
func IsLost(err error) bool {
	var le *LostError
	return errors.As(err, &le)
}
