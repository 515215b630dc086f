// Package memory provides an in-process lease provider. It is the reference
// implementation of the provider contract and backs tests, demos and the
// health probe in environments without a real backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/avivl/leasekeeper/driver"
	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

// StoreName is the registered name of the in-memory store.
const StoreName = "memory"

func init() {
	driver.Register(StoreName, func(_ context.Context, _ driver.Config, _ *observability.SLogger) (store.Provider, error) {
		return New(), nil
	})
}

type record struct {
	token    string
	expiry   time.Time
	infinite bool
	metadata map[string]string
}

// Store implements store.Provider with a mutex-guarded map. Expiry is
// evaluated lazily against the injected clock on every operation.
type Store struct {
	mu     sync.Mutex
	leases map[string]*record
	clk    clock.Clock
}

// New creates an empty in-memory provider on the wall clock.
func New() *Store {
	return NewWithClock(clock.New())
}

// NewWithClock creates an in-memory provider on the given clock, for tests.
func NewWithClock(clk clock.Clock) *Store {
	return &Store{
		leases: make(map[string]*record),
		clk:    clk,
	}
}

func (s *Store) Backend() string { return StoreName }

func (s *Store) AttemptAcquire(_ context.Context, name string, duration time.Duration, metadata map[string]string) (*store.Acquisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	if rec, ok := s.leases[name]; ok && s.live(rec, now) {
		return nil, store.ErrConflict
	}

	rec := &record{
		token:    uuid.NewString(),
		metadata: copyMeta(metadata),
	}
	if duration == store.InfiniteDuration {
		rec.infinite = true
	} else {
		rec.expiry = now.Add(duration)
	}
	s.leases[name] = rec

	return &store.Acquisition{
		Token:    rec.token,
		Expiry:   rec.expiry,
		Metadata: copyMeta(rec.metadata),
	}, nil
}

func (s *Store) RenewIfOwned(_ context.Context, name, token string, duration time.Duration) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	rec, ok := s.leases[name]
	if !ok || !s.live(rec, now) || rec.token != token {
		return time.Time{}, store.ErrNotHeld
	}

	rec.expiry = now.Add(duration)
	return rec.expiry, nil
}

func (s *Store) ReleaseIfOwned(_ context.Context, name, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.leases[name]; ok && rec.token == token {
		delete(s.leases, name)
	}
	return nil
}

func (s *Store) ForceBreak(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.leases, name)
	return nil
}

func (s *Store) Close() {}

// Holder reports the current owner token of name, or "" when the lease is
// free. Test helper.
func (s *Store) Holder(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.leases[name]
	if !ok || !s.live(rec, s.clk.Now()) {
		return ""
	}
	return rec.token
}

func (s *Store) live(rec *record, now time.Time) bool {
	return rec.infinite || rec.expiry.After(now)
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
