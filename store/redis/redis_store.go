// Package redis realizes the provider contract on an atomic key-value
// cache. Acquisition is a single conditional write; renewal and release are
// check-then-act sequences evaluated atomically server-side, so the key can
// never expire and be re-acquired between the check and the act.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/avivl/leasekeeper/driver"
	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

// Error definitions
var (
	ErrConfigOptionMissing = errors.New("Redis requires a config option")
)

// StoreName is the registered name of the Redis store
const StoreName = "redis"

// Drift compensation floor, borrowed from the published constants of
// quorum-style cache locking: nominal duration * factor + floor.
const (
	defaultDriftFactor = 0.01
	driftFloor         = 2 * time.Millisecond
)

// Check-then-act scripts. Each verifies the stored owner token before
// touching the key, in one atomic server-side evaluation.
const (
	acquireScript = `if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "owner", ARGV[1], "meta", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1`

	renewScript = `if redis.call("HGET", KEYS[1], "owner") == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0`

	releaseScript = `if redis.call("HGET", KEYS[1], "owner") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
)

// redisClient defines the interface for Redis operations
// This allows for easier mocking in tests
type redisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Factory function for creating Redis clients
// Can be replaced during tests for mocking
var newRedisClientFn = func(addr string, password string, db int) redisClient {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Register the Redis store with the driver registry
func init() {
	driver.Register(StoreName, newStore)
}

// newStore creates a new Redis store instance from configuration
func newStore(ctx context.Context, options driver.Config, logger *observability.SLogger) (store.Provider, error) {
	cfg, ok := options.(*RedisConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Backend: StoreName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// Store implements the store.Provider interface for Redis
type Store struct {
	client      redisClient
	l           *observability.SLogger
	keyPrefix   string
	driftFactor float64
	minValidity time.Duration
	config      *RedisConfig
}

// New creates a new Redis store with the provided configuration
func New(ctx context.Context, config *RedisConfig, logger *observability.SLogger) (*Store, error) {
	if config == nil {
		return nil, ErrConfigOptionMissing
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	client := newRedisClientFn(addr, config.Password, config.DB)

	// Test connection
	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Errorf("Error connecting to Redis: %v", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	driftFactor := config.DriftFactor
	if driftFactor == 0 {
		driftFactor = defaultDriftFactor
	}

	return &Store{
		client:      client,
		l:           logger,
		keyPrefix:   config.KeyPrefix,
		driftFactor: driftFactor,
		minValidity: config.MinValidity,
		config:      config,
	}, nil
}

// Backend returns the registered backend name.
func (s *Store) Backend() string { return StoreName }

// GetConfig returns the current store configuration
func (s *Store) GetConfig() store.ProviderConfig { return s.config }

// leaseKey generates a consistent key for a lease name
func (s *Store) leaseKey(name string) string {
	return fmt.Sprintf("%s:%s", s.keyPrefix, name)
}

// drift is the slice of the nominal duration sacrificed to clock
// disagreement between this client and the server.
func (s *Store) drift(duration time.Duration) time.Duration {
	return time.Duration(float64(duration)*s.driftFactor) + driftFloor
}

// AttemptAcquire takes the lease with one atomic conditional write. The
// reported expiry is reduced by the drift compensation, and acquisitions
// whose remaining validity is already too thin are rolled back and reported
// as contention.
func (s *Store) AttemptAcquire(ctx context.Context, name string, duration time.Duration, metadata map[string]string) (*store.Acquisition, error) {
	if duration == store.InfiniteDuration {
		return nil, store.ErrInfiniteUnsupported
	}

	key := s.leaseKey(name)
	token := uuid.NewString()

	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding lease metadata: %w", err)
	}

	start := time.Now()
	granted, err := s.client.Eval(ctx, acquireScript, []string{key}, token, string(meta), duration.Milliseconds()).Int64()
	if err != nil {
		return nil, s.classify(err)
	}
	if granted == 0 {
		return nil, store.ErrConflict
	}

	expiry := start.Add(duration - s.drift(duration))
	if validity := time.Until(expiry); validity < s.resolveMinValidity(duration) {
		// too little of the lease is left to be useful; give it back
		if _, err := s.client.Eval(ctx, releaseScript, []string{key}, token).Result(); err != nil {
			s.l.Errorf("Error rolling back thin acquisition: %v", err)
		}
		return nil, store.ErrConflict
	}

	return &store.Acquisition{
		Token:    token,
		Expiry:   expiry,
		Metadata: metadata,
	}, nil
}

// RenewIfOwned extends the lease TTL after the script verified the stored
// owner token matches.
func (s *Store) RenewIfOwned(ctx context.Context, name, token string, duration time.Duration) (time.Time, error) {
	if duration == store.InfiniteDuration {
		return time.Time{}, store.ErrInfiniteUnsupported
	}

	key := s.leaseKey(name)

	start := time.Now()
	renewed, err := s.client.Eval(ctx, renewScript, []string{key}, token, duration.Milliseconds()).Int64()
	if err != nil {
		return time.Time{}, s.classify(err)
	}
	if renewed == 0 {
		return time.Time{}, store.ErrNotHeld
	}

	return start.Add(duration - s.drift(duration)), nil
}

// ReleaseIfOwned deletes the key if token still owns it. A missing key or a
// different owner is a no-op.
func (s *Store) ReleaseIfOwned(ctx context.Context, name, token string) error {
	key := s.leaseKey(name)

	if _, err := s.client.Eval(ctx, releaseScript, []string{key}, token).Result(); err != nil {
		return s.classify(err)
	}
	return nil
}

// ForceBreak deletes the key unconditionally.
func (s *Store) ForceBreak(ctx context.Context, name string) error {
	if _, err := s.client.Del(ctx, s.leaseKey(name)).Result(); err != nil {
		return s.classify(err)
	}
	return nil
}

// Close closes the Redis client connection
func (s *Store) Close() {
	if err := s.client.Close(); err != nil {
		s.l.Errorf("Error closing Redis connection: %v", err)
	}
}

func (s *Store) resolveMinValidity(duration time.Duration) time.Duration {
	if s.minValidity > 0 {
		return s.minValidity
	}
	return duration / 10
}

// classify maps native errors into the shared taxonomy: transport failures
// become UnavailableError, everything else surfaces as-is.
func (s *Store) classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return store.Unavailable(StoreName, err)
	}
	return err
}
