package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"

	"github.com/avivl/leasekeeper/observability"
)

// MockRedisClient is a mock for the Redis client
type MockRedisClient struct {
	mock.Mock
}

// Eval mocks the Eval method
func (m *MockRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	callArgs := m.Called(ctx, script, keys, args)
	return callArgs.Get(0).(*redis.Cmd)
}

// Del mocks the Del method
func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

// Ping mocks the Ping method
func (m *MockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

// Close mocks the Close method
func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// SetupMockStore creates a Store wired to a fresh MockRedisClient,
// bypassing the connection check in New.
func SetupMockStore() (*Store, *MockRedisClient) {
	mockClient := new(MockRedisClient)
	cfg := NewRedisConfig()
	s := &Store{
		client:      mockClient,
		l:           observability.NewNopLogger(),
		keyPrefix:   cfg.KeyPrefix,
		driftFactor: defaultDriftFactor,
		config:      cfg,
	}
	return s, mockClient
}
