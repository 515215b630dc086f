package redis

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

func cmdWithVal(val interface{}) *goredis.Cmd {
	cmd := goredis.NewCmd(context.Background())
	cmd.SetVal(val)
	return cmd
}

func cmdWithErr(err error) *goredis.Cmd {
	cmd := goredis.NewCmd(context.Background())
	cmd.SetErr(err)
	return cmd
}

func intCmd(val int64) *goredis.IntCmd {
	cmd := goredis.NewIntCmd(context.Background())
	cmd.SetVal(val)
	return cmd
}

func statusCmd(val string, err error) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(context.Background())
	cmd.SetVal(val)
	cmd.SetErr(err)
	return cmd
}

func TestNew(t *testing.T) {
	logger, _, err := observability.NewTestLogger()
	require.NoError(t, err)

	original := newRedisClientFn
	defer func() { newRedisClientFn = original }()

	t.Run("success", func(t *testing.T) {
		mockClient := new(MockRedisClient)
		mockClient.On("Ping", mock.Anything).Return(statusCmd("PONG", nil))
		newRedisClientFn = func(addr, password string, db int) redisClient {
			assert.Equal(t, "localhost:6379", addr)
			return mockClient
		}

		s, err := New(context.Background(), NewRedisConfig(), logger)
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, StoreName, s.Backend())
	})

	t.Run("connection_failure", func(t *testing.T) {
		mockClient := new(MockRedisClient)
		mockClient.On("Ping", mock.Anything).Return(statusCmd("", errors.New("connection refused")))
		newRedisClientFn = func(addr, password string, db int) redisClient { return mockClient }

		s, err := New(context.Background(), NewRedisConfig(), logger)
		assert.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("nil_config", func(t *testing.T) {
		_, err := New(context.Background(), nil, logger)
		assert.ErrorIs(t, err, ErrConfigOptionMissing)
	})

	t.Run("invalid_config", func(t *testing.T) {
		cfg := NewRedisConfig()
		cfg.Port = 0
		_, err := New(context.Background(), cfg, logger)
		assert.Error(t, err)
	})
}

func TestAttemptAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("granted", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, acquireScript, []string{"leasekeeper:orders"}, mock.Anything).
			Return(cmdWithVal(int64(1)))

		before := time.Now()
		acq, err := s.AttemptAcquire(ctx, "orders", 30*time.Second, map[string]string{"host": "worker-1"})
		require.NoError(t, err)

		assert.NotEmpty(t, acq.Token)
		assert.Equal(t, "worker-1", acq.Metadata["host"])
		// expiry is the nominal duration minus drift compensation
		assert.True(t, acq.Expiry.After(before.Add(29*time.Second)))
		assert.True(t, acq.Expiry.Before(before.Add(30*time.Second)))
		mockClient.AssertExpectations(t)
	})

	t.Run("conflict", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, acquireScript, mock.Anything, mock.Anything).
			Return(cmdWithVal(int64(0)))

		_, err := s.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("thin_validity_rolled_back", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, acquireScript, mock.Anything, mock.Anything).
			Return(cmdWithVal(int64(1)))
		mockClient.On("Eval", mock.Anything, releaseScript, mock.Anything, mock.Anything).
			Return(cmdWithVal(int64(1)))

		// drift compensation swallows a 2ms lease entirely
		_, err := s.AttemptAcquire(ctx, "orders", 2*time.Millisecond, nil)
		assert.ErrorIs(t, err, store.ErrConflict)
		mockClient.AssertExpectations(t)
	})

	t.Run("transport_error", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, acquireScript, mock.Anything, mock.Anything).
			Return(cmdWithErr(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))

		_, err := s.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
		require.Error(t, err)
		assert.True(t, store.IsTransient(err))
	})

	t.Run("infinite_unsupported", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		_, err := s.AttemptAcquire(ctx, "orders", store.InfiniteDuration, nil)
		assert.ErrorIs(t, err, store.ErrInfiniteUnsupported)
		mockClient.AssertNotCalled(t, "Eval", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRenewIfOwned(t *testing.T) {
	ctx := context.Background()

	t.Run("renewed", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, renewScript, []string{"leasekeeper:orders"}, mock.Anything).
			Return(cmdWithVal(int64(1)))

		before := time.Now()
		expiry, err := s.RenewIfOwned(ctx, "orders", "token-1", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, expiry.After(before.Add(29*time.Second)))
	})

	t.Run("not_owner", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, renewScript, mock.Anything, mock.Anything).
			Return(cmdWithVal(int64(0)))

		_, err := s.RenewIfOwned(ctx, "orders", "stale-token", 30*time.Second)
		assert.ErrorIs(t, err, store.ErrNotHeld)
	})

	t.Run("infinite_unsupported", func(t *testing.T) {
		s, _ := SetupMockStore()
		_, err := s.RenewIfOwned(ctx, "orders", "token-1", store.InfiniteDuration)
		assert.ErrorIs(t, err, store.ErrInfiniteUnsupported)
	})
}

func TestReleaseIfOwned(t *testing.T) {
	ctx := context.Background()

	t.Run("released", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, releaseScript, []string{"leasekeeper:orders"}, mock.Anything).
			Return(cmdWithVal(int64(1)))

		assert.NoError(t, s.ReleaseIfOwned(ctx, "orders", "token-1"))
	})

	t.Run("not_owner_is_noop", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, releaseScript, mock.Anything, mock.Anything).
			Return(cmdWithVal(int64(0)))

		assert.NoError(t, s.ReleaseIfOwned(ctx, "orders", "stale-token"))
	})

	t.Run("transport_error", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("Eval", mock.Anything, releaseScript, mock.Anything, mock.Anything).
			Return(cmdWithErr(&net.OpError{Op: "write", Err: errors.New("broken pipe")}))

		err := s.ReleaseIfOwned(ctx, "orders", "token-1")
		require.Error(t, err)
		assert.True(t, store.IsTransient(err))
	})
}

func TestForceBreak(t *testing.T) {
	s, mockClient := SetupMockStore()
	mockClient.On("Del", mock.Anything, []string{"leasekeeper:orders"}).Return(intCmd(1))

	assert.NoError(t, s.ForceBreak(context.Background(), "orders"))
	mockClient.AssertExpectations(t)
}

func TestDrift(t *testing.T) {
	s, _ := SetupMockStore()
	// 1% of 30s plus the 2ms floor
	assert.Equal(t, 302*time.Millisecond, s.drift(30*time.Second))
}

func TestClassify(t *testing.T) {
	s, _ := SetupMockStore()

	assert.True(t, store.IsTransient(s.classify(&net.OpError{Op: "dial", Err: errors.New("refused")})))
	assert.True(t, store.IsTransient(s.classify(context.DeadlineExceeded)))

	plain := errors.New("WRONGTYPE Operation against a key")
	assert.Equal(t, plain, s.classify(plain))
}
