package dynamodb

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avivl/leasekeeper/store"
)

func leaseItem(name, owner, version string, expiry time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: name},
		"Owner":     &types.AttributeValueMemberS{Value: owner},
		"Version":   &types.AttributeValueMemberS{Value: version},
		"ExpiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry.UnixMilli(), 10)},
	}
}

func TestAttemptAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("granted", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
			return *in.TableName == "leasekeeper" &&
				*in.ConditionExpression == "attribute_not_exists(PK) OR ExpiresAt < :now"
		})).Return(&dynamodb.PutItemOutput{}, nil)

		before := time.Now()
		acq, err := s.AttemptAcquire(ctx, "orders", 30*time.Second, map[string]string{"host": "worker-1"})
		require.NoError(t, err)

		assert.NotEmpty(t, acq.Token)
		assert.True(t, acq.Expiry.After(before.Add(29*time.Second)))
		assert.Equal(t, "worker-1", acq.Metadata["host"])
		mockClient.AssertExpectations(t)
	})

	t.Run("conflict", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("PutItem", mock.Anything, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{})

		_, err := s.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("throughput_exceeded_is_transient", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("PutItem", mock.Anything, mock.Anything).
			Return(nil, &types.ProvisionedThroughputExceededException{})

		_, err := s.AttemptAcquire(ctx, "orders", 30*time.Second, nil)
		require.Error(t, err)
		assert.True(t, store.IsTransient(err))
	})

	t.Run("infinite_unsupported", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		_, err := s.AttemptAcquire(ctx, "orders", store.InfiniteDuration, nil)
		assert.ErrorIs(t, err, store.ErrInfiniteUnsupported)
		mockClient.AssertNotCalled(t, "PutItem", mock.Anything, mock.Anything)
	})
}

func TestRenewIfOwned(t *testing.T) {
	ctx := context.Background()

	t.Run("renewed", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
			return *in.ConsistentRead
		})).Return(&dynamodb.GetItemOutput{
			Item: leaseItem("orders", "token-1", "v1", time.Now().Add(10*time.Second)),
		}, nil)
		mockClient.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			version := in.ExpressionAttributeValues[":currentVersion"].(*types.AttributeValueMemberS)
			return version.Value == "v1"
		})).Return(&dynamodb.UpdateItemOutput{}, nil)

		before := time.Now()
		expiry, err := s.RenewIfOwned(ctx, "orders", "token-1", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, expiry.After(before.Add(29*time.Second)))
		mockClient.AssertExpectations(t)
	})

	t.Run("item_missing", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("GetItem", mock.Anything, mock.Anything).
			Return(&dynamodb.GetItemOutput{Item: nil}, nil)

		_, err := s.RenewIfOwned(ctx, "orders", "token-1", 30*time.Second)
		assert.ErrorIs(t, err, store.ErrNotHeld)
		mockClient.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything)
	})

	t.Run("owner_mismatch", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{
			Item: leaseItem("orders", "other-token", "v1", time.Now().Add(10*time.Second)),
		}, nil)

		_, err := s.RenewIfOwned(ctx, "orders", "token-1", 30*time.Second)
		assert.ErrorIs(t, err, store.ErrNotHeld)
		mockClient.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything)
	})

	t.Run("version_changed_between_read_and_write", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{
			Item: leaseItem("orders", "token-1", "v1", time.Now().Add(10*time.Second)),
		}, nil)
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{})

		_, err := s.RenewIfOwned(ctx, "orders", "token-1", 30*time.Second)
		// losing the version race is definitive loss, never a retryable failure
		assert.ErrorIs(t, err, store.ErrNotHeld)
		assert.False(t, store.IsTransient(err))
	})

	t.Run("transport_error_is_transient", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("GetItem", mock.Anything, mock.Anything).
			Return(nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")})

		_, err := s.RenewIfOwned(ctx, "orders", "token-1", 30*time.Second)
		require.Error(t, err)
		assert.True(t, store.IsTransient(err))
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
		mockClient.On("DeleteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
			return in.ConditionExpression != nil && *in.ConditionExpression == "#owner = :token"
		})).Return(&dynamodb.DeleteItemOutput{}, nil)

		assert.NoError(t, s.ReleaseIfOwned(ctx, "orders", "token-1"))
		mockClient.AssertExpectations(t)
	})

	t.Run("not_owner_is_noop", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("DeleteItem", mock.Anything, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{})

		assert.NoError(t, s.ReleaseIfOwned(ctx, "orders", "stale-token"))
	})
}

func TestForceBreak(t *testing.T) {
	s, mockClient := SetupMockStore()
	mockClient.On("DeleteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
		return in.ConditionExpression == nil
	})).Return(&dynamodb.DeleteItemOutput{}, nil)

	assert.NoError(t, s.ForceBreak(context.Background(), "orders"))
	mockClient.AssertExpectations(t)
}

func TestBackstop(t *testing.T) {
	s, _ := SetupMockStore()
	now := time.Unix(1_700_000_000, 0)
	// TTL multiplier 2 doubles the lease duration
	assert.Equal(t, now.Add(time.Minute).Unix(), s.backstop(now, 30*time.Second))
}

func TestEnsureTableExists(t *testing.T) {
	ctx := context.Background()

	t.Run("table_already_exists", func(t *testing.T) {
		s, mockClient := SetupMockStore()
		mockClient.On("DescribeTable", mock.Anything, mock.Anything).
			Return(&dynamodb.DescribeTableOutput{}, nil)

		assert.NoError(t, s.ensureTableExists(ctx))
		mockClient.AssertNotCalled(t, "CreateTable", mock.Anything, mock.Anything)
	})
}
