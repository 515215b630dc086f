// Package dynamodb realizes the provider contract on an
// optimistic-concurrency document: a conditional create wins acquisition, a
// conditional update keyed on the item's version tag extends it, and a TTL
// attribute purges abandoned leases without an explicit release.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/avivl/leasekeeper/driver"
	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

// StoreName is the registered name of the DynamoDB store
const StoreName = "dynamodb"

func init() {
	driver.Register(StoreName, newStore)
}

func newStore(ctx context.Context, options driver.Config, logger *observability.SLogger) (store.Provider, error) {
	cfg, ok := options.(*DynamoDBConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Backend: StoreName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// dynamoDBClient is the slice of the DynamoDB API the store uses.
// It allows for easier mocking in tests.
type dynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// Store implements the store.Provider interface for DynamoDB
type Store struct {
	client        dynamoDBClient
	tableName     string
	ttlMultiplier float64
	logger        *observability.SLogger
	config        *DynamoDBConfig
}

// New creates a new DynamoDB store
func New(ctx context.Context, config *DynamoDBConfig, logger *observability.SLogger) (*Store, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	var clientOpts []func(*awsconfig.LoadOptions) error

	// Use custom endpoint if provided
	if len(config.Endpoints) > 0 {
		clientOpts = append(clientOpts, awsconfig.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: config.Endpoints[0]}, nil
				},
			),
		))
	}

	// Use static credentials if provided
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		clientOpts = append(clientOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	clientOpts = append(clientOpts, awsconfig.WithRegion(config.Region))

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, clientOpts...)
	if err != nil {
		logger.Errorf("Failed to load AWS config: %v", err)
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s := &Store{
		client:        dynamodb.NewFromConfig(awsConfig),
		tableName:     config.Table,
		ttlMultiplier: config.TTLMultiplier,
		logger:        logger,
		config:        config,
	}
	if s.ttlMultiplier == 0 {
		s.ttlMultiplier = 2
	}

	if config.AutoCreateTable {
		if err := s.ensureTableExists(ctx); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Backend returns the registered backend name.
func (s *Store) Backend() string { return StoreName }

// GetConfig returns the current store configuration
func (s *Store) GetConfig() store.ProviderConfig { return s.config }

// ensureTableExists checks if the DynamoDB table exists and creates it
// (with the TTL backstop enabled) if it doesn't.
func (s *Store) ensureTableExists(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})

	if err == nil {
		// Table exists
		return nil
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("PK"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("PK"),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})

	if err != nil {
		s.logger.Errorf("Failed to create table: %v", err)
		return fmt.Errorf("failed to create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	}, 5*time.Minute); err != nil {
		s.logger.Errorf("Failed to wait for table creation: %v", err)
		return fmt.Errorf("failed to wait for table creation: %w", err)
	}

	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(s.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String("TTL"),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		s.logger.Errorf("Failed to enable TTL: %v", err)
		return fmt.Errorf("failed to enable TTL: %w", err)
	}

	return nil
}

// AttemptAcquire performs a conditional create: the put succeeds only when
// no unexpired item exists under the name.
func (s *Store) AttemptAcquire(ctx context.Context, name string, duration time.Duration, metadata map[string]string) (*store.Acquisition, error) {
	if duration == store.InfiniteDuration {
		return nil, store.ErrInfiniteUnsupported
	}

	token := uuid.NewString()
	version := uuid.NewString()
	now := time.Now()
	expiry := now.Add(duration)

	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: name},
		"Owner":     &types.AttributeValueMemberS{Value: token},
		"Version":   &types.AttributeValueMemberS{Value: version},
		"ExpiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry.UnixMilli(), 10)},
		"TTL":       &types.AttributeValueMemberN{Value: strconv.FormatInt(s.backstop(now, duration), 10)},
	}
	if len(metadata) > 0 {
		meta := make(map[string]types.AttributeValue, len(metadata))
		for k, v := range metadata {
			meta[k] = &types.AttributeValueMemberS{Value: v}
		}
		item["Meta"] = &types.AttributeValueMemberM{Value: meta}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, store.ErrConflict
		}
		return nil, s.classify(err)
	}

	return &store.Acquisition{
		Token:    token,
		Expiry:   expiry,
		Metadata: metadata,
	}, nil
}

// RenewIfOwned reads the item, verifies the owner token, and writes the new
// expiry through a conditional update keyed on the item's current version
// tag. A version mismatch means someone else took over; that is loss, never
// a transient failure.
func (s *Store) RenewIfOwned(ctx context.Context, name, token string, duration time.Duration) (time.Time, error) {
	if duration == store.InfiniteDuration {
		return time.Time{}, store.ErrInfiniteUnsupported
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return time.Time{}, s.classify(err)
	}
	if out.Item == nil {
		return time.Time{}, store.ErrNotHeld
	}

	owner, ok := stringAttr(out.Item, "Owner")
	if !ok || owner != token {
		return time.Time{}, store.ErrNotHeld
	}
	currentVersion, ok := stringAttr(out.Item, "Version")
	if !ok {
		return time.Time{}, store.ErrNotHeld
	}

	now := time.Now()
	expiry := now.Add(duration)

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression:    aws.String("SET ExpiresAt = :expiry, Version = :newVersion, #ttl = :ttl"),
		ConditionExpression: aws.String("#owner = :token AND Version = :currentVersion"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
			"#ttl":   "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expiry":         &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry.UnixMilli(), 10)},
			":newVersion":     &types.AttributeValueMemberS{Value: uuid.NewString()},
			":ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(s.backstop(now, duration), 10)},
			":token":          &types.AttributeValueMemberS{Value: token},
			":currentVersion": &types.AttributeValueMemberS{Value: currentVersion},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return time.Time{}, store.ErrNotHeld
		}
		return time.Time{}, s.classify(err)
	}

	return expiry, nil
}

// ReleaseIfOwned deletes the item if token still owns it; anything else is
// a no-op.
func (s *Store) ReleaseIfOwned(ctx context.Context, name, token string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("#owner = :token"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// already gone, or owned by someone else
			return nil
		}
		return s.classify(err)
	}
	return nil
}

// ForceBreak deletes the item without any ownership check.
func (s *Store) ForceBreak(ctx context.Context, name string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return s.classify(err)
	}
	return nil
}

// Close closes the DynamoDB client
func (s *Store) Close() {
	// DynamoDB client doesn't need explicit closing
}

// backstop computes the TTL attribute purging the item well after the lease
// would have lapsed, in epoch seconds as DynamoDB requires.
func (s *Store) backstop(now time.Time, duration time.Duration) int64 {
	return now.Add(time.Duration(s.ttlMultiplier * float64(duration))).Unix()
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	attr, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return attr.Value, true
}

// classify maps native errors into the shared taxonomy.
func (s *Store) classify(err error) error {
	var (
		throughput *types.ProvisionedThroughputExceededException
		internal   *types.InternalServerError
		limit      *types.RequestLimitExceeded
		netErr     net.Error
	)
	switch {
	case errors.As(err, &throughput),
		errors.As(err, &internal),
		errors.As(err, &limit),
		errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded):
		return store.Unavailable(StoreName, err)
	default:
		return err
	}
}
