package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/avivl/leasekeeper/store"
	"github.com/avivl/leasekeeper/store/azureblob"
	"github.com/avivl/leasekeeper/store/dynamodb"
	"github.com/avivl/leasekeeper/store/redis"
	"github.com/avivl/leasekeeper/store/scylladb"
)

// StoreLoadFn decodes one backend's configuration section.
type StoreLoadFn func(*viper.Viper) (store.ProviderConfig, error)

// storeLoaders maps backend names to their section loaders. The memory
// backend takes no configuration, so its loader returns nil.
var storeLoaders = map[string]StoreLoadFn{
	"memory":    func(*viper.Viper) (store.ProviderConfig, error) { return nil, nil },
	"redis":     RedisConfigLoader,
	"dynamodb":  DynamoConfigLoader,
	"scylladb":  ScyllaConfigLoader,
	"azureblob": AzureBlobConfigLoader,
}

// RedisConfigLoader loads the redisConfig section.
func RedisConfigLoader(v *viper.Viper) (store.ProviderConfig, error) {
	v.SetDefault("redisConfig.host", "localhost")
	v.SetDefault("redisConfig.port", 6379)
	v.SetDefault("redisConfig.db", 0)
	v.SetDefault("redisConfig.keyPrefix", "leasekeeper")

	config := redis.NewRedisConfig()
	if err := v.UnmarshalKey("redisConfig", config); err != nil {
		return nil, fmt.Errorf("unable to decode Redis config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Redis configuration: %w", err)
	}
	return config, nil
}

// DynamoConfigLoader loads the dynamoDbConfig section.
func DynamoConfigLoader(v *viper.Viper) (store.ProviderConfig, error) {
	v.SetDefault("dynamoDbConfig.region", "us-west-2")
	v.SetDefault("dynamoDbConfig.table", "leasekeeper")
	v.SetDefault("dynamoDbConfig.autoCreateTable", true)
	v.SetDefault("dynamoDbConfig.ttlMultiplier", 2)

	config := dynamodb.NewDynamoDBConfig()
	if err := v.UnmarshalKey("dynamoDbConfig", config); err != nil {
		return nil, fmt.Errorf("unable to decode DynamoDB config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid DynamoDB configuration: %w", err)
	}
	return config, nil
}

// ScyllaConfigLoader loads the scyllaDbConfig section.
func ScyllaConfigLoader(v *viper.Viper) (store.ProviderConfig, error) {
	v.SetDefault("scyllaDbConfig.host", "127.0.0.1")
	v.SetDefault("scyllaDbConfig.port", 9042)
	v.SetDefault("scyllaDbConfig.keyspace", "leasekeeper")
	v.SetDefault("scyllaDbConfig.table", "leases")
	v.SetDefault("scyllaDbConfig.consistency", "CONSISTENCY_QUORUM")

	config := scylladb.NewScyllaDBConfig()
	if err := v.UnmarshalKey("scyllaDbConfig", config); err != nil {
		return nil, fmt.Errorf("unable to decode ScyllaDB config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ScyllaDB configuration: %w", err)
	}
	return config, nil
}

// AzureBlobConfigLoader loads the azureBlobConfig section.
func AzureBlobConfigLoader(v *viper.Viper) (store.ProviderConfig, error) {
	v.SetDefault("azureBlobConfig.container", "leasekeeper")
	v.SetDefault("azureBlobConfig.createContainer", true)
	v.SetDefault("azureBlobConfig.createBlobOnAcquire", true)

	config := azureblob.NewAzureBlobConfig()
	if err := v.UnmarshalKey("azureBlobConfig", config); err != nil {
		return nil, fmt.Errorf("unable to decode blob storage config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid blob storage configuration: %w", err)
	}
	return config, nil
}
