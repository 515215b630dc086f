package dynamodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDynamoDBConfigValidate(t *testing.T) {
	t.Run("defaults_are_valid", func(t *testing.T) {
		assert.NoError(t, NewDynamoDBConfig().Validate())
	})

	t.Run("missing_region", func(t *testing.T) {
		cfg := NewDynamoDBConfig()
		cfg.Region = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing_table", func(t *testing.T) {
		cfg := NewDynamoDBConfig()
		cfg.Table = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("ttl_multiplier_below_one", func(t *testing.T) {
		cfg := NewDynamoDBConfig()
		cfg.TTLMultiplier = 0.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("partial_credentials", func(t *testing.T) {
		cfg := NewDynamoDBConfig()
		cfg.AccessKeyID = "AKIA123"
		assert.Error(t, cfg.Validate())

		cfg = NewDynamoDBConfig()
		cfg.SecretAccessKey = "secret"
		assert.Error(t, cfg.Validate())

		cfg = NewDynamoDBConfig()
		cfg.AccessKeyID = "AKIA123"
		cfg.SecretAccessKey = "secret"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("backend_name", func(t *testing.T) {
		assert.Equal(t, StoreName, NewDynamoDBConfig().Backend())
	})
}
