package dynamodb

import (
	"errors"
)

// DynamoDBConfig holds DynamoDB-specific configuration. The TTL backstop
// multiplier controls how far past the nominal expiry the item survives
// before DynamoDB purges it automatically.
type DynamoDBConfig struct {
	Region          string   `yaml:"region"`
	Table           string   `yaml:"table"`
	Endpoints       []string `yaml:"endpoints"`
	Profile         string   `yaml:"profile,omitempty"`
	AccessKeyID     string   `yaml:"accessKeyId,omitempty"`
	SecretAccessKey string   `yaml:"secretAccessKey,omitempty"`

	// AutoCreateTable provisions the lease table (with TTL enabled) when it
	// does not exist yet.
	AutoCreateTable bool `yaml:"autoCreateTable"`

	// TTLMultiplier scales the lease duration into the item's TTL backstop.
	// Zero selects the default of 2.
	TTLMultiplier float64 `yaml:"ttlMultiplier"`
}

// NewDynamoDBConfig creates a new DynamoDB configuration with default values
func NewDynamoDBConfig() *DynamoDBConfig {
	return &DynamoDBConfig{
		Region:          "us-west-2",
		Table:           "leasekeeper",
		AutoCreateTable: true,
		TTLMultiplier:   2,
	}
}

// Backend returns the driver name this configuration belongs to.
func (c *DynamoDBConfig) Backend() string { return StoreName }

// Validate ensures the DynamoDB configuration is valid
func (c *DynamoDBConfig) Validate() error {
	if c.Region == "" {
		return errors.New("region is required")
	}
	if c.Table == "" {
		return errors.New("table is required")
	}
	if c.TTLMultiplier < 0 || (c.TTLMultiplier > 0 && c.TTLMultiplier < 1) {
		return errors.New("TTL multiplier must be at least 1")
	}
	// Check if credentials are provided consistently
	if (c.AccessKeyID != "" && c.SecretAccessKey == "") ||
		(c.AccessKeyID == "" && c.SecretAccessKey != "") {
		return errors.New("both access key and secret key must be provided together")
	}
	return nil
}
