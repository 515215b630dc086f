package redis

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`

	// DriftFactor is the fraction of the lease duration shaved off the
	// reported expiry to tolerate clock disagreement with the server.
	// Zero selects the default of 0.01.
	DriftFactor float64 `yaml:"driftFactor"`

	// MinValidity is the minimum remaining validity a fresh acquisition
	// must have after drift compensation; thinner acquisitions are released
	// and reported as contention. Zero selects 1/10 of the lease duration.
	MinValidity time.Duration `yaml:"minValidity"`
}

// NewRedisConfig creates a new Redis configuration with default values
func NewRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:      "localhost",
		Port:      6379,
		Password:  "",
		DB:        0,
		KeyPrefix: "leasekeeper",
	}
}

// Backend returns the driver name this configuration belongs to.
func (c *RedisConfig) Backend() string { return StoreName }

// Validate ensures the Redis configuration is valid
func (c *RedisConfig) Validate() error {
	var errs []string

	if c.Host == "" {
		errs = append(errs, "host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.DB < 0 {
		errs = append(errs, "DB number must be non-negative")
	}

	if c.DriftFactor < 0 || c.DriftFactor >= 1 {
		errs = append(errs, "drift factor must be in [0, 1)")
	}

	if c.MinValidity < 0 {
		errs = append(errs, "minimum validity must be non-negative")
	}

	if len(errs) > 0 {
		return errors.New("store validation failed: " + strings.Join(errs, "; "))
	}

	return nil
}

// String returns a string representation of the Redis configuration
func (c *RedisConfig) String() string {
	return fmt.Sprintf(
		"RedisConfig{Host: %s, Port: %d, DB: %d, KeyPrefix: %s, DriftFactor: %.3f}",
		c.Host,
		c.Port,
		c.DB,
		c.KeyPrefix,
		c.DriftFactor,
	)
}

// Clone creates a deep copy of the Redis configuration
func (c *RedisConfig) Clone() *RedisConfig {
	clone := *c
	return &clone
}
