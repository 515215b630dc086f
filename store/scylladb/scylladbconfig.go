package scylladb

import (
	"errors"
	"fmt"
)

// ScyllaDBConfig holds ScyllaDB-specific configuration
type ScyllaDBConfig struct {
	Host        string `yaml:"host"`
	Port        int32  `yaml:"port"`
	Keyspace    string `yaml:"keyspace"`
	Table       string `yaml:"table"`
	Consistency string `yaml:"consistency"`
}

// NewScyllaDBConfig creates a new ScyllaDB configuration with default values
func NewScyllaDBConfig() *ScyllaDBConfig {
	return &ScyllaDBConfig{
		Host:        "127.0.0.1",
		Port:        9042,
		Keyspace:    "leasekeeper",
		Table:       "leases",
		Consistency: "CONSISTENCY_QUORUM",
	}
}

// Backend returns the driver name this configuration belongs to.
func (c *ScyllaDBConfig) Backend() string { return StoreName }

// Validate ensures the ScyllaDB configuration is valid
func (c *ScyllaDBConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Keyspace == "" {
		return errors.New("keyspace is required")
	}
	if c.Table == "" {
		return errors.New("table is required")
	}
	return nil
}
