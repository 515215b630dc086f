package scylladb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScyllaDBConfigValidate(t *testing.T) {
	t.Run("defaults_are_valid", func(t *testing.T) {
		assert.NoError(t, NewScyllaDBConfig().Validate())
	})

	t.Run("missing_host", func(t *testing.T) {
		cfg := NewScyllaDBConfig()
		cfg.Host = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid_port", func(t *testing.T) {
		cfg := NewScyllaDBConfig()
		cfg.Port = 0
		assert.Error(t, cfg.Validate())

		cfg.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing_keyspace", func(t *testing.T) {
		cfg := NewScyllaDBConfig()
		cfg.Keyspace = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing_table", func(t *testing.T) {
		cfg := NewScyllaDBConfig()
		cfg.Table = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("backend_name", func(t *testing.T) {
		assert.Equal(t, StoreName, NewScyllaDBConfig().Backend())
	})
}
