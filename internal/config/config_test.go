package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avivl/leasekeeper/store/redis"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, `
backend:
  type: memory
`)

	loader, cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.NotNil(t, loader)

	assert.Equal(t, "memory", cfg.Backend.Type)
	assert.Nil(t, cfg.Store)
	assert.Equal(t, "leasekeeper", cfg.Observability.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.Lease.Duration)
	assert.True(t, cfg.Lease.AutoRenew)
	assert.Same(t, cfg, loader.GetCurrentConfig())
}

func TestLoadConfigRedisBackend(t *testing.T) {
	dir := writeConfig(t, `
backend:
  type: redis
redisConfig:
  host: redis.internal
  port: 6380
  keyPrefix: myapp
lease:
  duration: 1m
  renewInterval: 20s
`)

	_, cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	redisCfg, ok := cfg.Store.(*redis.RedisConfig)
	require.True(t, ok, "store config should be a *redis.RedisConfig")
	assert.Equal(t, "redis.internal", redisCfg.Host)
	assert.Equal(t, 6380, redisCfg.Port)
	assert.Equal(t, "myapp", redisCfg.KeyPrefix)

	assert.Equal(t, time.Minute, cfg.Lease.Duration)
	assert.Equal(t, 20*time.Second, cfg.Lease.RenewInterval)
}

func TestLoadConfigUnknownBackend(t *testing.T) {
	dir := writeConfig(t, `
backend:
  type: etcd
`)

	_, _, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported backend type")
}

func TestLoadConfigInvalidStoreSection(t *testing.T) {
	dir := writeConfig(t, `
backend:
  type: redis
redisConfig:
  host: ""
`)

	_, _, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestLoadConfigInvalidLeaseSection(t *testing.T) {
	dir := writeConfig(t, `
backend:
  type: memory
lease:
  duration: 30s
  autoRenew: true
  renewInterval: 40s
`)

	_, _, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lease configuration error")
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	_, cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend.Type)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("LEASEKEEPER_BACKEND", "memory")

	dir := writeConfig(t, `
backend:
  type: etcd
`)

	_, cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend.Type)
}
