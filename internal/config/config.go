// Package config loads the application configuration from a YAML file with
// environment variable overrides, and watches the file for changes.
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/avivl/leasekeeper/lease"
	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

// GlobalConfig represents the complete application configuration.
type GlobalConfig struct {
	Backend       BackendConfig              `yaml:"backend"`
	Lease         lease.Config               `yaml:"lease"`
	Logger        observability.LoggerConfig `yaml:"logger"`
	Observability observability.Config       `yaml:"observability"`

	// Store holds the configuration of the selected backend, decoded by the
	// loader registered for Backend.Type.
	Store store.ProviderConfig `yaml:"-"`
}

// BackendConfig selects the provider backend by registered name.
type BackendConfig struct {
	Type string `yaml:"type"`
}

// ConfigLoader loads configuration and notifies watchers on file changes.
type ConfigLoader struct {
	v             *viper.Viper
	mu            sync.RWMutex
	watchers      []func(*GlobalConfig)
	currentConfig *GlobalConfig
	lastError     error
}

// NewConfigLoader creates a loader reading config.yaml from configPath, the
// working directory, and LEASEKEEPER_* environment variables.
func NewConfigLoader(configPath string) *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEASEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{v: v}
}

// AddWatcher adds a callback invoked whenever the configuration is reloaded.
func (cl *ConfigLoader) AddWatcher(callback func(*GlobalConfig)) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.watchers = append(cl.watchers, callback)
}

// GetCurrentConfig returns the most recently loaded configuration.
func (cl *ConfigLoader) GetCurrentConfig() *GlobalConfig {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.currentConfig
}

// GetLastError returns the last error encountered while reloading.
func (cl *ConfigLoader) GetLastError() error {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.lastError
}

func (cl *ConfigLoader) notifyWatchers(newConfig *GlobalConfig) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	for _, watcher := range cl.watchers {
		watcher(newConfig)
	}
}

// LoadConfig loads the full configuration from configPath. The backend type
// comes from the backend.type key (or LEASEKEEPER_BACKEND), and the matching
// store loader decodes that backend's section. The file is watched and
// registered watchers are notified on every successful reload.
func LoadConfig(configPath string) (*ConfigLoader, *GlobalConfig, error) {
	cl := NewConfigLoader(configPath)
	setDefaults(cl.v)

	if err := cl.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config, err := loadConfiguration(cl.v)
	if err != nil {
		return nil, nil, err
	}

	cl.mu.Lock()
	cl.currentConfig = config
	cl.mu.Unlock()

	cl.v.WatchConfig()
	cl.v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := loadConfiguration(cl.v)
		if err != nil {
			cl.mu.Lock()
			cl.lastError = fmt.Errorf("reloading %s: %w", e.Name, err)
			cl.mu.Unlock()
			return
		}

		cl.mu.Lock()
		cl.currentConfig = newConfig
		cl.lastError = nil
		cl.mu.Unlock()

		cl.notifyWatchers(newConfig)
	})

	return cl, config, nil
}

func loadConfiguration(v *viper.Viper) (*GlobalConfig, error) {
	config := &GlobalConfig{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode global config: %w", err)
	}

	backend := normalizeBackendType(backendFromEnvOr(v.GetString("backend.type")))
	config.Backend.Type = backend

	loadFn, ok := storeLoaders[backend]
	if !ok {
		return nil, fmt.Errorf("unsupported backend type %q", backend)
	}

	storeConfig, err := loadFn(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s config: %w", backend, err)
	}
	config.Store = storeConfig

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func validateConfig(cfg *GlobalConfig) error {
	if cfg.Store != nil {
		if err := cfg.Store.Validate(); err != nil {
			return fmt.Errorf("store configuration error: %w", err)
		}
	}

	if err := cfg.Lease.Validate(); err != nil {
		return fmt.Errorf("lease configuration error: %w", err)
	}

	if cfg.Observability.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.Observability.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}
	if cfg.Observability.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if cfg.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.type", "memory")

	v.SetDefault("observability.serviceName", "leasekeeper")
	v.SetDefault("observability.serviceVersion", "0.1.0")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.otelEndpoint", "localhost:4317")

	v.SetDefault("logger.level", "info")

	def := lease.DefaultConfig()
	v.SetDefault("lease.duration", def.Duration)
	v.SetDefault("lease.autoRenew", def.AutoRenew)
	v.SetDefault("lease.renewInterval", def.RenewInterval)
	v.SetDefault("lease.safetyThreshold", def.SafetyThreshold)
	v.SetDefault("lease.retryInterval", def.RetryInterval)
	v.SetDefault("lease.maxRetries", def.MaxRetries)
	v.SetDefault("lease.acquireTimeout", def.AcquireTimeout)
	v.SetDefault("lease.pollInterval", def.PollInterval)
}
