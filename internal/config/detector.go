package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// rootConfig is the minimal shape read during backend detection.
type rootConfig struct {
	Backend BackendConfig `yaml:"backend"`
}

// DetectBackendType determines the backend type without loading the full
// configuration, so callers can import the right backend packages before
// calling LoadConfig. The LEASEKEEPER_BACKEND environment variable wins over
// the file.
func DetectBackendType(configPath string) (string, error) {
	if envType := os.Getenv("LEASEKEEPER_BACKEND"); envType != "" {
		return normalizeBackendType(envType), nil
	}

	configFile, err := resolveConfigFilePath(configPath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	var config rootConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return "", fmt.Errorf("invalid configuration file: %w", err)
	}

	if config.Backend.Type == "" {
		return "", fmt.Errorf("backend type not specified in config")
	}

	return normalizeBackendType(config.Backend.Type), nil
}

// backendFromEnvOr prefers the LEASEKEEPER_BACKEND environment variable over
// the given fallback.
func backendFromEnvOr(fallback string) string {
	if envType := os.Getenv("LEASEKEEPER_BACKEND"); envType != "" {
		return envType
	}
	return fallback
}

// normalizeBackendType folds common aliases into registered backend names.
func normalizeBackendType(backendType string) string {
	switch strings.ToLower(strings.TrimSpace(backendType)) {
	case "dynamo", "dynamodb":
		return "dynamodb"
	case "scylla", "scylladb", "cassandra":
		return "scylladb"
	case "azure", "blob", "azureblob":
		return "azureblob"
	default:
		return strings.ToLower(strings.TrimSpace(backendType))
	}
}

// resolveConfigFilePath resolves a path that may point at either the config
// file itself or a directory containing one.
func resolveConfigFilePath(configPath string) (string, error) {
	if configPath == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}

	fileInfo, err := os.Stat(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("configuration file not found at %s", configPath)
		}
		return "", err
	}

	if !fileInfo.IsDir() {
		return configPath, nil
	}

	candidates := []string{
		filepath.Join(configPath, "config.yaml"),
		filepath.Join(configPath, "config.yml"),
		filepath.Join(configPath, "leasekeeper.yaml"),
		filepath.Join(configPath, "leasekeeper.yml"),
	}
	for _, candidate := range candidates {
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no config file found in directory %s", configPath)
}
