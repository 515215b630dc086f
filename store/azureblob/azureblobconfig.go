package azureblob

import (
	"errors"
)

// AzureBlobConfig holds the blob storage connection settings. Either a
// connection string or an account URL (resolved through the default Azure
// credential chain) must be provided.
type AzureBlobConfig struct {
	ConnectionString string `yaml:"connectionString,omitempty"`
	AccountURL       string `yaml:"accountUrl,omitempty"`
	Container        string `yaml:"container"`
	BlobPrefix       string `yaml:"blobPrefix"`

	// CreateContainer provisions the container on startup when missing.
	CreateContainer bool `yaml:"createContainer"`

	// CreateBlobOnAcquire lazily creates the zero-byte lease blob the first
	// time a name is acquired.
	CreateBlobOnAcquire bool `yaml:"createBlobOnAcquire"`
}

// NewAzureBlobConfig creates a new blob storage configuration with default values
func NewAzureBlobConfig() *AzureBlobConfig {
	return &AzureBlobConfig{
		Container:           "leasekeeper",
		CreateContainer:     true,
		CreateBlobOnAcquire: true,
	}
}

// Backend returns the driver name this configuration belongs to.
func (c *AzureBlobConfig) Backend() string { return StoreName }

// Validate ensures the blob storage configuration is valid
func (c *AzureBlobConfig) Validate() error {
	if c.ConnectionString == "" && c.AccountURL == "" {
		return errors.New("either a connection string or an account URL is required")
	}
	if c.ConnectionString != "" && c.AccountURL != "" {
		return errors.New("connection string and account URL are mutually exclusive")
	}
	if c.Container == "" {
		return errors.New("container is required")
	}
	return nil
}
