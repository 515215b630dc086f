package store

// ProviderConfig is the minimal surface shared by every backend
// configuration. Connection parameters stay backend-specific and opaque to
// the core.
type ProviderConfig interface {
	// Validate checks the configuration and returns an error describing the
	// first invalid field.
	Validate() error

	// Backend returns the driver name this configuration belongs to.
	Backend() string
}
