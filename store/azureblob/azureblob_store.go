// Package azureblob realizes the provider contract on the native per-blob
// lease of Azure Blob Storage. Atomicity is the store's own: a conflicting
// acquire fails with LeaseAlreadyPresent, and renew/release fail
// distinguishably once the lease id no longer matches current ownership.
package azureblob

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"
	"github.com/google/uuid"

	"github.com/avivl/leasekeeper/driver"
	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
)

// StoreName is the registered name of the blob storage store
const StoreName = "azureblob"

// Blob leases are only valid between 15 and 60 seconds, or infinite.
const (
	minLeaseDuration = 15 * time.Second
	maxLeaseDuration = 60 * time.Second
)

func init() {
	driver.Register(StoreName, newStore)
}

func newStore(ctx context.Context, options driver.Config, logger *observability.SLogger) (store.Provider, error) {
	cfg, ok := options.(*AzureBlobConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Backend: StoreName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// Store implements the store.Provider interface on a blob container.
type Store struct {
	containerClient *container.Client
	blobPrefix      string
	createBlob      bool
	logger          *observability.SLogger
	config          *AzureBlobConfig
}

// New creates a new blob storage provider.
func New(ctx context.Context, config *AzureBlobConfig, logger *observability.SLogger) (*Store, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		client *azblob.Client
		err    error
	)
	if config.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(config.ConnectionString, nil)
	} else {
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(config.AccountURL, cred, nil)
		}
	}
	if err != nil {
		logger.Errorf("Error creating blob storage client: %v", err)
		return nil, fmt.Errorf("failed to create blob storage client: %w", err)
	}

	s := &Store{
		containerClient: client.ServiceClient().NewContainerClient(config.Container),
		blobPrefix:      config.BlobPrefix,
		createBlob:      config.CreateBlobOnAcquire,
		logger:          logger,
		config:          config,
	}

	if config.CreateContainer {
		if _, err := s.containerClient.Create(ctx, nil); err != nil &&
			!bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			logger.Errorf("Error creating container: %v", err)
			return nil, fmt.Errorf("failed to create container %q: %w", config.Container, err)
		}
	}

	return s, nil
}

// Backend returns the registered backend name.
func (s *Store) Backend() string { return StoreName }

// GetConfig returns the current store configuration
func (s *Store) GetConfig() store.ProviderConfig { return s.config }

func (s *Store) blobName(name string) string {
	if s.blobPrefix == "" {
		return name
	}
	return s.blobPrefix + "/" + name
}

func (s *Store) blobClient(name string) *blockblob.Client {
	return s.containerClient.NewBlockBlobClient(s.blobName(name))
}

// AttemptAcquire takes the native lease on the blob backing name, creating
// the blob first when it does not exist yet and lazy creation is enabled.
func (s *Store) AttemptAcquire(ctx context.Context, name string, duration time.Duration, metadata map[string]string) (*store.Acquisition, error) {
	secs, err := leaseSeconds(duration)
	if err != nil {
		return nil, err
	}

	blobClient := s.blobClient(name)
	proposed := uuid.NewString()
	leaseClient, err := lease.NewBlobClient(blobClient, &lease.BlobClientOptions{LeaseID: to.Ptr(proposed)})
	if err != nil {
		return nil, fmt.Errorf("creating lease client: %w", err)
	}

	now := time.Now()
	resp, err := leaseClient.AcquireLease(ctx, secs, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) && s.createBlob {
		if err := s.ensureBlob(ctx, blobClient, metadata); err != nil {
			return nil, err
		}
		now = time.Now()
		resp, err = leaseClient.AcquireLease(ctx, secs, nil)
	}
	if err != nil {
		if bloberror.HasCode(err, bloberror.LeaseAlreadyPresent) {
			return nil, store.ErrConflict
		}
		return nil, s.classify(err)
	}

	token := proposed
	if resp.LeaseID != nil {
		token = *resp.LeaseID
	}

	acq := &store.Acquisition{Token: token, Metadata: metadata}
	if duration != store.InfiniteDuration {
		acq.Expiry = now.Add(duration)
	}
	return acq, nil
}

// ensureBlob uploads the zero-byte lease blob, failing only if the blob is
// neither created by us nor already there.
func (s *Store) ensureBlob(ctx context.Context, blobClient *blockblob.Client, metadata map[string]string) error {
	opts := &blockblob.UploadOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETag("*")),
			},
		},
	}
	if len(metadata) > 0 {
		meta := make(map[string]*string, len(metadata))
		for k, v := range metadata {
			meta[k] = to.Ptr(v)
		}
		opts.Metadata = meta
	}

	_, err := blobClient.Upload(ctx, streaming.NopCloser(strings.NewReader("")), opts)
	if err != nil &&
		!bloberror.HasCode(err, bloberror.BlobAlreadyExists) &&
		!bloberror.HasCode(err, bloberror.ConditionNotMet) {
		return s.classify(err)
	}
	return nil
}

// RenewIfOwned renews the native lease. The service keeps the duration
// fixed at acquisition time; the reported expiry reflects it.
func (s *Store) RenewIfOwned(ctx context.Context, name, token string, duration time.Duration) (time.Time, error) {
	leaseClient, err := lease.NewBlobClient(s.blobClient(name), &lease.BlobClientOptions{LeaseID: to.Ptr(token)})
	if err != nil {
		return time.Time{}, fmt.Errorf("creating lease client: %w", err)
	}

	now := time.Now()
	if _, err := leaseClient.RenewLease(ctx, nil); err != nil {
		if isOwnershipGone(err) {
			return time.Time{}, store.ErrNotHeld
		}
		return time.Time{}, s.classify(err)
	}

	if duration == store.InfiniteDuration {
		return time.Time{}, nil
	}
	return now.Add(duration), nil
}

// ReleaseIfOwned releases the native lease; a lease that is already gone,
// or held under another id, is a no-op.
func (s *Store) ReleaseIfOwned(ctx context.Context, name, token string) error {
	leaseClient, err := lease.NewBlobClient(s.blobClient(name), &lease.BlobClientOptions{LeaseID: to.Ptr(token)})
	if err != nil {
		return fmt.Errorf("creating lease client: %w", err)
	}

	if _, err := leaseClient.ReleaseLease(ctx, nil); err != nil {
		if isOwnershipGone(err) || bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return s.classify(err)
	}
	return nil
}

// ForceBreak breaks the lease immediately regardless of owner.
func (s *Store) ForceBreak(ctx context.Context, name string) error {
	leaseClient, err := lease.NewBlobClient(s.blobClient(name), nil)
	if err != nil {
		return fmt.Errorf("creating lease client: %w", err)
	}

	_, err = leaseClient.BreakLease(ctx, &lease.BlobBreakOptions{
		BreakPeriod: to.Ptr(int32(0)),
	})
	if err != nil &&
		!bloberror.HasCode(err, bloberror.LeaseNotPresentWithLeaseOperation) &&
		!bloberror.HasCode(err, bloberror.BlobNotFound) {
		return s.classify(err)
	}
	return nil
}

// Close releases resources held by the provider.
func (s *Store) Close() {
	// The SDK client has no explicit close.
}

// leaseSeconds converts the lease duration into the 15-60 second window the
// service accepts, or -1 for an infinite lease.
func leaseSeconds(duration time.Duration) (int32, error) {
	if duration == store.InfiniteDuration {
		return -1, nil
	}
	if duration < minLeaseDuration || duration > maxLeaseDuration {
		return 0, fmt.Errorf("blob leases require a duration between %v and %v (or infinite), got %v",
			minLeaseDuration, maxLeaseDuration, duration)
	}
	return int32(duration / time.Second), nil
}

// isOwnershipGone reports the error codes meaning the caller's lease id no
// longer matches current ownership.
func isOwnershipGone(err error) bool {
	return bloberror.HasCode(err,
		bloberror.LeaseIDMismatchWithLeaseOperation,
		bloberror.LeaseNotPresentWithLeaseOperation,
		bloberror.LeaseLost,
	)
}

// classify maps native errors into the shared taxonomy: 5xx and timeouts
// mean the backend is unreachable, everything else surfaces as-is.
func (s *Store) classify(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode >= http.StatusInternalServerError || respErr.StatusCode == http.StatusRequestTimeout {
			return store.Unavailable(StoreName, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return store.Unavailable(StoreName, err)
	}
	return err
}
