// Package scylladb realizes the provider contract on ScyllaDB lightweight
// transactions: IF NOT EXISTS wins acquisition, IF owner = ? guards renewal
// and release, and the native TTL expires abandoned leases.
package scylladb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gocql/gocql"

	"github.com/avivl/leasekeeper/driver"
	"github.com/avivl/leasekeeper/observability"
	"github.com/avivl/leasekeeper/store"
	"github.com/google/uuid"
)

var (
	ErrConfigOptionMissing = errors.New("ScyllaDB requires a config option")
)

// StoreName the name of the store.
const StoreName string = "scylladb"

// init registers the ScyllaDB store with the driver registry.
func init() {
	driver.Register(StoreName, newStore)
}

func newStore(ctx context.Context, options driver.Config, logger *observability.SLogger) (store.Provider, error) {
	cfg, ok := options.(*ScyllaDBConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Backend: StoreName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// Store implements the store.Provider interface on a gocql session.
type Store struct {
	session       *gocql.Session
	tableName     string
	keyspaceName  string
	fullTableName string
	l             *observability.SLogger
	config        *ScyllaDBConfig

	acquireQuery string
	renewQuery   string
	releaseQuery string
	breakQuery   string
}

// parseConsistency converts string consistency to gocql.Consistency
func parseConsistency(c string) gocql.Consistency {
	switch c {
	case "CONSISTENCY_QUORUM":
		return gocql.Quorum
	case "CONSISTENCY_ONE":
		return gocql.One
	case "CONSISTENCY_ALL":
		return gocql.All
	default:
		return gocql.Quorum
	}
}

// New creates a new ScyllaDB provider.
func New(ctx context.Context, config *ScyllaDBConfig, logger *observability.SLogger) (*Store, error) {
	if config == nil {
		return nil, ErrConfigOptionMissing
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(config.Host + ":" + strconv.Itoa(int(config.Port)))
	cluster.ProtoVersion = 4
	cluster.Consistency = parseConsistency(config.Consistency)

	session, err := cluster.CreateSession()
	if err != nil {
		logger.Errorf("Error creating session: %v", err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sdb := &Store{
		session:       session,
		tableName:     config.Table,
		keyspaceName:  config.Keyspace,
		fullTableName: fmt.Sprintf(`"%s"."%s"`, config.Keyspace, config.Table),
		l:             logger,
		config:        config,
	}

	if err := sdb.initSession(); err != nil {
		session.Close()
		return nil, err
	}

	return sdb, nil
}

func (sdb *Store) initSession() error {
	if err := sdb.validateKeyspace(); err != nil {
		return err
	}
	if err := sdb.validateTable(); err != nil {
		return err
	}
	sdb.acquireQuery = fmt.Sprintf("INSERT INTO %s (name, owner, meta) VALUES (?, ?, ?) IF NOT EXISTS USING TTL ?", sdb.fullTableName)
	sdb.renewQuery = fmt.Sprintf("UPDATE %s USING TTL ? SET owner = ? WHERE name = ? IF owner = ?", sdb.fullTableName)
	sdb.releaseQuery = fmt.Sprintf("DELETE FROM %s WHERE name = ? IF owner = ?", sdb.fullTableName)
	sdb.breakQuery = fmt.Sprintf("DELETE FROM %s WHERE name = ?", sdb.fullTableName)
	return nil
}

func (sdb *Store) validateKeyspace() error {
	err := sdb.session.Query(fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
	WITH replication = {
		'class' : 'SimpleStrategy',
		'replication_factor' :3
	}`, sdb.keyspaceName)).Exec()
	if err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}
	return nil
}

func (sdb *Store) validateTable() error {
	err := sdb.session.Query(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
        name text,
        owner text,
        meta text,
        PRIMARY KEY (name)
    )`, sdb.keyspaceName, sdb.tableName)).Exec()
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Backend returns the registered backend name.
func (sdb *Store) Backend() string { return StoreName }

// GetConfig returns the current store configuration
func (sdb *Store) GetConfig() store.ProviderConfig { return sdb.config }

// AttemptAcquire inserts the lease row with a lightweight transaction; a
// not-applied result means another owner holds an unexpired row.
func (sdb *Store) AttemptAcquire(ctx context.Context, name string, duration time.Duration, metadata map[string]string) (*store.Acquisition, error) {
	if duration == store.InfiniteDuration {
		return nil, store.ErrInfiniteUnsupported
	}

	token := uuid.NewString()
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding lease metadata: %w", err)
	}

	now := time.Now()
	applied, err := sdb.session.Query(sdb.acquireQuery,
		name, token, string(meta), ttlSeconds(duration)).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, sdb.classify(err)
	}
	if !applied {
		return nil, store.ErrConflict
	}

	return &store.Acquisition{
		Token:    token,
		Expiry:   now.Add(duration),
		Metadata: metadata,
	}, nil
}

// RenewIfOwned rewrites the owner cell with a fresh TTL behind an
// IF owner = ? condition.
func (sdb *Store) RenewIfOwned(ctx context.Context, name, token string, duration time.Duration) (time.Time, error) {
	if duration == store.InfiniteDuration {
		return time.Time{}, store.ErrInfiniteUnsupported
	}

	now := time.Now()
	applied, err := sdb.session.Query(sdb.renewQuery,
		ttlSeconds(duration), token, name, token).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return time.Time{}, sdb.classify(err)
	}
	if !applied {
		return time.Time{}, store.ErrNotHeld
	}

	return now.Add(duration), nil
}

// ReleaseIfOwned deletes the row behind an IF owner = ? condition. A row
// that is gone or owned elsewhere is a no-op.
func (sdb *Store) ReleaseIfOwned(ctx context.Context, name, token string) error {
	_, err := sdb.session.Query(sdb.releaseQuery, name, token).
		WithContext(ctx).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return sdb.classify(err)
	}
	return nil
}

// ForceBreak deletes the row without any condition.
func (sdb *Store) ForceBreak(ctx context.Context, name string) error {
	if err := sdb.session.Query(sdb.breakQuery, name).WithContext(ctx).Exec(); err != nil {
		return sdb.classify(err)
	}
	return nil
}

// Close closes the session.
func (sdb *Store) Close() {
	sdb.session.Close()
}

// ttlSeconds converts a duration to whole seconds for USING TTL, never
// below one second.
func ttlSeconds(duration time.Duration) int {
	secs := int(math.Ceil(duration.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// classify maps native errors into the shared taxonomy.
func (sdb *Store) classify(err error) error {
	var unavailable *gocql.RequestErrUnavailable
	switch {
	case errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrConnectionClosed),
		errors.As(err, &unavailable),
		errors.Is(err, context.DeadlineExceeded):
		return store.Unavailable(StoreName, err)
	default:
		return err
	}
}
