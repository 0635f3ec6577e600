package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/grantauth/grantauth/storage/cacheaside"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "grantauth:"

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey cache tier.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "grantauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed cache tier for encoded client records. Entries
// carry a TTL set on population; expiry is Valkey's job, not the caller's.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface check
var _ cacheaside.CacheTier = (*Store)(nil)

// New creates a new Valkey-backed cache tier.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey cache tier",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey cache tier connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// clientKey returns the key for a client record: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// Get returns the encoded record stored under clientID.
// Absent keys report cacheaside.ErrCacheMiss.
func (s *Store) Get(ctx context.Context, clientID string) ([]byte, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).AsBytes()
	if err != nil {
		if isNilError(err) {
			return nil, cacheaside.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get client %s: %w", clientID, err)
	}
	return data, nil
}

// Set stores the encoded record under clientID with the given lifetime.
func (s *Store) Set(ctx context.Context, clientID string, record []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	err := s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(clientID)).Value(string(record)).Ex(ttl).Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to set client %s: %w", clientID, err)
	}
	return nil
}

// Delete removes the record stored under clientID. Absent keys are not an error.
func (s *Store) Delete(ctx context.Context, clientID string) error {
	err := s.client.Do(ctx, s.client.B().Del().Key(s.clientKey(clientID)).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to delete client %s: %w", clientID, err)
	}
	return nil
}

// Scan returns every encoded record currently cached. SCAN can return
// duplicate keys across iterations, so keys are deduplicated before the GETs.
func (s *Store) Scan(ctx context.Context) ([][]byte, error) {
	pattern := s.clientKey("*")
	seen := make(map[string]struct{})
	records := make([][]byte, 0)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range result.Elements {
			if _, exists := seen[key]; exists {
				continue
			}
			seen[key] = struct{}{}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
			if err != nil {
				if isNilError(err) {
					continue // Key may have expired between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}
			records = append(records, data)
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	return records, nil
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
// Uses the valkey-go library's built-in nil detection for robustness.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
