package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/grantauth/grantauth/storage"
	"github.com/grantauth/grantauth/storage/cacheaside"
)

const (
	// DefaultKeyspace is the keyspace used when none is configured
	DefaultKeyspace = "grantauth"

	// DefaultTable is the client table used when none is configured
	DefaultTable = "clients"

	// connectionVerifyTimeout bounds session creation against an
	// unreachable cluster
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Scylla durable tier.
type Config struct {
	// Hosts are the cluster contact points (required), e.g. ["127.0.0.1:9042"]
	Hosts []string

	// Keyspace holding the client table (default "grantauth")
	Keyspace string

	// Table is the client table name (default "clients")
	Table string

	// Username and Password enable PasswordAuthenticator when set
	Username string
	Password string

	// Consistency for reads and writes (default Quorum)
	Consistency gocql.Consistency

	// Timeout for individual queries (default 5s, the gocql default applies
	// when zero)
	Timeout time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Scylla-backed durable tier for client records. The wide-column
// row is the authoritative registration; the scopes column carries the
// space-delimited default scope.
type Store struct {
	session    *gocql.Session
	selectStmt string
	insertStmt string
	logger     *slog.Logger
}

// Compile-time interface check
var _ cacheaside.DurableTier = (*Store)(nil)

// New creates a new Scylla-backed durable tier.
// Returns an error if no session can be established.
func New(cfg Config) (*Store, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("scylla hosts are required")
	}

	keyspace := cfg.Keyspace
	if keyspace == "" {
		keyspace = DefaultKeyspace
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = keyspace
	cluster.ConnectTimeout = connectionVerifyTimeout
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.Consistency != 0 {
		cluster.Consistency = cfg.Consistency
	} else {
		cluster.Consistency = gocql.Quorum
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scylla: %w", err)
	}

	logger.Info("Connected to Scylla durable tier",
		"hosts", cfg.Hosts,
		"keyspace", keyspace,
		"table", table)

	return &Store{
		session:    session,
		selectStmt: selectStatement(keyspace, table),
		insertStmt: insertStatement(keyspace, table),
		logger:     logger,
	}, nil
}

// selectStatement builds the client lookup query. The scopes column is
// aliased to default_scope, matching the encoded record field.
func selectStatement(keyspace, table string) string {
	return fmt.Sprintf(
		"SELECT client_id, client_secret, redirect_uri, additional_redirect_uris, scopes AS default_scope FROM %s.%s WHERE client_id = ?",
		keyspace, table)
}

// insertStatement builds the client upsert. Cassandra-family INSERTs
// overwrite by primary key, which gives Register its replace semantics.
func insertStatement(keyspace, table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s.%s (client_id, client_secret, redirect_uri, additional_redirect_uris, scopes) VALUES (?, ?, ?, ?, ?)",
		keyspace, table)
}

// Close shuts down the underlying session.
func (s *Store) Close() {
	s.session.Close()
	s.logger.Info("Scylla durable tier connection closed")
}

// FetchClient returns the encoded record registered under clientID.
// A null client_secret column marks a public client.
func (s *Store) FetchClient(ctx context.Context, clientID string) (*storage.EncodedClient, error) {
	var (
		id             string
		secret         string
		redirectURI    string
		additionalURIs []string
		defaultScope   string
	)

	err := s.session.Query(s.selectStmt, clientID).
		WithContext(ctx).
		Scan(&id, &secret, &redirectURI, &additionalURIs, &defaultScope)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to fetch client %s: %w", clientID, err)
	}

	encoded := &storage.EncodedClient{
		ClientID:               id,
		RedirectURI:            redirectURI,
		AdditionalRedirectURIs: additionalURIs,
		DefaultScope:           defaultScope,
	}
	if secret != "" {
		encoded.ClientSecret = &secret
	}

	return encoded, nil
}

// StoreClient writes the encoded record, replacing any previous row with
// the same client_id.
func (s *Store) StoreClient(ctx context.Context, record *storage.EncodedClient) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.ClientID == "" {
		return fmt.Errorf("client id cannot be empty")
	}

	var secret string
	if record.ClientSecret != nil {
		secret = *record.ClientSecret
	}

	err := s.session.Query(s.insertStmt,
		record.ClientID,
		secret,
		record.RedirectURI,
		record.AdditionalRedirectURIs,
		record.DefaultScope,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to store client %s: %w", record.ClientID, err)
	}

	s.logger.Debug("Stored client record", "client_id", record.ClientID)
	return nil
}
