// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/grantauth/grantauth/instrumentation"
	"github.com/grantauth/grantauth/internal/util"
	"github.com/grantauth/grantauth/scope"
	"github.com/grantauth/grantauth/security"
	"github.com/grantauth/grantauth/storage"
)

const (
	// tokenLogLength is the number of characters to include when logging
	// codes and tokens. Enough uniqueness for debugging, nothing usable.
	tokenLogLength = 8

	// shardCount is the number of shards per map. Must be a power of two.
	shardCount = 16
)

// codeShard holds a slice of the pending authorization codes.
type codeShard struct {
	mu    sync.Mutex
	codes map[string]*storage.Grant
}

// tokenRecord is the shared state behind one issued token pair. The access
// and refresh maps both point at the same record; rec.mu guards the fields
// that Refresh swaps and Revoke clears.
type tokenRecord struct {
	mu           sync.Mutex
	grant        storage.Grant
	accessToken  string
	refreshToken string
	until        time.Time

	// accessTTL is the access token lifetime fixed at issuance; each
	// refresh renews the access token for the same duration.
	accessTTL time.Duration

	// refreshUntil bounds the refresh token's own lifetime. Zero when the
	// grant carries no refresh token.
	refreshUntil time.Time
}

type accessShard struct {
	mu     sync.RWMutex
	tokens map[string]*tokenRecord
}

type refreshShard struct {
	mu     sync.RWMutex
	tokens map[string]*tokenRecord
}

type clientShard struct {
	mu      sync.RWMutex
	clients map[string]*storage.Client
}

// Config tunes a Store. Zero values select the defaults.
type Config struct {
	// TokenTTL is the access token lifetime, applied when a grant arrives
	// with a zero Until. Default: 1 hour.
	TokenTTL time.Duration

	// CodeTTL is the authorization code lifetime, applied when a grant
	// arrives with a zero Until. Default: 10 minutes.
	CodeTTL time.Duration

	// RefreshTokenTTL is the refresh token lifetime. Once it passes, the
	// refresh token stops working and the record is reclaimed by the
	// cleanup sweep. Default: 90 days.
	RefreshTokenTTL time.Duration

	// CleanupInterval is how often expired entries are swept. Default: 1 minute.
	CleanupInterval time.Duration
}

// Store is an in-memory implementation of Authorizer, Issuer, and
// ClientRepository. Maps are sharded by FNV-1a of the key so unrelated
// codes, tokens, and clients never contend on one lock.
type Store struct {
	codeShards    [shardCount]*codeShard
	accessShards  [shardCount]*accessShard
	refreshShards [shardCount]*refreshShard
	clientShards  [shardCount]*clientShard

	tokenTTL        time.Duration
	codeTTL         time.Duration
	refreshTokenTTL time.Duration

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	grantsCountAtomic  atomic.Int64
	tokensCountAtomic  atomic.Int64
	clientsCountAtomic atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}

	loggerMu sync.RWMutex
	logger   *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Authorizer       = (*Store)(nil)
	_ storage.Issuer           = (*Store)(nil)
	_ storage.ClientRepository = (*Store)(nil)
)

// New creates a new in-memory store with default token lifetime (1 hour)
// and default cleanup interval (1 minute)
func New() *Store {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a new in-memory store with custom settings.
func NewWithConfig(cfg Config) *Store {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 90 * 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	s := &Store{
		tokenTTL:        cfg.TokenTTL,
		codeTTL:         cfg.CodeTTL,
		refreshTokenTTL: cfg.RefreshTokenTTL,
		cleanupInterval: cfg.CleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}
	for i := 0; i < shardCount; i++ {
		s.codeShards[i] = &codeShard{codes: make(map[string]*storage.Grant)}
		s.accessShards[i] = &accessShard{tokens: make(map[string]*tokenRecord)}
		s.refreshShards[i] = &refreshShard{tokens: make(map[string]*tokenRecord)}
		s.clientShards[i] = &clientShard{clients: make(map[string]*storage.Client)}
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

func (s *Store) log() *slog.Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	// Register storage size callbacks using atomic counters (lock-free)
	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.grantsCountAtomic.Load() },
		func() int64 { return s.tokensCountAtomic.Load() },
		func() int64 { return s.clientsCountAtomic.Load() },
	)
	if err != nil {
		s.log().Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() & (shardCount - 1))
}

// newToken returns a fresh opaque token with at least 32 bytes of entropy.
func newToken() string {
	return oauth2.GenerateVerifier()
}

// ============================================================
// Authorizer Implementation
// ============================================================

// Authorize stores the grant under a fresh random code and returns the code.
// A zero Until on the grant gets the store's code lifetime applied.
func (s *Store) Authorize(ctx context.Context, grant storage.Grant) (string, error) {
	ctx, span := s.startStorageSpan(ctx, "authorize")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "authorize", err, startTime)
	}()

	if grant.ClientID == "" {
		err = fmt.Errorf("grant client id cannot be empty")
		return "", err
	}
	if grant.Until.IsZero() {
		grant.Until = time.Now().Add(s.codeTTL)
	}

	code := newToken()
	shard := s.codeShards[shardIndex(code)]

	shard.mu.Lock()
	stored := grant
	shard.codes[code] = &stored
	shard.mu.Unlock()

	s.grantsCountAtomic.Add(1)
	s.log().Debug("Stored authorization code",
		"code_prefix", util.SafeTruncate(code, tokenLogLength),
		"client_id", grant.ClientID)

	return code, nil
}

// Extract atomically removes the code and returns its grant. The shard
// mutex makes the check-and-delete atomic, so exactly one of any number of
// concurrent redemption attempts wins.
func (s *Store) Extract(ctx context.Context, code string) (*storage.Grant, error) {
	ctx, span := s.startStorageSpan(ctx, "extract")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "extract", err, startTime)
	}()

	shard := s.codeShards[shardIndex(code)]

	shard.mu.Lock()
	grant, ok := shard.codes[code]
	if ok {
		delete(shard.codes, code)
	}
	shard.mu.Unlock()

	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrCodeNotFound, util.SafeTruncate(code, tokenLogLength))
		return nil, err
	}

	s.grantsCountAtomic.Add(-1)

	if security.IsExpired(grant.Until) {
		err = fmt.Errorf("%w: authorization code expired", storage.ErrGrantExpired)
		return nil, err
	}

	s.log().Debug("Extracted authorization code",
		"code_prefix", util.SafeTruncate(code, tokenLogLength),
		"client_id", grant.ClientID)

	return grant, nil
}

// ============================================================
// Issuer Implementation
// ============================================================

// Issue generates a fresh token pair for the grant. A non-zero grant.Until
// sets the access token's expiry; a zero Until gets the store's token
// lifetime applied. The refresh token is omitted when the grant's
// RefreshDisabled extension is set.
func (s *Store) Issue(ctx context.Context, grant storage.Grant) (storage.IssuedToken, error) {
	ctx, span := s.startStorageSpan(ctx, "issue")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "issue", err, startTime)
	}()

	if grant.ClientID == "" {
		err = fmt.Errorf("grant client id cannot be empty")
		return storage.IssuedToken{}, err
	}

	now := time.Now()
	until := grant.Until
	if until.IsZero() {
		until = now.Add(s.tokenTTL)
	}
	if !until.After(now) {
		err = fmt.Errorf("%w: grant expired before issuance", storage.ErrGrantExpired)
		return storage.IssuedToken{}, err
	}

	rec := &tokenRecord{
		grant:       grant,
		accessToken: newToken(),
		until:       until,
		accessTTL:   until.Sub(now),
	}
	if !grant.RefreshDisabled() {
		rec.refreshToken = newToken()
		rec.refreshUntil = now.Add(s.refreshTokenTTL)
	}

	as := s.accessShards[shardIndex(rec.accessToken)]
	as.mu.Lock()
	as.tokens[rec.accessToken] = rec
	as.mu.Unlock()

	if rec.refreshToken != "" {
		rs := s.refreshShards[shardIndex(rec.refreshToken)]
		rs.mu.Lock()
		rs.tokens[rec.refreshToken] = rec
		rs.mu.Unlock()
	}

	s.tokensCountAtomic.Add(1)
	s.log().Debug("Issued token",
		"token_prefix", util.SafeTruncate(rec.accessToken, tokenLogLength),
		"client_id", grant.ClientID,
		"refresh", rec.refreshToken != "")

	return storage.IssuedToken{
		AccessToken:  rec.accessToken,
		RefreshToken: rec.refreshToken,
		Until:        until,
	}, nil
}

// Refresh issues a new access token against an existing refresh token. The
// refresh token is preserved; only the access token is replaced. The swap
// happens under the record mutex, so concurrent refreshes serialize and
// each one invalidates its predecessor.
func (s *Store) Refresh(ctx context.Context, refreshToken string, requested *scope.Scope) (storage.IssuedToken, error) {
	ctx, span := s.startStorageSpan(ctx, "refresh")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "refresh", err, startTime)
	}()

	rs := s.refreshShards[shardIndex(refreshToken)]
	rs.mu.RLock()
	rec, ok := rs.tokens[refreshToken]
	rs.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: refresh token unknown", storage.ErrTokenNotFound)
		return storage.IssuedToken{}, err
	}

	rec.mu.Lock()
	// The map entry may be stale if Revoke cleared the record
	if rec.refreshToken != refreshToken {
		rec.mu.Unlock()
		err = fmt.Errorf("%w: refresh token revoked", storage.ErrTokenNotFound)
		return storage.IssuedToken{}, err
	}
	if security.IsExpired(rec.refreshUntil) {
		rec.mu.Unlock()
		err = fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
		return storage.IssuedToken{}, err
	}
	if requested != nil && !requested.SubsetOf(rec.grant.Scope) {
		granted := rec.grant.Scope.String()
		rec.mu.Unlock()
		err = fmt.Errorf("%w: %s not within %s", storage.ErrScopeExceeded, requested.String(), granted)
		return storage.IssuedToken{}, err
	}

	oldAccess := rec.accessToken
	rec.accessToken = newToken()
	rec.until = time.Now().Add(rec.accessTTL)
	newAccess := rec.accessToken
	until := rec.until
	clientID := rec.grant.ClientID
	rec.mu.Unlock()

	// Re-key the access map. A reader that still holds the old key sees a
	// record whose accessToken no longer matches and treats it as revoked.
	oldShard := s.accessShards[shardIndex(oldAccess)]
	oldShard.mu.Lock()
	delete(oldShard.tokens, oldAccess)
	oldShard.mu.Unlock()

	newShard := s.accessShards[shardIndex(newAccess)]
	newShard.mu.Lock()
	newShard.tokens[newAccess] = rec
	newShard.mu.Unlock()

	s.log().Debug("Refreshed token",
		"token_prefix", util.SafeTruncate(newAccess, tokenLogLength),
		"client_id", clientID)

	return storage.IssuedToken{
		AccessToken:  newAccess,
		RefreshToken: refreshToken,
		Until:        until,
	}, nil
}

// RecoverToken looks up the grant for an access token without consuming it.
func (s *Store) RecoverToken(ctx context.Context, accessToken string) (*storage.Grant, error) {
	ctx, span := s.startStorageSpan(ctx, "recover_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "recover_token", err, startTime)
	}()

	as := s.accessShards[shardIndex(accessToken)]
	as.mu.RLock()
	rec, ok := as.tokens[accessToken]
	as.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: access token unknown", storage.ErrTokenNotFound)
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	// The map entry may be stale if a refresh re-keyed the record
	if rec.accessToken != accessToken {
		err = fmt.Errorf("%w: access token superseded", storage.ErrTokenNotFound)
		return nil, err
	}
	if security.IsExpired(rec.until) {
		err = fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
		return nil, err
	}

	grant := rec.grant
	grant.Until = rec.until
	return &grant, nil
}

// RecoverRefresh looks up the grant for a refresh token without consuming it.
func (s *Store) RecoverRefresh(ctx context.Context, refreshToken string) (*storage.Grant, error) {
	ctx, span := s.startStorageSpan(ctx, "recover_refresh")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "recover_refresh", err, startTime)
	}()

	rs := s.refreshShards[shardIndex(refreshToken)]
	rs.mu.RLock()
	rec, ok := rs.tokens[refreshToken]
	rs.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: refresh token unknown", storage.ErrTokenNotFound)
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.refreshToken != refreshToken {
		err = fmt.Errorf("%w: refresh token revoked", storage.ErrTokenNotFound)
		return nil, err
	}
	if security.IsExpired(rec.refreshUntil) {
		err = fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
		return nil, err
	}

	grant := rec.grant
	grant.Until = rec.until
	return &grant, nil
}

// Revoke destroys a refresh token and the access token currently bound to
// it. The record fields are cleared under the record mutex so readers that
// already resolved a stale map entry see the tokens as unknown.
func (s *Store) Revoke(ctx context.Context, refreshToken string) error {
	ctx, span := s.startStorageSpan(ctx, "revoke")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "revoke", err, startTime)
	}()

	rs := s.refreshShards[shardIndex(refreshToken)]
	rs.mu.Lock()
	rec, ok := rs.tokens[refreshToken]
	if ok {
		delete(rs.tokens, refreshToken)
	}
	rs.mu.Unlock()

	if !ok {
		err = fmt.Errorf("%w: refresh token unknown", storage.ErrTokenNotFound)
		return err
	}

	rec.mu.Lock()
	accessToken := rec.accessToken
	clientID := rec.grant.ClientID
	rec.accessToken = ""
	rec.refreshToken = ""
	rec.mu.Unlock()

	as := s.accessShards[shardIndex(accessToken)]
	as.mu.Lock()
	delete(as.tokens, accessToken)
	as.mu.Unlock()

	s.tokensCountAtomic.Add(-1)
	s.log().Debug("Revoked token pair",
		"token_prefix", util.SafeTruncate(refreshToken, tokenLogLength),
		"client_id", clientID)

	return nil
}

// ============================================================
// ClientRepository Implementation
// ============================================================

// FindClientByID returns the client registered under id.
func (s *Store) FindClientByID(ctx context.Context, id string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "find_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "find_client", err, startTime)
	}()

	cs := s.clientShards[shardIndex(id)]
	cs.mu.RLock()
	client, ok := cs.clients[id]
	cs.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, id)
		return nil, err
	}

	return client, nil
}

// List enumerates all registered clients.
func (s *Store) List(ctx context.Context) ([]*storage.Client, error) {
	clients := make([]*storage.Client, 0, s.clientsCountAtomic.Load())
	for _, cs := range s.clientShards {
		cs.mu.RLock()
		for _, client := range cs.clients {
			clients = append(clients, client)
		}
		cs.mu.RUnlock()
	}
	return clients, nil
}

// Register stores the client, replacing any previous record with the same id.
func (s *Store) Register(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "register_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "register_client", err, startTime)
	}()

	if client == nil {
		err = fmt.Errorf("client cannot be nil")
		return err
	}
	if client.ClientID == "" {
		err = fmt.Errorf("client id cannot be empty")
		return err
	}

	cs := s.clientShards[shardIndex(client.ClientID)]
	cs.mu.Lock()
	_, existed := cs.clients[client.ClientID]
	cs.clients[client.ClientID] = client
	cs.mu.Unlock()

	if !existed {
		s.clientsCountAtomic.Add(1)
	}
	s.log().Debug("Registered client", "client_id", client.ClientID, "client_type", client.Type)

	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	cleaned := 0

	// Expired authorization codes (with clock skew grace period)
	for _, shard := range s.codeShards {
		shard.mu.Lock()
		for code, grant := range shard.codes {
			if security.IsExpired(grant.Until) {
				delete(shard.codes, code)
				s.grantsCountAtomic.Add(-1)
				cleaned++
			}
		}
		shard.mu.Unlock()
	}

	// Expired access tokens. Records whose refresh token is still live stay
	// reachable through the refresh map so the grant can be refreshed later;
	// once the refresh lifetime has also passed the record is reclaimed.
	for _, shard := range s.accessShards {
		shard.mu.Lock()
		for token, rec := range shard.tokens {
			rec.mu.Lock()
			expired := security.IsExpired(rec.until) &&
				(rec.refreshToken == "" || security.IsExpired(rec.refreshUntil))
			rec.mu.Unlock()
			if expired {
				delete(shard.tokens, token)
				s.tokensCountAtomic.Add(-1)
				cleaned++
			}
		}
		shard.mu.Unlock()
	}

	// Refresh tokens past their lifetime. The token count is carried by the
	// access map entry, so no counter change here.
	for _, shard := range s.refreshShards {
		shard.mu.Lock()
		for token, rec := range shard.tokens {
			rec.mu.Lock()
			expired := security.IsExpired(rec.refreshUntil)
			rec.mu.Unlock()
			if expired {
				delete(shard.tokens, token)
				cleaned++
			}
		}
		shard.mu.Unlock()
	}

	if cleaned > 0 {
		s.log().Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
