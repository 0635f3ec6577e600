// Package cacheaside composes a TTL cache tier over a durable client store.
// The cache is a pure accelerator: every answer the repository gives is one
// the durable tier would also give, at most one TTL stale.
package cacheaside

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grantauth/grantauth/instrumentation"
	"github.com/grantauth/grantauth/storage"
)

// ErrCacheMiss is returned by a CacheTier when no entry exists for the key.
var ErrCacheMiss = errors.New("cache miss")

// DefaultTTL is the cache entry lifetime applied when Config.TTL is zero.
const DefaultTTL = time.Hour

// CacheTier is a volatile key-value store holding encoded client records.
// Implementations report absent keys with ErrCacheMiss; any other error is
// treated as a tier fault and recovered by falling through to the durable
// tier.
type CacheTier interface {
	// Get returns the encoded record stored under clientID
	Get(ctx context.Context, clientID string) ([]byte, error)

	// Set stores the encoded record under clientID with the given lifetime
	Set(ctx context.Context, clientID string, record []byte, ttl time.Duration) error

	// Delete removes the record stored under clientID; absent keys are not
	// an error
	Delete(ctx context.Context, clientID string) error

	// Scan returns every encoded record currently cached
	Scan(ctx context.Context) ([][]byte, error)
}

// DurableTier is the authoritative client store. Implementations distinguish
// storage.ErrClientNotFound from faults (storage.ErrRepositoryFault).
type DurableTier interface {
	// FetchClient returns the encoded record registered under clientID
	FetchClient(ctx context.Context, clientID string) (*storage.EncodedClient, error)

	// StoreClient writes the encoded record, replacing any previous one
	StoreClient(ctx context.Context, record *storage.EncodedClient) error
}

// Config tunes a Repository. Zero values select the defaults.
type Config struct {
	// TTL is the cache entry lifetime applied on population. Default: 1 hour.
	TTL time.Duration

	// Logger receives cache fault and corruption warnings. Default: slog.Default().
	Logger *slog.Logger
}

// Repository is a storage.ClientRepository that reads through a cache tier
// and falls back to a durable tier on miss, corruption, or cache fault.
// Writes go durable-first; the cache copy is populated best effort.
type Repository struct {
	cache   CacheTier
	durable DurableTier
	ttl     time.Duration
	logger  *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.ClientRepository = (*Repository)(nil)

// New composes cache over durable. The cache tier is required; a nil
// durable tier selects the cache-only topology, where the cache with its
// TTL is the system of record.
func New(cache CacheTier, durable DurableTier, cfg Config) (*Repository, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache tier is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Repository{
		cache:   cache,
		durable: durable,
		ttl:     cfg.TTL,
		logger:  cfg.Logger,
	}, nil
}

// SetInstrumentation sets OpenTelemetry instrumentation for the repository
func (r *Repository) SetInstrumentation(inst *instrumentation.Instrumentation) {
	r.instrumentation = inst
	if inst != nil {
		r.tracer = inst.Tracer("storage")
	}
}

// FindClientByID returns the client registered under id, consulting the
// cache first. A hit decodes and returns without touching the durable tier.
// A miss, a corrupt entry, or a cache fault falls through to the durable
// tier; on success the cache is repopulated best effort.
func (r *Repository) FindClientByID(ctx context.Context, id string) (*storage.Client, error) {
	ctx, span := r.startStorageSpan(ctx, "cacheaside_find_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		r.recordStorageOperation(ctx, span, "cacheaside_find_client", err, startTime)
	}()

	if raw, cacheErr := r.cache.Get(ctx, id); cacheErr == nil {
		encoded, decodeErr := storage.UnmarshalClient(raw)
		if decodeErr == nil {
			client, clientErr := encoded.Decode()
			if clientErr == nil {
				return client, nil
			}
			decodeErr = clientErr
		}
		// Corrupt cache entry. Evict it and consult the durable tier; the
		// durable record is the truth.
		r.logger.Warn("Evicting corrupt cache entry",
			"client_id", id,
			"error", decodeErr)
		if delErr := r.cache.Delete(ctx, id); delErr != nil {
			r.logger.Warn("Failed to evict corrupt cache entry",
				"client_id", id,
				"error", delErr)
		}
	} else if !errors.Is(cacheErr, ErrCacheMiss) {
		// Cache tier fault. The cache is an accelerator, not an authority,
		// so the lookup proceeds on the durable tier alone.
		r.logger.Warn("Cache tier fault, falling through to durable tier",
			"client_id", id,
			"error", cacheErr)
	}

	if r.durable == nil {
		// Cache-only topology: the cache was the authority and it had nothing
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, id)
		return nil, err
	}

	encoded, durableErr := r.durable.FetchClient(ctx, id)
	if durableErr != nil {
		if errors.Is(durableErr, storage.ErrClientNotFound) {
			err = durableErr
			return nil, err
		}
		err = fmt.Errorf("%w: %v", storage.ErrRepositoryFault, durableErr)
		return nil, err
	}

	client, decodeErr := encoded.Decode()
	if decodeErr != nil {
		// A durable record that does not decode is a fault, not a not-found
		err = fmt.Errorf("%w: durable record for %s: %v", storage.ErrRepositoryFault, id, decodeErr)
		return nil, err
	}

	r.populate(ctx, id, encoded)

	return client, nil
}

// List enumerates the cache tier only. The durable tier is never scanned;
// clients whose cache entries have expired are absent from the result.
// Corrupt entries are skipped.
func (r *Repository) List(ctx context.Context) ([]*storage.Client, error) {
	ctx, span := r.startStorageSpan(ctx, "cacheaside_list_clients")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		r.recordStorageOperation(ctx, span, "cacheaside_list_clients", err, startTime)
	}()

	raws, scanErr := r.cache.Scan(ctx)
	if scanErr != nil {
		err = fmt.Errorf("%w: cache scan: %v", storage.ErrRepositoryFault, scanErr)
		return nil, err
	}

	clients := make([]*storage.Client, 0, len(raws))
	for _, raw := range raws {
		encoded, decodeErr := storage.UnmarshalClient(raw)
		if decodeErr != nil {
			r.logger.Warn("Skipping corrupt cache entry during list", "error", decodeErr)
			continue
		}
		client, clientErr := encoded.Decode()
		if clientErr != nil {
			r.logger.Warn("Skipping undecodable cache entry during list",
				"client_id", encoded.ClientID,
				"error", clientErr)
			continue
		}
		clients = append(clients, client)
	}

	return clients, nil
}

// Register writes the client to the durable tier first; only after the
// durable write succeeds is the cache copy refreshed, best effort. A client
// is never cached without being durable.
func (r *Repository) Register(ctx context.Context, client *storage.Client) error {
	ctx, span := r.startStorageSpan(ctx, "cacheaside_register_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		r.recordStorageOperation(ctx, span, "cacheaside_register_client", err, startTime)
	}()

	if client == nil {
		err = fmt.Errorf("client cannot be nil")
		return err
	}
	if client.ClientID == "" {
		err = fmt.Errorf("client id cannot be empty")
		return err
	}

	encoded := storage.EncodeClient(client)

	if r.durable == nil {
		// Cache-only topology: the cache write is the write of record, so
		// its failure fails the registration.
		raw, marshalErr := storage.MarshalClient(encoded)
		if marshalErr != nil {
			err = fmt.Errorf("%w: %v", storage.ErrRepositoryFault, marshalErr)
			return err
		}
		if setErr := r.cache.Set(ctx, client.ClientID, raw, r.ttl); setErr != nil {
			err = fmt.Errorf("%w: %v", storage.ErrRepositoryFault, setErr)
			return err
		}
		return nil
	}

	if storeErr := r.durable.StoreClient(ctx, encoded); storeErr != nil {
		err = fmt.Errorf("%w: %v", storage.ErrRepositoryFault, storeErr)
		return err
	}

	r.populate(ctx, client.ClientID, encoded)

	return nil
}

// populate writes the encoded record into the cache with the repository TTL.
// Failures are logged and swallowed; the durable tier already holds the record.
func (r *Repository) populate(ctx context.Context, id string, encoded *storage.EncodedClient) {
	raw, err := storage.MarshalClient(encoded)
	if err != nil {
		r.logger.Warn("Failed to encode client for cache population",
			"client_id", id,
			"error", err)
		return
	}
	if err := r.cache.Set(ctx, id, raw, r.ttl); err != nil {
		r.logger.Warn("Failed to populate cache",
			"client_id", id,
			"error", err)
	}
}

// startStorageSpan starts a new span for a storage operation
func (r *Repository) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (r *Repository) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if r.instrumentation == nil {
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

	r.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
