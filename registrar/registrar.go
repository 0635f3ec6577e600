// Package registrar validates authorization requests against registered
// clients: it binds redirect URIs and negotiates the granted scope.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grantauth/grantauth/scope"
	"github.com/grantauth/grantauth/storage"
)

// Sentinel errors returned during request validation. Repository faults
// (storage.ErrRepositoryFault) pass through unchanged so callers can map
// them to a server-side failure instead of a client error.
var (
	// ErrUnknownClient indicates the client id is not registered
	ErrUnknownClient = errors.New("unknown client")

	// ErrRedirectMismatch indicates the presented redirect URI is not
	// registered for the client. Responses for this error must never be
	// delivered to the presented URI.
	ErrRedirectMismatch = errors.New("redirect uri not registered for client")

	// ErrInvalidScope indicates scope negotiation rejected the request
	ErrInvalidScope = errors.New("requested scope not permitted for client")
)

// BoundClient is a client whose redirect URI has been validated. It is the
// proof that error and success responses may be delivered to RedirectURI.
type BoundClient struct {
	client      *storage.Client
	redirectURI string
}

// ClientID returns the bound client's identifier.
func (b *BoundClient) ClientID() string {
	return b.client.ClientID
}

// RedirectURI returns the validated redirect URI.
func (b *BoundClient) RedirectURI() string {
	return b.redirectURI
}

// Confidential reports whether the bound client holds a secret.
func (b *BoundClient) Confidential() bool {
	return b.client.Confidential()
}

// PreGrant is the negotiated shape of a grant before the resource owner has
// decided: which client, which redirect URI, which scope would be granted.
type PreGrant struct {
	ClientID    string
	RedirectURI string
	Scope       scope.Scope
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithScopeLimit makes Negotiate restrict granted scopes to the client's
// registered default scope. Without it the requested scope is granted
// verbatim and the registered scope only fills in omitted requests.
func WithScopeLimit() Option {
	return func(r *Registrar) {
		r.limitToRegistered = true
	}
}

// WithLogger sets the registrar's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registrar) {
		r.logger = logger
	}
}

// Registrar answers the two questions every authorization request raises:
// may this client use this redirect URI, and what scope does it get.
type Registrar struct {
	repo              storage.ClientRepository
	limitToRegistered bool
	logger            *slog.Logger
}

// New creates a registrar over the given client repository.
func New(repo storage.ClientRepository, opts ...Option) *Registrar {
	r := &Registrar{
		repo:   repo,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BoundRedirect looks up the client and binds the presented redirect URI.
// An absent redirect URI binds the client's registered primary URI. A
// present one must exactly match a registered URI, byte for byte; no
// prefix, host, or path relaxation applies.
func (r *Registrar) BoundRedirect(ctx context.Context, clientID, redirectURI string) (*BoundClient, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: empty client id", ErrUnknownClient)
	}

	client, err := r.repo.FindClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
		}
		// Fault in a backing tier, not a statement about the request
		return nil, err
	}

	if redirectURI == "" {
		return &BoundClient{client: client, redirectURI: client.RedirectURI}, nil
	}

	for _, registered := range client.RegisteredRedirectURIs() {
		if redirectURI == registered {
			return &BoundClient{client: client, redirectURI: redirectURI}, nil
		}
	}

	r.logger.Warn("Redirect URI mismatch",
		"client_id", clientID,
		"redirect_uri", redirectURI)

	return nil, fmt.Errorf("%w: %s", ErrRedirectMismatch, clientID)
}

// Negotiate resolves the scope a grant for this bound client would carry.
// An omitted request gets the client's registered default scope. With the
// scope limit enabled, the granted scope is the intersection of requested
// and registered; an empty intersection rejects the request.
func (r *Registrar) Negotiate(ctx context.Context, bound *BoundClient, requested *scope.Scope) (*PreGrant, error) {
	if bound == nil {
		return nil, fmt.Errorf("%w: no bound client", ErrUnknownClient)
	}

	granted := bound.client.DefaultScope
	if requested != nil && !requested.IsEmpty() {
		if r.limitToRegistered {
			granted = intersect(*requested, bound.client.DefaultScope)
			if granted.IsEmpty() {
				return nil, fmt.Errorf("%w: %s", ErrInvalidScope, requested.String())
			}
		} else {
			granted = *requested
		}
	}

	return &PreGrant{
		ClientID:    bound.ClientID(),
		RedirectURI: bound.RedirectURI(),
		Scope:       granted,
	}, nil
}

// intersect returns the tokens of a that b also contains, in a's order.
func intersect(a, b scope.Scope) scope.Scope {
	kept := make([]string, 0)
	for _, token := range a.Tokens() {
		if b.Contains(token) {
			kept = append(kept, token)
		}
	}
	if len(kept) == 0 {
		return scope.Scope{}
	}
	return scope.MustParse(strings.Join(kept, " "))
}
