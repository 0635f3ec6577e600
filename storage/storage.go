package storage

import (
	"context"
	"errors"
	"time"

	"github.com/grantauth/grantauth/scope"
)

// Sentinel errors returned by stores. Callers match with errors.Is; wrapped
// variants carry context via fmt.Errorf("%w: ...").
var (
	// ErrClientNotFound indicates no client exists for the given id in any tier
	ErrClientNotFound = errors.New("client not found")

	// ErrCodeNotFound indicates an unknown or already-redeemed authorization code
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrTokenNotFound indicates an unknown or revoked access/refresh token
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates a token whose expiry instant has passed
	ErrTokenExpired = errors.New("token expired")

	// ErrGrantExpired indicates a grant whose Until instant has passed
	ErrGrantExpired = errors.New("grant expired")

	// ErrScopeExceeded indicates a refresh requested a scope that is not a
	// subset of the originally granted scope
	ErrScopeExceeded = errors.New("requested scope exceeds granted scope")

	// ErrRepositoryFault indicates an I/O or (de)serialization failure in a
	// backing tier. It is never a statement about the client's request and
	// maps to server_error at the protocol boundary.
	ErrRepositoryFault = errors.New("client repository fault")
)

// Client type values
const (
	// ClientTypePublic identifies a client without credentials
	ClientTypePublic = "public"

	// ClientTypeConfidential identifies a client holding a secret
	ClientTypeConfidential = "confidential"
)

// ExtensionRefreshDisabled is a well-known Grant extension key. When set to
// "true" the Issuer must not attach a refresh token to the issued token
// (used by the client_credentials grant).
const ExtensionRefreshDisabled = "refresh_disabled"

// Client is a registered OAuth client. Clients are never mutated in place;
// re-registering under the same id replaces the record.
type Client struct {
	// ClientID uniquely identifies the client within a repository
	ClientID string

	// RedirectURI is the canonical registered redirect URI. It is used
	// whenever an authorization request omits redirect_uri.
	RedirectURI string

	// AdditionalRedirectURIs are further registered URIs. A presented
	// redirect URI must exactly equal RedirectURI or one of these.
	AdditionalRedirectURIs []string

	// DefaultScope is granted when a request omits the scope parameter
	DefaultScope scope.Scope

	// Type is ClientTypePublic or ClientTypeConfidential
	Type string

	// Secret holds the client's secret material for confidential clients.
	// Its interpretation (plaintext vs digest) is defined by the secret
	// policy configured on the engine; nil for public clients.
	Secret []byte
}

// Confidential reports whether the client must authenticate with a secret.
func (c *Client) Confidential() bool {
	return c.Type == ClientTypeConfidential
}

// RegisteredRedirectURIs returns the primary URI followed by the additional
// URIs, the full set a presented redirect URI is matched against.
func (c *Client) RegisteredRedirectURIs() []string {
	uris := make([]string, 0, 1+len(c.AdditionalRedirectURIs))
	uris = append(uris, c.RedirectURI)
	uris = append(uris, c.AdditionalRedirectURIs...)
	return uris
}

// Grant is the authoritative record of what was approved: which owner
// granted which client which scope, bound to which redirect URI, and for
// how long. A Grant is owned by the Authorizer while pending as a code and
// by the Issuer while live as a token.
type Grant struct {
	// OwnerID identifies the resource owner (opaque to the engine)
	OwnerID string

	// ClientID identifies the client the grant was issued to
	ClientID string

	// Scope is the granted scope
	Scope scope.Scope

	// RedirectURI is the redirect URI the grant is bound to
	RedirectURI string

	// Until is the absolute expiry instant; consumers must treat the grant
	// as expired once the current time reaches it
	Until time.Time

	// Extensions is an open, forward-compatible key/value mapping
	Extensions map[string]string
}

// Expired reports whether the grant's expiry instant has passed.
func (g *Grant) Expired(now time.Time) bool {
	return !now.Before(g.Until)
}

// RefreshDisabled reports whether the grant forbids issuing a refresh token.
func (g *Grant) RefreshDisabled() bool {
	return g.Extensions[ExtensionRefreshDisabled] == "true"
}

// IssuedToken is the credential pair handed back to a client.
type IssuedToken struct {
	// AccessToken is the opaque bearer token
	AccessToken string

	// RefreshToken is the opaque refresh token; empty when the grant
	// forbids refreshing
	RefreshToken string

	// Until is the access token's expiry instant
	Until time.Time
}

// Authorizer stores pending authorization codes. Codes are single-use:
// Extract atomically consumes the code, and exactly one of any number of
// concurrent redemption attempts succeeds.
type Authorizer interface {
	// Authorize stores the grant under a fresh random opaque code
	// (minimum 16 bytes of entropy) and returns the code.
	Authorize(ctx context.Context, grant Grant) (string, error)

	// Extract atomically removes the code and returns its grant. Unknown or
	// already-redeemed codes fail ErrCodeNotFound; expired codes fail
	// ErrGrantExpired.
	Extract(ctx context.Context, code string) (*Grant, error)
}

// Issuer stores live access and refresh tokens.
//
// Refresh-token policy: the refresh token is preserved across refreshes,
// never rotated. Refresh atomically replaces the access token bound to the
// refresh token; the refresh token itself stays valid until its own
// bounded lifetime ends or Revoke destroys it, after which the record is
// reclaimed.
type Issuer interface {
	// Issue generates a fresh random access token and, unless the grant's
	// RefreshDisabled extension is set, a refresh token. A non-zero
	// grant.Until sets the access token's expiry; a zero Until gets the
	// store's token lifetime applied.
	Issue(ctx context.Context, grant Grant) (IssuedToken, error)

	// Refresh looks up the grant bound to the refresh token and issues a
	// new access token with a new expiry. A requested scope, when present,
	// must be a subset of the grant's scope (ErrScopeExceeded otherwise).
	// Unknown or revoked tokens fail ErrTokenNotFound; refresh tokens past
	// their lifetime fail ErrTokenExpired.
	Refresh(ctx context.Context, refreshToken string, requested *scope.Scope) (IssuedToken, error)

	// RecoverToken looks up the grant for an access token without consuming
	// it. Expired tokens fail ErrTokenExpired, never ErrRepositoryFault.
	RecoverToken(ctx context.Context, accessToken string) (*Grant, error)

	// RecoverRefresh looks up the grant for a refresh token without
	// consuming it. Refresh tokens past their lifetime fail ErrTokenExpired.
	RecoverRefresh(ctx context.Context, refreshToken string) (*Grant, error)

	// Revoke destroys a refresh token together with the access token
	// currently bound to it. Unknown tokens fail ErrTokenNotFound.
	Revoke(ctx context.Context, refreshToken string) error
}

// ClientRepository is the registrar's backing store. Implementations must
// distinguish not-found (ErrClientNotFound) from faults (ErrRepositoryFault).
type ClientRepository interface {
	// FindClientByID returns the client registered under id
	FindClientByID(ctx context.Context, id string) (*Client, error)

	// List enumerates registered clients. Backends composed over a cache
	// tier enumerate the cache only (best effort); the durable tier is not
	// scanned.
	List(ctx context.Context) ([]*Client, error)

	// Register stores the client, replacing any previous record with the
	// same id. This is an administrative operation, not a request path.
	Register(ctx context.Context, client *Client) error
}
