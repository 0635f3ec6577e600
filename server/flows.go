package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/grantauth/grantauth"
	"github.com/grantauth/grantauth/internal/util"
	"github.com/grantauth/grantauth/registrar"
	"github.com/grantauth/grantauth/scope"
	"github.com/grantauth/grantauth/security"
	"github.com/grantauth/grantauth/storage"
)

// Grant type values accepted at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// ResponseTypeCode is the only supported response_type.
const ResponseTypeCode = "code"

// tokenLogLength is how many token characters are kept in log output
const tokenLogLength = 8

// AuthorizeRequest carries the parameters of an authorization request
// (RFC 6749 section 4.1.1).
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
}

// Consent is the resource owner's decision on a negotiated grant.
type Consent struct {
	// Authorized is true when the owner approved the grant
	Authorized bool

	// OwnerID identifies the approving owner; required when Authorized
	OwnerID string

	// InProgress signals the decision is still pending. Render carries an
	// opaque payload (a consent page, a challenge) for the caller to
	// present; the post-consent request re-enters Authorize as a new call.
	InProgress bool
	Render     any
}

// Solicitor obtains the resource owner's consent for a negotiated grant.
// The engine holds no state across the solicitation: an InProgress answer
// ends the request, and the resumed flow is a fresh Authorize call.
type Solicitor interface {
	SolicitConsent(ctx context.Context, pre *registrar.PreGrant) Consent
}

// SolicitorFunc adapts a function to the Solicitor interface.
type SolicitorFunc func(ctx context.Context, pre *registrar.PreGrant) Consent

// SolicitConsent calls f.
func (f SolicitorFunc) SolicitConsent(ctx context.Context, pre *registrar.PreGrant) Consent {
	return f(ctx, pre)
}

// AuthorizeResult is the outcome of an authorization request. Exactly one
// field is set: RedirectTarget for both success and error redirects, Render
// when consent is in progress.
type AuthorizeResult struct {
	RedirectTarget string
	Render         any
}

// Authorize runs the authorization-code flow: validate the client and
// redirect URI, negotiate the scope, solicit the owner's consent, and on
// approval store a single-use code bound to the grant.
//
// Validation failures that occur before a redirect URI is bound (unknown
// client, unregistered redirect URI) return an error and must never be
// delivered to the presented URI. Every later failure is delivered as an
// error redirect carrying the request's state.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest, solicitor Solicitor) (*AuthorizeResult, error) {
	if req == nil {
		return nil, grantauth.ErrInvalidRequest("missing authorization request")
	}
	if solicitor == nil {
		return nil, grantauth.ErrServerError("no consent solicitor configured")
	}

	bound, err := s.registrar.BoundRedirect(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		switch {
		case errors.Is(err, registrar.ErrUnknownClient):
			return nil, grantauth.ErrUnauthorizedClient("unknown client")
		case errors.Is(err, registrar.ErrRedirectMismatch):
			return nil, grantauth.ErrInvalidRequest("redirect_uri is not registered for this client")
		default:
			s.Logger.Error("Client lookup failed during authorization",
				"client_id", req.ClientID,
				"error", err)
			return nil, grantauth.ErrServerError("client lookup failed")
		}
	}

	// From here on the redirect URI is trusted and failures redirect back.
	if req.ResponseType != ResponseTypeCode {
		return s.errorRedirect(bound, grantauth.ErrorCodeInvalidRequest,
			fmt.Sprintf("unsupported response_type %q", req.ResponseType), req.State)
	}

	var requested *scope.Scope
	if req.Scope != "" {
		parsed, parseErr := scope.Parse(req.Scope)
		if parseErr != nil {
			return s.errorRedirect(bound, grantauth.ErrorCodeInvalidScope, "malformed scope", req.State)
		}
		requested = &parsed
	}

	pre, err := s.registrar.Negotiate(ctx, bound, requested)
	if err != nil {
		if errors.Is(err, registrar.ErrInvalidScope) {
			return s.errorRedirect(bound, grantauth.ErrorCodeInvalidScope,
				"requested scope is not permitted for this client", req.State)
		}
		s.Logger.Error("Scope negotiation failed", "client_id", req.ClientID, "error", err)
		return s.errorRedirect(bound, grantauth.ErrorCodeServerError, "scope negotiation failed", req.State)
	}

	consent := solicitor.SolicitConsent(ctx, pre)
	if consent.InProgress {
		return &AuthorizeResult{Render: consent.Render}, nil
	}
	if !consent.Authorized {
		s.Logger.Info("Authorization denied by resource owner", "client_id", pre.ClientID)
		return s.errorRedirect(bound, grantauth.ErrorCodeAccessDenied, "resource owner denied the request", req.State)
	}
	if consent.OwnerID == "" {
		s.Logger.Error("Solicitor approved grant without an owner id", "client_id", pre.ClientID)
		return s.errorRedirect(bound, grantauth.ErrorCodeServerError, "authorization failed", req.State)
	}

	grant := storage.Grant{
		OwnerID:     consent.OwnerID,
		ClientID:    pre.ClientID,
		Scope:       pre.Scope,
		RedirectURI: pre.RedirectURI,
		Until:       time.Now().Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	code, err := s.authorizer.Authorize(ctx, grant)
	if err != nil {
		s.Logger.Error("Failed to store authorization code", "client_id", pre.ClientID, "error", err)
		return s.errorRedirect(bound, grantauth.ErrorCodeServerError, "authorization failed", req.State)
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCodeIssued(ctx, pre.ClientID)
	}
	s.Logger.Info("Authorization code issued",
		"client_id", pre.ClientID,
		"owner_id", consent.OwnerID,
		"scope", pre.Scope.String(),
		"code_prefix", util.SafeTruncate(code, tokenLogLength))

	target, err := redirectTarget(bound.RedirectURI(), map[string]string{
		"code":  code,
		"state": req.State,
	})
	if err != nil {
		return nil, grantauth.ErrServerError("failed to build redirect target")
	}
	return &AuthorizeResult{RedirectTarget: target}, nil
}

// errorRedirect builds an error redirect to the bound URI (RFC 6749
// section 4.1.2.1).
func (s *Server) errorRedirect(bound *registrar.BoundClient, code, description, state string) (*AuthorizeResult, error) {
	target, err := redirectTarget(bound.RedirectURI(), map[string]string{
		"error":             code,
		"error_description": description,
		"state":             state,
	})
	if err != nil {
		return nil, grantauth.ErrServerError("failed to build redirect target")
	}
	return &AuthorizeResult{RedirectTarget: target}, nil
}

// redirectTarget appends the given parameters to the URI's query, keeping
// any query the registered URI already carries. Empty values are omitted.
func redirectTarget(uri string, params map[string]string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid redirect uri: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TokenRequest carries the parameters of a token request
// (RFC 6749 sections 4.1.3, 6, and 4.4.2).
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// Code and RedirectURI apply to the authorization_code grant.
	// RedirectURI must equal the URI the code was bound to and is required
	// on every exchange, even when the authorization request omitted
	// redirect_uri and the code was bound to the registered primary URI.
	// RFC 6749 section 4.1.3 requires the parameter only conditionally;
	// this engine always does.
	Code        string
	RedirectURI string

	// RefreshToken applies to the refresh_token grant
	RefreshToken string

	// Scope optionally narrows the refresh_token and client_credentials grants
	Scope string
}

// Token authenticates the client and dispatches on grant_type. Every error
// it returns is a *grantauth.OAuthError safe to serialize to the client;
// backing-store details are logged, never surfaced.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*grantauth.TokenResponse, error) {
	if req == nil {
		return nil, grantauth.ErrInvalidRequest("missing token request")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.exchangeCode(ctx, client, req)
	case GrantTypeRefreshToken:
		return s.refreshToken(ctx, client, req)
	case GrantTypeClientCredentials:
		return s.clientCredentials(ctx, client, req)
	default:
		return nil, grantauth.ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", req.GrantType))
	}
}

// authenticateClient resolves and authenticates the requesting client.
// Confidential clients must present their secret; verification runs in
// constant time, and unknown clients cost a dummy verification so lookup
// failures are not observable through timing.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	if clientID == "" {
		return nil, grantauth.ErrInvalidRequest("client_id is required")
	}

	client, err := s.clients.FindClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			// Equalize cost with the known-client path before failing
			_ = security.VerifyDummy(s.secretPolicy, clientSecret)
			s.Logger.Debug("Token request from unknown client", "client_id", clientID)
			return nil, grantauth.ErrInvalidClient("client authentication failed")
		}
		s.Logger.Error("Client lookup failed during authentication", "client_id", clientID, "error", err)
		return nil, grantauth.ErrServerError("client lookup failed")
	}

	if client.Confidential() {
		if err := s.secretPolicy.Verify(client.Secret, clientSecret); err != nil {
			s.Logger.Warn("Client secret verification failed", "client_id", clientID)
			return nil, grantauth.ErrInvalidClient("client authentication failed")
		}
		return client, nil
	}

	// Public clients have no credentials; presenting a secret anyway is a
	// confused or misconfigured client.
	if clientSecret != "" {
		s.Logger.Warn("Public client presented a secret", "client_id", clientID)
		return nil, grantauth.ErrInvalidClient("client authentication failed")
	}
	return client, nil
}

// exchangeCode redeems a single-use authorization code for tokens. Unknown,
// consumed, and expired codes, as well as client or redirect mismatches,
// are indistinguishable to the client: all report invalid_grant. The
// specific reason is logged.
func (s *Server) exchangeCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*grantauth.TokenResponse, error) {
	if req.Code == "" {
		return nil, grantauth.ErrInvalidRequest("code is required")
	}

	grant, err := s.authorizer.Extract(ctx, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeNotFound):
			// Possibly a replayed code; the first redemption already consumed it
			if s.instrumentation != nil {
				s.instrumentation.Metrics().RecordCodeReuseDetected(ctx)
			}
			s.Logger.Debug("Authorization code redemption failed",
				"reason", "unknown_or_redeemed",
				"client_id", client.ClientID,
				"code_prefix", util.SafeTruncate(req.Code, tokenLogLength))
		case errors.Is(err, storage.ErrGrantExpired):
			s.Logger.Debug("Authorization code redemption failed",
				"reason", "expired",
				"client_id", client.ClientID,
				"code_prefix", util.SafeTruncate(req.Code, tokenLogLength))
		default:
			s.Logger.Error("Authorization code extraction failed", "error", err)
			return nil, grantauth.ErrServerError("code redemption failed")
		}
		return nil, grantauth.ErrInvalidGrant("invalid authorization code")
	}

	if grant.ClientID != client.ClientID {
		s.Logger.Debug("Authorization code redemption failed",
			"reason", "client_mismatch",
			"client_id", client.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, tokenLogLength))
		return nil, grantauth.ErrInvalidGrant("invalid authorization code")
	}
	if req.RedirectURI != grant.RedirectURI {
		s.Logger.Debug("Authorization code redemption failed",
			"reason", "redirect_uri_mismatch",
			"client_id", client.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, tokenLogLength))
		return nil, grantauth.ErrInvalidGrant("invalid authorization code")
	}

	// The code's expiry window has served its purpose; the issued token
	// gets the configured access token lifetime.
	grant.Until = time.Now().Add(time.Duration(s.Config.AccessTokenTTL) * time.Second)

	issued, err := s.issuer.Issue(ctx, *grant)
	if err != nil {
		s.Logger.Error("Token issuance failed", "client_id", client.ClientID, "error", err)
		return nil, grantauth.ErrServerError("token issuance failed")
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCodeExchange(ctx, client.ClientID)
		s.instrumentation.Metrics().RecordTokenIssued(ctx, client.ClientID, GrantTypeAuthorizationCode)
	}
	s.Logger.Info("Access token issued",
		"client_id", client.ClientID,
		"owner_id", grant.OwnerID,
		"grant_type", GrantTypeAuthorizationCode,
		"token_prefix", util.SafeTruncate(issued.AccessToken, tokenLogLength))

	return tokenResponse(issued, grant.Scope), nil
}

// refreshToken issues a fresh access token for a live refresh token. The
// refresh token itself is preserved, never rotated; the previous access
// token is superseded atomically.
func (s *Server) refreshToken(ctx context.Context, client *storage.Client, req *TokenRequest) (*grantauth.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, grantauth.ErrInvalidRequest("refresh_token is required")
	}

	grant, err := s.issuer.RecoverRefresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			s.Logger.Debug("Refresh failed",
				"reason", "unknown_or_expired_refresh_token",
				"client_id", client.ClientID,
				"token_prefix", util.SafeTruncate(req.RefreshToken, tokenLogLength))
			return nil, grantauth.ErrInvalidGrant("invalid refresh token")
		}
		s.Logger.Error("Refresh token lookup failed", "client_id", client.ClientID, "error", err)
		return nil, grantauth.ErrServerError("refresh failed")
	}
	if grant.ClientID != client.ClientID {
		s.Logger.Warn("Refresh token presented by a different client",
			"client_id", client.ClientID,
			"grant_client_id", grant.ClientID)
		return nil, grantauth.ErrInvalidGrant("invalid refresh token")
	}

	var requested *scope.Scope
	if req.Scope != "" {
		parsed, parseErr := scope.Parse(req.Scope)
		if parseErr != nil {
			return nil, grantauth.ErrInvalidScope("malformed scope")
		}
		requested = &parsed
	}

	issued, err := s.issuer.Refresh(ctx, req.RefreshToken, requested)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrScopeExceeded):
			return nil, grantauth.ErrInvalidScope("requested scope exceeds the granted scope")
		case errors.Is(err, storage.ErrTokenNotFound), errors.Is(err, storage.ErrTokenExpired):
			return nil, grantauth.ErrInvalidGrant("invalid refresh token")
		default:
			s.Logger.Error("Refresh failed", "client_id", client.ClientID, "error", err)
			return nil, grantauth.ErrServerError("refresh failed")
		}
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenRefresh(ctx, client.ClientID)
	}
	s.Logger.Info("Access token refreshed",
		"client_id", client.ClientID,
		"token_prefix", util.SafeTruncate(issued.AccessToken, tokenLogLength))

	responseScope := grant.Scope
	if requested != nil {
		responseScope = *requested
	}
	return tokenResponse(issued, responseScope), nil
}

// clientCredentials issues a token for the client's own account. Only
// confidential clients qualify, and the grant carries no refresh token:
// the client can always authenticate again.
func (s *Server) clientCredentials(ctx context.Context, client *storage.Client, req *TokenRequest) (*grantauth.TokenResponse, error) {
	if !s.Config.EnableClientCredentials {
		return nil, grantauth.ErrUnsupportedGrantType("client_credentials grant is not enabled")
	}
	if !client.Confidential() {
		return nil, grantauth.ErrUnauthorizedClient("client_credentials requires a confidential client")
	}

	var requested *scope.Scope
	if req.Scope != "" {
		parsed, parseErr := scope.Parse(req.Scope)
		if parseErr != nil {
			return nil, grantauth.ErrInvalidScope("malformed scope")
		}
		requested = &parsed
	}

	bound, err := s.registrar.BoundRedirect(ctx, client.ClientID, "")
	if err != nil {
		s.Logger.Error("Client binding failed for client_credentials", "client_id", client.ClientID, "error", err)
		return nil, grantauth.ErrServerError("client lookup failed")
	}
	pre, err := s.registrar.Negotiate(ctx, bound, requested)
	if err != nil {
		if errors.Is(err, registrar.ErrInvalidScope) {
			return nil, grantauth.ErrInvalidScope("requested scope is not permitted for this client")
		}
		s.Logger.Error("Scope negotiation failed for client_credentials", "client_id", client.ClientID, "error", err)
		return nil, grantauth.ErrServerError("scope negotiation failed")
	}

	grant := storage.Grant{
		OwnerID:  client.ClientID,
		ClientID: client.ClientID,
		Scope:    pre.Scope,
		Until:    time.Now().Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
		Extensions: map[string]string{
			storage.ExtensionRefreshDisabled: "true",
		},
	}

	issued, err := s.issuer.Issue(ctx, grant)
	if err != nil {
		s.Logger.Error("Token issuance failed", "client_id", client.ClientID, "error", err)
		return nil, grantauth.ErrServerError("token issuance failed")
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenIssued(ctx, client.ClientID, GrantTypeClientCredentials)
	}
	s.Logger.Info("Access token issued",
		"client_id", client.ClientID,
		"grant_type", GrantTypeClientCredentials,
		"token_prefix", util.SafeTruncate(issued.AccessToken, tokenLogLength))

	return tokenResponse(issued, pre.Scope), nil
}

// RevokeRequest carries the parameters of a revocation request
// (RFC 7009 section 2.1).
type RevokeRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Revoke destroys a refresh token and the access token currently bound to
// it. Unknown and expired tokens succeed (RFC 7009 section 2.2): the
// client's goal, a token that no longer works, is already met. A token
// owned by a different client is treated the same way and left intact, so
// revocation leaks nothing about other clients' tokens.
func (s *Server) Revoke(ctx context.Context, req *RevokeRequest) error {
	if req == nil {
		return grantauth.ErrInvalidRequest("missing revocation request")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return err
	}
	if req.RefreshToken == "" {
		return grantauth.ErrInvalidRequest("refresh_token is required")
	}

	grant, err := s.issuer.RecoverRefresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			s.Logger.Debug("Revocation of unknown or expired refresh token",
				"client_id", client.ClientID,
				"token_prefix", util.SafeTruncate(req.RefreshToken, tokenLogLength))
			return nil
		}
		s.Logger.Error("Refresh token lookup failed during revocation", "client_id", client.ClientID, "error", err)
		return grantauth.ErrServerError("revocation failed")
	}
	if grant.ClientID != client.ClientID {
		s.Logger.Warn("Revocation attempted by a different client",
			"client_id", client.ClientID,
			"grant_client_id", grant.ClientID)
		return nil
	}

	if err := s.issuer.Revoke(ctx, req.RefreshToken); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		s.Logger.Error("Revocation failed", "client_id", client.ClientID, "error", err)
		return grantauth.ErrServerError("revocation failed")
	}

	s.Logger.Info("Refresh token revoked",
		"client_id", client.ClientID,
		"token_prefix", util.SafeTruncate(req.RefreshToken, tokenLogLength))
	return nil
}

// ValidateToken resolves an access token to its grant for protected-resource
// checks. The lookup does not consume the token.
func (s *Server) ValidateToken(ctx context.Context, accessToken string) (*storage.Grant, error) {
	if accessToken == "" {
		return nil, grantauth.ErrInvalidToken("missing access token")
	}

	grant, err := s.issuer.RecoverToken(ctx, accessToken)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenExpired):
			return nil, grantauth.ErrInvalidToken("access token expired")
		case errors.Is(err, storage.ErrTokenNotFound):
			return nil, grantauth.ErrInvalidToken("invalid access token")
		default:
			s.Logger.Error("Token validation failed", "error", err)
			return nil, grantauth.ErrServerError("token validation failed")
		}
	}
	return grant, nil
}

// tokenResponse serializes an issued token. expires_in is rounded to the
// nearest second so a token issued moments ago still reports its full TTL.
func tokenResponse(issued storage.IssuedToken, granted scope.Scope) *grantauth.TokenResponse {
	return &grantauth.TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    grantauth.TokenTypeBearer,
		ExpiresIn:    int64(math.Round(time.Until(issued.Until).Seconds())),
		RefreshToken: issued.RefreshToken,
		Scope:        granted.String(),
	}
}
