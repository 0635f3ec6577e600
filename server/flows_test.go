package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/grantauth/grantauth"
	"github.com/grantauth/grantauth/registrar"
	"github.com/grantauth/grantauth/scope"
	"github.com/grantauth/grantauth/storage"
	"github.com/grantauth/grantauth/storage/memory"
)

// approveAs returns a solicitor that approves every grant as the given owner.
func approveAs(ownerID string) Solicitor {
	return SolicitorFunc(func(ctx context.Context, pre *registrar.PreGrant) Consent {
		return Consent{Authorized: true, OwnerID: ownerID}
	})
}

var denyAll = SolicitorFunc(func(ctx context.Context, pre *registrar.PreGrant) Consent {
	return Consent{}
})

func newTestServer(t *testing.T, config *Config) *Server {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := New(store, store, store, config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clients := []*storage.Client{
		{
			ClientID:     "c1",
			RedirectURI:  "https://app/cb",
			DefaultScope: scope.MustParse("a b"),
			Type:         storage.ClientTypeConfidential,
			Secret:       []byte("s3cr3t"),
		},
		{
			ClientID:     "native",
			RedirectURI:  "https://native.example/cb",
			DefaultScope: scope.MustParse("a"),
			Type:         storage.ClientTypePublic,
		},
	}
	for _, c := range clients {
		if err := store.Register(context.Background(), c); err != nil {
			t.Fatalf("Register %s: %v", c.ClientID, err)
		}
	}
	return srv
}

// authorize runs the flow to completion and returns the issued code.
func authorize(t *testing.T, srv *Server, req *AuthorizeRequest) (code, state string) {
	t.Helper()

	result, err := srv.Authorize(context.Background(), req, approveAs("owner-1"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.RedirectTarget == "" {
		t.Fatal("Authorize returned no redirect target")
	}

	target, err := url.Parse(result.RedirectTarget)
	if err != nil {
		t.Fatalf("redirect target does not parse: %v", err)
	}
	q := target.Query()
	if q.Get("error") != "" {
		t.Fatalf("redirect carries error %q: %s", q.Get("error"), q.Get("error_description"))
	}
	if q.Get("code") == "" {
		t.Fatalf("redirect carries no code: %s", result.RedirectTarget)
	}
	return q.Get("code"), q.Get("state")
}

func wantOAuthError(t *testing.T, err error, code string) {
	t.Helper()
	var oauthErr *grantauth.OAuthError
	if !errors.As(err, &oauthErr) {
		t.Fatalf("got %v, want *OAuthError with code %s", err, code)
	}
	if oauthErr.Code != code {
		t.Fatalf("error code = %s, want %s (description: %s)", oauthErr.Code, code, oauthErr.Description)
	}
}

func TestAuthorizationCodeFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()

	code, state := authorize(t, srv, &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
		State:        "xyz",
	})
	if state != "xyz" {
		t.Errorf("state = %q, want xyz", state)
	}

	resp, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		Code:         code,
		RedirectURI:  "https://app/cb",
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.TokenType != grantauth.TokenTypeBearer {
		t.Errorf("TokenType = %q, want bearer", resp.TokenType)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", resp.ExpiresIn)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("expected both access and refresh tokens")
	}
	if resp.Scope != "a b" {
		t.Errorf("Scope = %q, want %q", resp.Scope, "a b")
	}

	// The issued token resolves to the grant
	grant, err := srv.ValidateToken(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if grant.OwnerID != "owner-1" || grant.ClientID != "c1" {
		t.Errorf("grant = %+v", grant)
	}

	// Codes are single-use: the second redemption fails
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		Code:         code,
		RedirectURI:  "https://app/cb",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidGrant)
}

func TestAuthorizeDenied(t *testing.T) {
	srv := newTestServer(t, nil)

	result, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
		State:        "xyz",
	}, denyAll)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	target, err := url.Parse(result.RedirectTarget)
	if err != nil {
		t.Fatalf("redirect target does not parse: %v", err)
	}
	q := target.Query()
	if q.Get("error") != grantauth.ErrorCodeAccessDenied {
		t.Errorf("error = %q, want access_denied", q.Get("error"))
	}
	if q.Get("state") != "xyz" {
		t.Errorf("state = %q, want xyz", q.Get("state"))
	}
	if q.Get("code") != "" {
		t.Error("denied flow must not issue a code")
	}
}

func TestAuthorizeConsentInProgress(t *testing.T) {
	srv := newTestServer(t, nil)

	pending := SolicitorFunc(func(ctx context.Context, pre *registrar.PreGrant) Consent {
		return Consent{InProgress: true, Render: "consent-page"}
	})

	result, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
	}, pending)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.RedirectTarget != "" {
		t.Error("in-progress consent must not redirect")
	}
	if result.Render != "consent-page" {
		t.Errorf("Render = %v, want consent-page", result.Render)
	}
}

func TestAuthorizeUnknownClientDoesNotRedirect(t *testing.T) {
	srv := newTestServer(t, nil)

	_, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "ghost",
	}, approveAs("owner-1"))
	wantOAuthError(t, err, grantauth.ErrorCodeUnauthorizedClient)
}

func TestAuthorizeRedirectMismatchDoesNotRedirect(t *testing.T) {
	srv := newTestServer(t, nil)

	_, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
		RedirectURI:  "https://evil.example/cb",
	}, approveAs("owner-1"))
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidRequest)
}

func TestAuthorizeUnsupportedResponseTypeRedirects(t *testing.T) {
	srv := newTestServer(t, nil)

	result, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ResponseType: "token",
		ClientID:     "c1",
		State:        "s",
	}, approveAs("owner-1"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !strings.Contains(result.RedirectTarget, "error=invalid_request") {
		t.Errorf("redirect = %q, want invalid_request error", result.RedirectTarget)
	}
}

func TestTokenRedirectURIMismatch(t *testing.T) {
	srv := newTestServer(t, nil)

	code, _ := authorize(t, srv, &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
	})

	_, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		Code:         code,
		RedirectURI:  "https://app/cb/other",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidGrant)
}

func TestTokenCodeBoundToClient(t *testing.T) {
	srv := newTestServer(t, nil)

	code, _ := authorize(t, srv, &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
	})

	// The public client cannot redeem a code issued to c1
	_, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		ClientID:    "native",
		Code:        code,
		RedirectURI: "https://app/cb",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidGrant)
}

func TestTokenClientAuthentication(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantCode string
	}{
		{name: "wrong secret", clientID: "c1", secret: "wrong", wantCode: grantauth.ErrorCodeInvalidClient},
		{name: "missing secret", clientID: "c1", secret: "", wantCode: grantauth.ErrorCodeInvalidClient},
		{name: "unknown client", clientID: "ghost", secret: "s3cr3t", wantCode: grantauth.ErrorCodeInvalidClient},
		{name: "public client with secret", clientID: "native", secret: "huh", wantCode: grantauth.ErrorCodeInvalidClient},
		{name: "empty client id", clientID: "", secret: "", wantCode: grantauth.ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.Token(ctx, &TokenRequest{
				GrantType:    GrantTypeAuthorizationCode,
				ClientID:     tt.clientID,
				ClientSecret: tt.secret,
				Code:         "whatever",
			})
			wantOAuthError(t, err, tt.wantCode)
		})
	}
}

func TestTokenUnsupportedGrantType(t *testing.T) {
	srv := newTestServer(t, nil)

	_, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    "password",
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeUnsupportedGrantType)
}

func TestRefreshFlow(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()

	code, _ := authorize(t, srv, &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
		Scope:        "a b",
	})
	first, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		Code:         code,
		RedirectURI:  "https://app/cb",
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	// Narrowing to a subset succeeds; the refresh token is preserved
	refreshed, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		RefreshToken: first.RefreshToken,
		Scope:        "a",
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Scope != "a" {
		t.Errorf("Scope = %q, want a", refreshed.Scope)
	}
	if refreshed.RefreshToken != first.RefreshToken {
		t.Error("refresh token must be preserved, not rotated")
	}
	if refreshed.AccessToken == first.AccessToken {
		t.Error("refresh must issue a new access token")
	}

	// Exceeding the granted scope fails
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		RefreshToken: first.RefreshToken,
		Scope:        "a c",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidScope)

	// The superseded access token no longer validates
	if _, err := srv.ValidateToken(ctx, first.AccessToken); err == nil {
		t.Error("superseded access token still validates")
	}
	if _, err := srv.ValidateToken(ctx, refreshed.AccessToken); err != nil {
		t.Errorf("refreshed access token does not validate: %v", err)
	}
}

func TestAccessTokenTTLConfigured(t *testing.T) {
	srv := newTestServer(t, &Config{AccessTokenTTL: 7200})
	ctx := context.Background()

	code, _ := authorize(t, srv, &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
	})
	resp, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		Code:         code,
		RedirectURI:  "https://app/cb",
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.ExpiresIn != 7200 {
		t.Errorf("ExpiresIn = %d, want the configured 7200", resp.ExpiresIn)
	}

	// Refreshed tokens get the configured lifetime as well
	refreshed, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		RefreshToken: resp.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.ExpiresIn != 7200 {
		t.Errorf("refreshed ExpiresIn = %d, want 7200", refreshed.ExpiresIn)
	}
}

func TestRevokeRefreshToken(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()

	code, _ := authorize(t, srv, &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
	})
	issued, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		Code:         code,
		RedirectURI:  "https://app/cb",
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	// A different client cannot revoke the token, and learns nothing
	if err := srv.Revoke(ctx, &RevokeRequest{
		ClientID:     "native",
		RefreshToken: issued.RefreshToken,
	}); err != nil {
		t.Fatalf("Revoke by other client: %v", err)
	}
	if _, err := srv.ValidateToken(ctx, issued.AccessToken); err != nil {
		t.Fatalf("token revoked by a different client: %v", err)
	}

	if err := srv.Revoke(ctx, &RevokeRequest{
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		RefreshToken: issued.RefreshToken,
	}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// Both halves of the pair are dead
	_, err = srv.ValidateToken(ctx, issued.AccessToken)
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidToken)
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		RefreshToken: issued.RefreshToken,
	})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidGrant)

	// Revoking again, or revoking a token that never existed, succeeds
	if err := srv.Revoke(ctx, &RevokeRequest{
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		RefreshToken: issued.RefreshToken,
	}); err != nil {
		t.Errorf("second Revoke: %v", err)
	}
	if err := srv.Revoke(ctx, &RevokeRequest{
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		RefreshToken: "never-issued",
	}); err != nil {
		t.Errorf("Revoke of unknown token: %v", err)
	}

	// Missing parameters and bad credentials still error
	err = srv.Revoke(ctx, &RevokeRequest{ClientID: "c1", ClientSecret: "s3cr3t"})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidRequest)
	err = srv.Revoke(ctx, &RevokeRequest{ClientID: "c1", ClientSecret: "wrong", RefreshToken: "x"})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidClient)
}

func TestRefreshUnknownToken(t *testing.T) {
	srv := newTestServer(t, nil)

	_, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		RefreshToken: "never-issued",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidGrant)
}

func TestRefreshTokenBoundToClient(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()

	code, _ := authorize(t, srv, &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
	})
	issued, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
		Code:         code,
		RedirectURI:  "https://app/cb",
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "native",
		RefreshToken: issued.RefreshToken,
	})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidGrant)
}

func TestClientCredentials(t *testing.T) {
	srv := newTestServer(t, &Config{EnableClientCredentials: true})
	ctx := context.Background()

	resp, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.RefreshToken != "" {
		t.Error("client_credentials must not issue a refresh token")
	}
	if resp.Scope != "a b" {
		t.Errorf("Scope = %q, want registered default", resp.Scope)
	}

	grant, err := srv.ValidateToken(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if grant.OwnerID != "c1" {
		t.Errorf("OwnerID = %q, want the client itself", grant.OwnerID)
	}

	// Public clients cannot use the grant
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType: GrantTypeClientCredentials,
		ClientID:  "native",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeUnauthorizedClient)
}

func TestClientCredentialsDisabledByDefault(t *testing.T) {
	srv := newTestServer(t, nil)

	_, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     "c1",
		ClientSecret: "s3cr3t",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeUnsupportedGrantType)
}

func TestValidateTokenUnknown(t *testing.T) {
	srv := newTestServer(t, nil)

	_, err := srv.ValidateToken(context.Background(), "never-issued")
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidToken)

	_, err = srv.ValidateToken(context.Background(), "")
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidToken)
}

func TestScopeLimitRejectsDisjointRequest(t *testing.T) {
	srv := newTestServer(t, &Config{LimitScopeToRegistered: true})

	result, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ResponseType: ResponseTypeCode,
		ClientID:     "c1",
		Scope:        "c d",
		State:        "s",
	}, approveAs("owner-1"))
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !strings.Contains(result.RedirectTarget, "error=invalid_scope") {
		t.Errorf("redirect = %q, want invalid_scope error", result.RedirectTarget)
	}
}
