package server

import (
	"context"
	"testing"

	"github.com/grantauth/grantauth"
	"github.com/grantauth/grantauth/security"
	"github.com/grantauth/grantauth/storage"
)

func TestRegisterClientConfidential(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()

	client, secret, err := srv.RegisterClient(ctx, &ClientRegistration{
		RedirectURIs: []string{"https://new.example/cb", "https://new.example/alt"},
		Scope:        "account",
		Confidential: true,
	}, "operator")
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if client.ClientID == "" {
		t.Error("expected a generated client id")
	}
	if secret == "" {
		t.Error("expected a generated secret for a confidential client")
	}
	if client.RedirectURI != "https://new.example/cb" {
		t.Errorf("RedirectURI = %q", client.RedirectURI)
	}
	if len(client.AdditionalRedirectURIs) != 1 {
		t.Errorf("AdditionalRedirectURIs = %v", client.AdditionalRedirectURIs)
	}

	// The stored secret verifies under the engine's policy
	stored, err := srv.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if err := (security.PlainPolicy{}).Verify(stored.Secret, secret); err != nil {
		t.Errorf("returned secret does not verify against stored form: %v", err)
	}

	// The freshly registered client completes a token request
	_, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     client.ClientID,
		ClientSecret: secret,
		RefreshToken: "missing",
	})
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidGrant)
}

func TestRegisterClientPublic(t *testing.T) {
	srv := newTestServer(t, nil)

	client, secret, err := srv.RegisterClient(context.Background(), &ClientRegistration{
		ClientID:     "cli-app",
		RedirectURIs: []string{"https://cli.example/cb"},
	}, "operator")
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if secret != "" {
		t.Error("public clients must not get a secret")
	}
	if client.Type != storage.ClientTypePublic {
		t.Errorf("Type = %q, want public", client.Type)
	}
	if client.ClientID != "cli-app" {
		t.Errorf("ClientID = %q, want the requested id", client.ClientID)
	}
}

func TestRegisterClientValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()

	_, _, err := srv.RegisterClient(ctx, &ClientRegistration{}, "operator")
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidRequest)

	_, _, err = srv.RegisterClient(ctx, &ClientRegistration{
		RedirectURIs: []string{"/relative/path"},
	}, "operator")
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidRequest)

	_, _, err = srv.RegisterClient(ctx, &ClientRegistration{
		RedirectURIs: []string{"https://ok.example/cb"},
		Scope:        "bad\\scope",
	}, "operator")
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidScope)
}

func TestRegisterClientRateLimited(t *testing.T) {
	srv := newTestServer(t, &Config{
		RegistrationRatePerSecond: 0.001,
		RegistrationBurst:         1,
	})
	ctx := context.Background()

	reg := &ClientRegistration{RedirectURIs: []string{"https://limited.example/cb"}}

	if _, _, err := srv.RegisterClient(ctx, reg, "10.0.0.1"); err != nil {
		t.Fatalf("first registration: %v", err)
	}

	_, _, err := srv.RegisterClient(ctx, reg, "10.0.0.1")
	wantOAuthError(t, err, grantauth.ErrorCodeInvalidRequest)

	// A different registrant has its own bucket
	if _, _, err := srv.RegisterClient(ctx, reg, "10.0.0.2"); err != nil {
		t.Fatalf("registration from distinct registrant: %v", err)
	}
}
