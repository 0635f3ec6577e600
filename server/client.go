package server

import (
	"context"
	"fmt"
	"net/url"

	"github.com/grantauth/grantauth"
	"github.com/grantauth/grantauth/scope"
	"github.com/grantauth/grantauth/storage"
)

// ClientRegistration is the administrative request to register a client.
type ClientRegistration struct {
	// ClientID is the requested identifier; generated when empty
	ClientID string

	// RedirectURIs are the URIs the client may receive responses on. The
	// first one is the primary, used when authorization requests omit
	// redirect_uri. At least one is required.
	RedirectURIs []string

	// Scope is the space-delimited default scope granted when requests
	// omit one
	Scope string

	// Confidential requests a confidential client. A secret is generated
	// and stored under the engine's secret policy.
	Confidential bool
}

// RegisterClient registers a client, replacing any previous registration
// under the same id. For confidential clients the generated plaintext
// secret is returned once and never stored; only the policy's digest is.
//
// registrantID identifies who is registering (an operator name, an IP) for
// rate limiting; registration is an administrative path, not a request path.
func (s *Server) RegisterClient(ctx context.Context, reg *ClientRegistration, registrantID string) (*storage.Client, string, error) {
	if reg == nil {
		return nil, "", grantauth.ErrInvalidRequest("missing registration request")
	}

	if !s.registrationLimiter.Allow(registrantID) {
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordRateLimitExceeded(ctx, "client_registration")
		}
		return nil, "", grantauth.ErrInvalidRequest("registration rate limit exceeded")
	}

	if err := validateRedirectURIs(reg.RedirectURIs); err != nil {
		return nil, "", grantauth.ErrInvalidRequest(err.Error())
	}

	defaultScope, err := scope.Parse(reg.Scope)
	if err != nil {
		return nil, "", grantauth.ErrInvalidScope("malformed default scope")
	}

	clientID := reg.ClientID
	if clientID == "" {
		clientID = generateRandomToken()
	}

	client := &storage.Client{
		ClientID:               clientID,
		RedirectURI:            reg.RedirectURIs[0],
		AdditionalRedirectURIs: reg.RedirectURIs[1:],
		DefaultScope:           defaultScope,
		Type:                   storage.ClientTypePublic,
	}

	var plainSecret string
	if reg.Confidential {
		plainSecret = generateRandomToken()
		digest, digestErr := s.secretPolicy.Digest(plainSecret)
		if digestErr != nil {
			s.Logger.Error("Failed to digest client secret", "error", digestErr)
			return nil, "", grantauth.ErrServerError("client registration failed")
		}
		client.Type = storage.ClientTypeConfidential
		client.Secret = digest
	}

	if err := s.clients.Register(ctx, client); err != nil {
		s.Logger.Error("Failed to register client", "client_id", clientID, "error", err)
		return nil, "", grantauth.ErrServerError("client registration failed")
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordClientRegistration(ctx, client.Type)
	}
	s.Logger.Info("Registered OAuth client",
		"client_id", client.ClientID,
		"client_type", client.Type,
		"redirect_uri", client.RedirectURI,
		"default_scope", client.DefaultScope.String(),
		"registrant", registrantID)

	return client, plainSecret, nil
}

// validateRedirectURIs checks each URI parses as an absolute URL.
func validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return fmt.Errorf("at least one redirect URI is required")
	}
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid redirect URI %q: %v", raw, err)
		}
		if !u.IsAbs() {
			return fmt.Errorf("redirect URI %q must be absolute", raw)
		}
	}
	return nil
}

// GetClient retrieves a registered client by id.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clients.FindClientByID(ctx, clientID)
}
