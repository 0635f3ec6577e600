// Package server implements the OAuth 2.0 authorization-server engine:
// the authorization-code flow, the token endpoint with its three grant
// types (authorization_code, refresh_token, client_credentials),
// refresh-token revocation, and administrative client registration.
//
// The engine is transport-agnostic. An HTTP layer parses requests into
// AuthorizeRequest and TokenRequest values and serializes the returned
// TokenResponse or *grantauth.OAuthError; consent UI is supplied through
// the Solicitor interface. All shared state lives behind the injected
// storage interfaces, so one Server serves concurrent requests.
//
// # Usage
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, store, store, &server.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := srv.Authorize(ctx, &server.AuthorizeRequest{
//		ResponseType: server.ResponseTypeCode,
//		ClientID:     "my-client",
//		State:        "xyz",
//	}, solicitor)
//
// Every error returned from Token and ValidateToken is a
// *grantauth.OAuthError carrying an RFC 6749 error code and an HTTP
// status; storage faults are logged and reported as server_error.
package server
