package grantauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestOAuthErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *OAuthError
		wantCode   string
		wantStatus int
	}{
		{name: "invalid_request", err: ErrInvalidRequest("d"), wantCode: ErrorCodeInvalidRequest, wantStatus: http.StatusBadRequest},
		{name: "invalid_client", err: ErrInvalidClient("d"), wantCode: ErrorCodeInvalidClient, wantStatus: http.StatusUnauthorized},
		{name: "invalid_grant", err: ErrInvalidGrant("d"), wantCode: ErrorCodeInvalidGrant, wantStatus: http.StatusBadRequest},
		{name: "invalid_scope", err: ErrInvalidScope("d"), wantCode: ErrorCodeInvalidScope, wantStatus: http.StatusBadRequest},
		{name: "invalid_token", err: ErrInvalidToken("d"), wantCode: ErrorCodeInvalidToken, wantStatus: http.StatusUnauthorized},
		{name: "unauthorized_client", err: ErrUnauthorizedClient("d"), wantCode: ErrorCodeUnauthorizedClient, wantStatus: http.StatusBadRequest},
		{name: "unsupported_grant_type", err: ErrUnsupportedGrantType("d"), wantCode: ErrorCodeUnsupportedGrantType, wantStatus: http.StatusBadRequest},
		{name: "access_denied", err: ErrAccessDenied("d"), wantCode: ErrorCodeAccessDenied, wantStatus: http.StatusForbidden},
		{name: "server_error", err: ErrServerError("d"), wantCode: ErrorCodeServerError, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "d" {
				t.Errorf("Description = %q", tt.err.Description)
			}
		})
	}
}

func TestOAuthErrorMessage(t *testing.T) {
	err := NewOAuthError(ErrorCodeInvalidGrant, "code already redeemed", http.StatusBadRequest)

	if got := err.Error(); got != "invalid_grant: code already redeemed" {
		t.Errorf("Error() = %q", got)
	}
}

func TestOAuthErrorUnwrapsThroughWrapping(t *testing.T) {
	inner := ErrInvalidGrant("expired")
	wrapped := fmt.Errorf("token endpoint: %w", inner)

	var oauthErr *OAuthError
	if !errors.As(wrapped, &oauthErr) {
		t.Fatal("errors.As failed to recover *OAuthError")
	}
	if oauthErr.Code != ErrorCodeInvalidGrant {
		t.Errorf("Code = %q", oauthErr.Code)
	}
}
