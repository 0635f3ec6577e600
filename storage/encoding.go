package storage

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/grantauth/grantauth/scope"
)

// EncodedClient is the persisted wire format of a client record: a flat
// object shared by the cache tier (JSON value) and the durable tier (one
// row per client). client_secret is present iff the client is confidential;
// in the durable tier a null column carries the same meaning.
type EncodedClient struct {
	ClientID               string   `json:"client_id"`
	RedirectURI            string   `json:"redirect_uri"`
	AdditionalRedirectURIs []string `json:"additional_redirect_uris,omitempty"`
	DefaultScope           string   `json:"default_scope,omitempty"`
	ClientSecret           *string  `json:"client_secret,omitempty"`
}

// EncodeClient converts a Client to its persisted form.
func EncodeClient(c *Client) *EncodedClient {
	enc := &EncodedClient{
		ClientID:               c.ClientID,
		RedirectURI:            c.RedirectURI,
		AdditionalRedirectURIs: c.AdditionalRedirectURIs,
		DefaultScope:           c.DefaultScope.String(),
	}
	if c.Confidential() {
		secret := string(c.Secret)
		enc.ClientSecret = &secret
	}
	return enc
}

// Decode validates the record and converts it back to a Client. A record
// that fails validation is corrupt or schema-mismatched; callers treat the
// returned error as a repository fault, not as client malfeasance.
func (e *EncodedClient) Decode() (*Client, error) {
	if e.ClientID == "" {
		return nil, fmt.Errorf("client record missing client_id")
	}
	if _, err := url.Parse(e.RedirectURI); err != nil || e.RedirectURI == "" {
		return nil, fmt.Errorf("client record %s: invalid redirect_uri %q", e.ClientID, e.RedirectURI)
	}
	defaultScope, err := scope.Parse(e.DefaultScope)
	if err != nil {
		return nil, fmt.Errorf("client record %s: %w", e.ClientID, err)
	}

	client := &Client{
		ClientID:               e.ClientID,
		RedirectURI:            e.RedirectURI,
		AdditionalRedirectURIs: e.AdditionalRedirectURIs,
		DefaultScope:           defaultScope,
		Type:                   ClientTypePublic,
	}
	if e.ClientSecret != nil {
		client.Type = ClientTypeConfidential
		client.Secret = []byte(*e.ClientSecret)
	}
	return client, nil
}

// MarshalClient serializes an encoded record to its cache-tier JSON value.
func MarshalClient(e *EncodedClient) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client record %s: %w", e.ClientID, err)
	}
	return data, nil
}

// UnmarshalClient deserializes a cache-tier JSON value. The result still
// needs Decode before use; unmarshalling alone performs no validation.
func UnmarshalClient(data []byte) (*EncodedClient, error) {
	var enc EncodedClient
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client record: %w", err)
	}
	return &enc, nil
}
