package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantauth/grantauth/scope"
)

func TestEncodeClientRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		client *Client
	}{
		{
			name: "confidential with additional uris",
			client: &Client{
				ClientID:               "c1",
				RedirectURI:            "https://app/cb",
				AdditionalRedirectURIs: []string{"https://app/cb2", "https://app/cb3"},
				DefaultScope:           scope.MustParse("read write"),
				Type:                   ClientTypeConfidential,
				Secret:                 []byte("s3cr3t"),
			},
		},
		{
			name: "public minimal",
			client: &Client{
				ClientID:     "c2",
				RedirectURI:  "https://app/cb",
				DefaultScope: scope.MustParse("read"),
				Type:         ClientTypePublic,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalClient(EncodeClient(tt.client))
			require.NoError(t, err)

			encoded, err := UnmarshalClient(data)
			require.NoError(t, err)
			got, err := encoded.Decode()
			require.NoError(t, err)

			assert.Equal(t, tt.client.ClientID, got.ClientID)
			assert.Equal(t, tt.client.RedirectURI, got.RedirectURI)
			assert.Equal(t, tt.client.AdditionalRedirectURIs, got.AdditionalRedirectURIs)
			assert.Equal(t, tt.client.Type, got.Type)
			assert.Equal(t, tt.client.Secret, got.Secret)
			assert.True(t, got.DefaultScope.Equal(tt.client.DefaultScope),
				"scope mismatch: got %q want %q", got.DefaultScope, tt.client.DefaultScope)
		})
	}
}

func TestEncodedClientSecretPresence(t *testing.T) {
	// client_secret must be present iff the client is confidential
	data, err := MarshalClient(EncodeClient(&Client{
		ClientID:     "pub",
		RedirectURI:  "https://app/cb",
		DefaultScope: scope.MustParse("read"),
		Type:         ClientTypePublic,
	}))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "client_secret", "public client record must omit client_secret")

	// and its presence alone makes the decoded client confidential
	encoded, err := UnmarshalClient([]byte(`{"client_id":"conf","redirect_uri":"https://app/cb","client_secret":"s"}`))
	require.NoError(t, err)
	client, err := encoded.Decode()
	require.NoError(t, err)
	assert.True(t, client.Confidential(), "record with client_secret must decode as confidential")
}

func TestDecodeCorruptRecords(t *testing.T) {
	_, err := UnmarshalClient([]byte("{{"))
	assert.Error(t, err, "non-JSON record must fail to unmarshal")

	tests := []struct {
		name string
		data string
	}{
		{name: "missing client_id", data: `{"redirect_uri":"https://app/cb"}`},
		{name: "missing redirect_uri", data: `{"client_id":"c"}`},
		{name: "malformed scope", data: `{"client_id":"c","redirect_uri":"https://app/cb","default_scope":"a  b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := UnmarshalClient([]byte(tt.data))
			require.NoError(t, err)
			_, err = encoded.Decode()
			assert.Error(t, err)
		})
	}
}
