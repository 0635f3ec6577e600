// Package memory provides an in-memory implementation of the storage interfaces.
//
// This package implements Authorizer, Issuer, and ClientRepository using Go's
// built-in maps, sharded by FNV-1a of the key so unrelated entries never
// contend on one lock. It is suitable for development, testing, and
// single-instance deployments where persistence is not required.
//
// Features:
//   - Atomic single-use extraction of authorization codes
//   - Refresh tokens preserved across refreshes; only the access token rotates
//   - Bounded refresh token lifetime and explicit revocation
//   - Automatic cleanup of expired codes, tokens, and dead refresh records
//   - Configurable token, code, refresh, and cleanup intervals
//
// For deployments requiring persistence or multiple instances, compose the
// storage/cacheaside repository over storage/valkey and storage/scylla.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	// Use store for the Authorizer, Issuer, and ClientRepository interfaces
//	srv, _ := server.New(store, store, store, nil)
package memory
