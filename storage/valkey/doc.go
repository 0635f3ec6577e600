// Package valkey provides a Valkey-backed cache tier for client records.
//
// Valkey is a high-performance key-value store that is wire-compatible with
// Redis. This package implements the cacheaside.CacheTier interface, making
// it the accelerator tier in front of a durable client store for deployments
// that need:
//
//   - Sub-millisecond client lookups on the authorization hot path
//   - Shared cache state across horizontally scaled instances
//   - Automatic TTL-based expiration
//
// # Key Schema
//
// All keys use a configurable prefix (default "grantauth:") to avoid
// conflicts with other applications sharing the same Valkey instance:
//
//	{prefix}client:{clientID} -> JSON(EncodedClient)
//
// Entries are written with an expiry (SET ... EX) so stale records age out
// without any sweeper.
//
// # Configuration
//
// Basic usage:
//
//	cache, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "grantauth:",
//	})
//
// With TLS:
//
//	cache, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// # Best Practices
//
//   - Always use TLS in production environments
//   - Set strong passwords for Valkey authentication
//   - Use dedicated Valkey instances or databases for client cache data
//   - Size the TTL to how quickly client registration changes must be visible
package valkey
