// Package storage defines the persistence contracts of the grantauth engine.
//
// Three interfaces carry all shared state:
//   - Authorizer: pending single-use authorization codes
//   - Issuer: live access and refresh tokens
//   - ClientRepository: registered clients (the registrar's backing store)
//
// The package also holds the shared record types (Client, Grant,
// IssuedToken), the sentinel errors stores report, and the EncodedClient
// wire format used by every persistence tier.
//
// Implementations are provided in subpackages:
//   - storage/memory: sharded in-memory stores for development, testing,
//     and single-instance deployments
//   - storage/cacheaside: a ClientRepository composing a fast cache tier
//     in front of a durable tier
//   - storage/valkey: cache tier on Valkey/Redis-compatible servers
//   - storage/scylla: durable tier on Scylla/Cassandra
//   - storage/mock: function-hook mocks for unit testing
package storage
