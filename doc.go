// Package grantauth provides the shared protocol vocabulary for the
// grantauth OAuth 2.0 authorization-server engine: the RFC 6749 error
// taxonomy and the token/error response bodies produced by the engine.
//
// The engine itself lives in the server package; storage contracts and
// backends live under storage. This package intentionally contains only
// plain declarations so every other package can import it.
package grantauth
