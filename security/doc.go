// Package security provides security primitives shared across the engine:
// clock-skew-tolerant expiry checks, client-secret verification policies,
// and token-bucket rate limiting for the administrative registration path.
//
// Secret verification is deliberately policy-shaped: the registrar stores
// whatever bytes the active policy produced at registration time, and the
// token endpoint verifies presented secrets through the same policy. Both
// provided policies (PlainPolicy, BcryptPolicy) compare in constant time
// and always perform the comparison work even for unknown clients, so a
// timing observer cannot distinguish "unknown client" from "wrong secret".
package security
