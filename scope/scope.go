// Package scope implements the space-delimited OAuth scope value
// (RFC 6749 section 3.3): parsing, normalization, and the subset
// relation used for scope negotiation and refresh-token narrowing.
package scope

import (
	"fmt"
	"strings"
)

// Scope is a set of permission tokens. The zero value is the empty scope.
// Tokens are kept in first-seen order; duplicates are dropped on Parse.
type Scope struct {
	tokens []string
}

// Parse parses a space-delimited scope string. Each token must consist of
// printable ASCII excluding space, double quote, and backslash
// (RFC 6749 section 3.3). The empty string parses to the empty scope.
func Parse(raw string) (Scope, error) {
	if raw == "" {
		return Scope{}, nil
	}

	seen := make(map[string]bool)
	var tokens []string
	for _, tok := range strings.Split(raw, " ") {
		if tok == "" {
			// Consecutive or leading/trailing delimiters are malformed.
			return Scope{}, fmt.Errorf("malformed scope string %q: empty scope-token", raw)
		}
		if err := validateToken(tok); err != nil {
			return Scope{}, err
		}
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	return Scope{tokens: tokens}, nil
}

// MustParse parses a scope string and panics on malformed input.
// Intended for constants and tests.
func MustParse(raw string) Scope {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func validateToken(tok string) error {
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		// NQCHAR: %x21 / %x23-5B / %x5D-7E
		if c == 0x21 || (c >= 0x23 && c <= 0x5B) || (c >= 0x5D && c <= 0x7E) {
			continue
		}
		return fmt.Errorf("malformed scope-token %q: invalid character %q", tok, c)
	}
	return nil
}

// String renders the scope as a space-delimited string.
func (s Scope) String() string {
	return strings.Join(s.tokens, " ")
}

// IsEmpty reports whether the scope contains no tokens.
func (s Scope) IsEmpty() bool {
	return len(s.tokens) == 0
}

// Tokens returns a copy of the scope's tokens.
func (s Scope) Tokens() []string {
	out := make([]string, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// Contains reports whether the scope includes the given token.
func (s Scope) Contains(token string) bool {
	for _, t := range s.tokens {
		if t == token {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every token of s is present in other.
// The empty scope is a subset of everything.
func (s Scope) SubsetOf(other Scope) bool {
	for _, t := range s.tokens {
		if !other.Contains(t) {
			return false
		}
	}
	return true
}

// Equal reports whether both scopes contain exactly the same tokens,
// irrespective of order.
func (s Scope) Equal(other Scope) bool {
	return len(s.tokens) == len(other.tokens) && s.SubsetOf(other) && other.SubsetOf(s)
}
