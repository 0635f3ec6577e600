package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for every failed secret verification.
// The message is deliberately generic to prevent information leakage.
var ErrInvalidCredentials = errors.New("invalid client credentials")

// SecretPolicy defines how client secrets are stored and verified.
// Digest is applied once at registration time; Verify runs on every token
// request and must take the same time whether or not the secret matches.
type SecretPolicy interface {
	// Digest transforms a plaintext secret into its stored form
	Digest(plain string) ([]byte, error)

	// Verify checks a presented plaintext secret against the stored form.
	// Returns ErrInvalidCredentials on mismatch.
	Verify(stored []byte, presented string) error
}

// PlainPolicy stores secrets verbatim and compares them in constant time.
// This matches the persisted client record format, where client_secret
// carries the secret as registered.
type PlainPolicy struct{}

// Digest returns the secret unchanged.
func (PlainPolicy) Digest(plain string) ([]byte, error) {
	return []byte(plain), nil
}

// Verify compares SHA-256 digests of both values with a constant-time
// comparison. Hashing first makes the comparison independent of both
// secret lengths, so neither length nor prefix information leaks.
func (PlainPolicy) Verify(stored []byte, presented string) error {
	storedSum := sha256.Sum256(stored)
	presentedSum := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(storedSum[:], presentedSum[:]) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// BcryptPolicy stores bcrypt digests instead of plaintext secrets. Records
// written under this policy carry the digest in the client_secret field.
type BcryptPolicy struct {
	// Cost is the bcrypt cost parameter; bcrypt.DefaultCost when zero
	Cost int
}

// Digest hashes the secret with bcrypt.
func (p BcryptPolicy) Digest(plain string) ([]byte, error) {
	cost := p.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}
	return hash, nil
}

// Verify compares the presented secret against the stored bcrypt digest.
func (p BcryptPolicy) Verify(stored []byte, presented string) error {
	if err := bcrypt.CompareHashAndPassword(stored, []byte(presented)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// dummySecret is the stored form compared against when the client does not
// exist, so that verification work is always performed.
var dummySecret = []byte("grantauth-dummy-secret-for-constant-time-verification")

// dummyBcrypt is a pre-computed bcrypt hash (of an unpublished value) used
// by VerifyDummy under BcryptPolicy.
var dummyBcrypt = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// VerifyDummy performs a verification against a fixed dummy secret. Callers
// use it when client lookup failed, so the request costs the same as a real
// verification. It always returns ErrInvalidCredentials.
func VerifyDummy(policy SecretPolicy, presented string) error {
	stored := dummySecret
	if _, ok := policy.(BcryptPolicy); ok {
		stored = dummyBcrypt
	}
	_ = policy.Verify(stored, presented)
	return ErrInvalidCredentials
}
