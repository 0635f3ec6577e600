package security

import (
	"errors"
	"testing"
)

func TestPlainPolicy(t *testing.T) {
	policy := PlainPolicy{}

	stored, err := policy.Digest("s3cr3t")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if string(stored) != "s3cr3t" {
		t.Errorf("PlainPolicy must store the secret verbatim, got %q", stored)
	}

	if err := policy.Verify(stored, "s3cr3t"); err != nil {
		t.Errorf("Verify with correct secret: %v", err)
	}
	if err := policy.Verify(stored, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify with wrong secret: got %v, want ErrInvalidCredentials", err)
	}
	// Different length must fail the same way, not panic or succeed
	if err := policy.Verify(stored, "s3cr3t-and-more"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify with longer secret: got %v", err)
	}
}

func TestBcryptPolicy(t *testing.T) {
	policy := BcryptPolicy{Cost: 4} // minimum cost to keep the test fast

	stored, err := policy.Digest("s3cr3t")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if string(stored) == "s3cr3t" {
		t.Error("BcryptPolicy must not store the secret verbatim")
	}

	if err := policy.Verify(stored, "s3cr3t"); err != nil {
		t.Errorf("Verify with correct secret: %v", err)
	}
	if err := policy.Verify(stored, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify with wrong secret: got %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyDummy(t *testing.T) {
	for _, policy := range []SecretPolicy{PlainPolicy{}, BcryptPolicy{Cost: 4}} {
		if err := VerifyDummy(policy, "anything"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("VerifyDummy(%T) = %v, want ErrInvalidCredentials", policy, err)
		}
	}
}
