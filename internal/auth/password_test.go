package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasherRoundTrip(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("correct horse")
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	if hash == "correct horse" {
		t.Fatalf("expected password to be hashed")
	}
	if !hasher.Verify(hash, "correct horse") {
		t.Fatalf("expected matching password to verify")
	}
	if hasher.Verify(hash, "wrong horse") {
		t.Fatalf("expected mismatched password to fail")
	}
}

func TestPasswordHasherRejectsEmpty(t *testing.T) {
	hasher := NewPasswordHasher(0)
	if hasher.cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost fallback, got %d", hasher.cost)
	}
	if _, err := hasher.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if hasher.Verify("", "anything") {
		t.Fatalf("expected empty hash to fail verification")
	}
}
