package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndParseToken(t *testing.T) {
	secret := []byte("secret")
	token, err := SignToken(secret, "user-1", "Avery", time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != "user-1" || claims.Name != "Avery" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	token, err := SignToken(secret, "user-1", "Avery", -time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	_, err = ParseToken(secret, token)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("ParseToken(expired) error = %v, want ErrInvalidCredential", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := SignToken([]byte("secret"), "user-1", "Avery", time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	_, err = ParseToken([]byte("other"), token)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("ParseToken(wrong secret) error = %v, want ErrInvalidCredential", err)
	}
}

func TestParseTokenRejectsMissingAndGarbage(t *testing.T) {
	if _, err := ParseToken([]byte("secret"), ""); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("ParseToken(\"\") error = %v, want ErrMissingCredential", err)
	}
	if _, err := ParseToken([]byte("secret"), "not.a.jwt"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("ParseToken(garbage) error = %v, want ErrInvalidCredential", err)
	}
}
