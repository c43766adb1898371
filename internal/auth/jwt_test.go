package auth

import (
	"testing"
	"time"
)

func TestCreateVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

	tok, err := CreateToken("uid-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UID != "uid-1" {
		t.Fatalf("expected uid-1, got %q", claims.UID)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("uid-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if _, err := VerifyToken(tok, TokenConfig{Secret: "other", Expiry: time.Hour}); err == nil {
		t.Fatalf("expected verification failure")
	}
}

func TestVerifyToken_WrongIssuer(t *testing.T) {
	tok, err := CreateToken("uid-1", TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "other-service"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	if _, err := VerifyToken(tok, cfg); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
}

func TestCreateToken_Validation(t *testing.T) {
	if _, err := CreateToken("", TokenConfig{Secret: "s", Expiry: time.Hour}); err == nil {
		t.Fatalf("expected error for missing uid")
	}
	if _, err := CreateToken("u", TokenConfig{Expiry: time.Hour}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
	if _, err := CreateToken("u", TokenConfig{Secret: "s"}); err == nil {
		t.Fatalf("expected error for invalid expiry")
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Millisecond, Issuer: "test"}
	tok, err := CreateToken("uid-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := VerifyToken(tok, cfg); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
