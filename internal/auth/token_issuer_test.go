package auth

import (
	"testing"
	"time"
)

func TestTokenIssuerTokensPassValidation(t *testing.T) {
	clockNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, expiresAt, err := issuer.IssueSessionToken(" reader-9 ", "Reader Nine")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := newTestValidator(t, clockNow.Add(30*time.Minute)).ValidateToken(token)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if claims.UserID() != "reader-9" {
		t.Fatalf("unexpected subject %s", claims.UserID())
	}
	if claims.DisplayName != "Reader Nine" {
		t.Fatalf("unexpected display name %s", claims.DisplayName)
	}

	if _, err := newTestValidator(t, clockNow.Add(2*time.Hour)).ValidateToken(token); err == nil {
		t.Fatalf("expected token to expire after its ttl")
	}
}

func TestTokenIssuerRequiresUserID(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: testSessionIssuer})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.IssueSessionToken("  ", ""); err == nil {
		t.Fatalf("expected error for blank user id")
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: testSessionIssuer}); err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}
	if _, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: ""}); err == nil {
		t.Fatalf("expected constructor error for missing issuer")
	}
}
