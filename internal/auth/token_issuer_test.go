package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "bibli-api",
		Audience:      "bibli-web",
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresIn, err := issuer.IssueToken(42)
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((24 * time.Hour).Seconds()) {
		t.Fatalf("expected a 24h lifetime, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "42" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != "bibli-api" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "bibli-web" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerRejectsIncompleteConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config TokenIssuerConfig
	}{
		{name: "secret", config: TokenIssuerConfig{Issuer: "bibli-api", Audience: "bibli-web"}},
		{name: "issuer", config: TokenIssuerConfig{SigningSecret: []byte("s"), Audience: "bibli-web"}},
		{name: "audience", config: TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: "bibli-api"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewTokenIssuer(testCase.config)
			if !errors.Is(err, ErrInvalidIssuerConfig) {
				t.Fatalf("expected ErrInvalidIssuerConfig, got %v", err)
			}
		})
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("another-secret"),
		Issuer:        "bibli-api",
		Audience:      "bibli-web",
		TokenTTL:      15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssueToken(321)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	userID, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected token to validate: %v", err)
	}
	if userID != 321 {
		t.Fatalf("unexpected user id %d", userID)
	}

	if _, err := issuer.ValidateToken(tokenString + "tampered"); err == nil {
		t.Fatalf("expected tampered token to fail validation")
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := issuedAt
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("clocked"),
		Issuer:        "bibli-api",
		Audience:      "bibli-web",
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, _, err := issuer.IssueToken(7)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	now = issuedAt.Add(2 * time.Hour)
	_, err = issuer.ValidateToken(tokenString)
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignAudience(t *testing.T) {
	signer, _ := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("shared"), Issuer: "bibli-api", Audience: "other-app"})
	verifier, _ := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("shared"), Issuer: "bibli-api", Audience: "bibli-web"})

	tokenString, _, err := signer.IssueToken(5)
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := verifier.ValidateToken(tokenString); err == nil || !strings.Contains(err.Error(), "audience") {
		t.Fatalf("expected audience validation error, got %v", err)
	}
}
