package utils

import (
	"errors"
	"testing"
	"time"

	"pagelens/api/models"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret-key-with-enough-bytes"), time.Hour, 24*time.Hour)
	user := &models.User{ID: 42, Email: "a@example.com", Role: models.RoleAdmin}

	tok, err := issuer.GenerateJWT(user, TokenTypeAccess)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	claims, err := issuer.ValidateJWT(tok, TokenTypeAccess)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if claims.UserID != 42 || claims.Role != models.RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenIssuer_RejectsWrongType(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret-key-with-enough-bytes"), time.Hour, 24*time.Hour)
	tok, err := issuer.GenerateJWT(&models.User{ID: 1}, TokenTypeRefresh)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.ValidateJWT(tok, TokenTypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret-key-with-enough-bytes"), -time.Minute, time.Hour)
	tok, err := issuer.GenerateJWT(&models.User{ID: 1}, TokenTypeAccess)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.ValidateJWT(tok, TokenTypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenIssuer_RejectsOtherSecret(t *testing.T) {
	a := NewTokenIssuer([]byte("secret-a-secret-a-secret-a-secret"), time.Hour, time.Hour)
	b := NewTokenIssuer([]byte("secret-b-secret-b-secret-b-secret"), time.Hour, time.Hour)
	tok, _ := a.GenerateJWT(&models.User{ID: 1}, TokenTypeAccess)
	if _, err := b.ValidateJWT(tok, TokenTypeAccess); err == nil {
		t.Fatal("token signed with another secret must not validate")
	}
}

func TestIsTrackableEmail(t *testing.T) {
	cases := map[string]bool{
		"jane@example.com":     true,
		"j.doe+tag@mail.co.uk": true,
		"no-at-sign.com":       false,
		"jane@localhost":       false,
		"two words@x.io":       false,
		"":                     false,
	}
	for in, want := range cases {
		if got := IsTrackableEmail(in); got != want {
			t.Errorf("IsTrackableEmail(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	tok, err := GenerateOpaqueToken()
	if err != nil {
		t.Fatal(err)
	}
	if HashToken(tok) != HashToken(tok) {
		t.Fatal("HashToken must be deterministic")
	}
	if HashToken(tok) == tok {
		t.Fatal("HashToken must not return the token itself")
	}
}
