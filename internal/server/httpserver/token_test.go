package httpserver

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)
	user := domain.NewUser("alice")

	token, expiresAt, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("Issue returned empty token")
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiry %v away, want about an hour", until)
	}

	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("ID = %q, want %q", got.ID, user.ID)
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q, want alice", got.Username)
	}
}

func TestTokenVerifyRejections(t *testing.T) {
	secret := []byte("test-secret")
	issuer := NewTokenIssuer(secret, time.Hour)
	user := domain.NewUser("alice")

	valid, _, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	expired := func() string {
		past := NewTokenIssuer(secret, -time.Minute)
		token, _, err := past.Issue(user)
		if err != nil {
			t.Fatalf("Issue expired: %v", err)
		}
		return token
	}()

	wrongAlg := func() string {
		claims := sessionClaims{
			Username: "alice",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    tokenIssuer,
				Subject:   user.ID,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		// "none" signed tokens must never verify.
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("sign none: %v", err)
		}
		return token
	}()

	noExpiry := func() string {
		claims := sessionClaims{
			Username: "alice",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:  tokenIssuer,
				Subject: user.ID,
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatalf("sign no-expiry: %v", err)
		}
		return token
	}()

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"empty", ""},
		{"expired", expired},
		{"none algorithm", wrongAlg},
		{"missing expiry", noExpiry},
		{"truncated", valid[:len(valid)-5]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.Verify(tt.token); !domain.IsDomainError(err, domain.ErrTokenInvalid.Code) {
				t.Errorf("Verify(%s) error = %v, want %s", tt.name, err, domain.ErrTokenInvalid.Code)
			}
		})
	}
}

func TestTokenWrongSecret(t *testing.T) {
	user := domain.NewUser("alice")

	token, _, err := NewTokenIssuer([]byte("secret-a"), time.Hour).Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := NewTokenIssuer([]byte("secret-b"), time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Error("token signed with a different secret verified")
	}
}

func TestTokenSharedSecretAcrossIssuers(t *testing.T) {
	// Nodes sharing the secret verify each other's tokens; this is what
	// lets a client talk to any node in the mesh with one login.
	secret := []byte("cluster-secret")
	user := domain.NewUser("bob")

	token, _, err := NewTokenIssuer(secret, time.Hour).Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := NewTokenIssuer(secret, time.Minute).Verify(token)
	if err != nil {
		t.Fatalf("Verify on peer issuer: %v", err)
	}
	if got.Username != "bob" {
		t.Errorf("Username = %q, want bob", got.Username)
	}
}
