// Package httpserver provides the HTTP server for a ChatMesh node.
package httpserver

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

// tokenIssuer identifies tokens minted by chatmesh nodes.
const tokenIssuer = "chatmesh"

// sessionClaims is the JWT payload of a session token.
type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies bearer session tokens at the HTTP
// boundary. Tokens are stateless HS256 JWTs carrying the user's
// stable id and username, so any node sharing the secret can verify
// them without a session store.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer with the given signing secret
// and token lifetime.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue mints a signed session token for the user.
func (t *TokenIssuer) Issue(user *domain.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(t.ttl)

	claims := sessionClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, domain.ErrInternalServer.WithDetails("sign token").WithCause(err)
	}
	return signed, expiresAt, nil
}

// Verify checks a session token and returns the user it identifies.
// Any failure, malformed token, wrong signature, expiry, surfaces as
// ErrTokenInvalid.
func (t *TokenIssuer) Verify(tokenString string) (*domain.User, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims,
		func(token *jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, domain.ErrTokenInvalid.WithCause(err)
	}
	if claims.Subject == "" || claims.Username == "" {
		return nil, domain.ErrTokenInvalid.WithDetails("missing identity claims")
	}

	return &domain.User{ID: claims.Subject, Username: claims.Username}, nil
}
