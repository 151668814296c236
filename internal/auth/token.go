// Package auth issues and validates the HS256 bearer tokens used by the
// HTTP API. The token subject is the actor identity attributed to
// user-sourced timeline events.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors returned by the validator.
var (
	ErrMissingSecret = errors.New("auth: secret key is required")
	ErrInvalidToken  = errors.New("auth: invalid token")
)

// Claims are the JWT claims carried by an API token.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenAuthenticator issues and validates signed API tokens.
type TokenAuthenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenAuthenticator creates an authenticator from the shared secret.
func NewTokenAuthenticator(secret string, ttl time.Duration) (*TokenAuthenticator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenAuthenticator{
		secret: []byte(secret),
		issuer: "incident-warden",
		ttl:    ttl,
	}, nil
}

// IssueToken signs a token for the given actor.
func (a *TokenAuthenticator) IssueToken(actor string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature and expiry and returns the actor.
func (a *TokenAuthenticator) ValidateToken(_ context.Context, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
