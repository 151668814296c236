package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	a, err := NewTokenAuthenticator("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := a.IssueToken("U123")
	require.NoError(t, err)

	actor, err := a.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "U123", actor)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	a, err := NewTokenAuthenticator("test-secret", time.Hour)
	require.NoError(t, err)
	other, err := NewTokenAuthenticator("other-secret", time.Hour)
	require.NoError(t, err)

	token, err := a.IssueToken("U123")
	require.NoError(t, err)

	_, err = other.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	a, err := NewTokenAuthenticator("test-secret", time.Hour)
	require.NoError(t, err)
	a.ttl = -time.Minute

	token, err := a.IssueToken("U123")
	require.NoError(t, err)

	_, err = a.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsUnsignedToken(t *testing.T) {
	a, err := NewTokenAuthenticator("test-secret", time.Hour)
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "U123"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsEmptySubject(t *testing.T) {
	a, err := NewTokenAuthenticator("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := a.IssueToken("")
	require.NoError(t, err)

	_, err = a.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := NewTokenAuthenticator("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
}
