package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims registeredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTVerifierAcceptsValidToken(t *testing.T) {
	v := NewJWTVerifier("topsecret")
	identityID := uuid.New()

	tok := signToken(t, "topsecret", registeredClaims{
		IdentityID:   identityID.String(),
		Role:         "admin",
		AllowedTypes: []string{"zone_created"},
		AccessLevel:  "full",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, identityID, claims.IdentityID)
	assert.Equal(t, identity.RoleAdmin, claims.Role)
	assert.Equal(t, identity.AccessFull, claims.AccessLevel)
}

func TestJWTVerifierRejectsWrongSignature(t *testing.T) {
	v := NewJWTVerifier("topsecret")
	tok := signToken(t, "wrong-secret", registeredClaims{IdentityID: uuid.New().String()})

	_, err := v.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifierRejectsMalformedToken(t *testing.T) {
	v := NewJWTVerifier("topsecret")
	_, err := v.Verify("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimsToIdentityCarriesExpiry(t *testing.T) {
	v := NewJWTVerifier("topsecret")
	identityID := uuid.New()
	exp := time.Now().Add(30 * time.Minute)

	tok := signToken(t, "topsecret", registeredClaims{
		IdentityID: identityID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	claims, err := v.Verify(tok)
	require.NoError(t, err)
	id := claims.ToIdentity()
	assert.WithinDuration(t, exp, id.ExpiresAt, time.Second)
	assert.False(t, claims.Expired(time.Now()))
	assert.True(t, claims.Expired(exp.Add(time.Minute)))
}
