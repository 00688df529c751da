package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hybriddns/eventfabric/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntrospector struct {
	claims identity.Claims
	err    error
	calls  int
}

func (f *fakeIntrospector) Introspect(ctx context.Context, token string) (identity.Claims, error) {
	f.calls++
	return f.claims, f.err
}

func TestVerifyWithoutIntrospectorTrustsLocalJWT(t *testing.T) {
	v, err := NewVerifier(DefaultVerifierConfig("s3cret"), nil)
	require.NoError(t, err)

	identityID := uuid.New()
	tok := signToken(t, "s3cret", registeredClaims{
		IdentityID: identityID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, identityID, claims.IdentityID)
}

func TestVerifyConsultsIntrospectorAndCaches(t *testing.T) {
	identityID := uuid.New()
	introspected := identity.Claims{IdentityID: identityID, Role: identity.RoleAdmin}
	fi := &fakeIntrospector{claims: introspected}

	v, err := NewVerifier(DefaultVerifierConfig("s3cret"), fi)
	require.NoError(t, err)

	tok := signToken(t, "s3cret", registeredClaims{
		IdentityID: identityID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleAdmin, claims.Role)
	assert.Equal(t, 1, fi.calls)

	_, err = v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, 1, fi.calls, "a cached token should not re-invoke the introspector")
}

func TestVerifyRejectsRevokedToken(t *testing.T) {
	identityID := uuid.New()
	fi := &fakeIntrospector{err: ErrRevoked}

	v, err := NewVerifier(DefaultVerifierConfig("s3cret"), fi)
	require.NoError(t, err)

	tok := signToken(t, "s3cret", registeredClaims{
		IdentityID: identityID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err = v.Verify(context.Background(), tok)
	require.True(t, errors.Is(err, ErrRevoked))
}
