package identity_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/luckbox/quizduel/internal/identity"
)

type fakeUserStore map[string]identity.Identity

func (s fakeUserStore) GetUser(ctx context.Context, userID string) (identity.Identity, error) {
	id, ok := s[userID]
	if !ok {
		return identity.Identity{}, identity.ErrUnknownUser
	}
	return id, nil
}

func signToken(t *testing.T, secret []byte, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestVerifier_Verify(t *testing.T) {
	secret := []byte("test-secret")
	store := fakeUserStore{
		"u1": {UserID: "u1", DisplayName: "Alice", Balance: decimal.NewFromInt(100)},
	}
	v := identity.NewVerifier(secret, store)

	id, err := v.Verify(context.Background(), signToken(t, secret, "u1"))
	require.NoError(t, err)
	require.Equal(t, "Alice", id.DisplayName)
	require.True(t, decimal.NewFromInt(100).Equal(id.Balance))
}

func TestVerifier_RejectsBadTokens(t *testing.T) {
	secret := []byte("test-secret")
	v := identity.NewVerifier(secret, fakeUserStore{})

	_, err := v.Verify(context.Background(), "")
	require.ErrorIs(t, err, identity.ErrInvalidToken)

	_, err = v.Verify(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, identity.ErrInvalidToken)

	// Signed with the wrong secret.
	_, err = v.Verify(context.Background(), signToken(t, []byte("other"), "u1"))
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestVerifier_RejectsUnknownUser(t *testing.T) {
	secret := []byte("test-secret")
	v := identity.NewVerifier(secret, fakeUserStore{})

	_, err := v.Verify(context.Background(), signToken(t, secret, "ghost"))
	require.ErrorIs(t, err, identity.ErrUnknownUser)
}
