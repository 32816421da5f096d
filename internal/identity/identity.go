package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

// Identity is a verified user as seen by the duel engine: an opaque id,
// a display name, and a balance snapshot taken at verification time.
type Identity struct {
	UserID      string
	DisplayName string
	Balance     decimal.Decimal
}

// ErrInvalidToken is returned for malformed, expired, or unsigned tokens.
var ErrInvalidToken = errors.New("identity: invalid token")

// ErrUnknownUser is returned when a valid token names a user the
// directory does not know.
var ErrUnknownUser = errors.New("identity: unknown user")

// UserStore loads user records for token verification.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (Identity, error)
}

// Verifier validates bearer tokens and resolves them to identities.
type Verifier struct {
	secret []byte
	users  UserStore
}

// NewVerifier creates a Verifier using an HMAC signing secret.
func NewVerifier(secret []byte, users UserStore) *Verifier {
	return &Verifier{secret: secret, users: users}
}

// Verify parses and validates the token, then resolves the subject
// against the user store for the display name and balance snapshot.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, ErrInvalidToken
	}

	id, err := v.users.GetUser(ctx, sub)
	if err != nil {
		return Identity{}, err
	}

	return id, nil
}
