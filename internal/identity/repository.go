package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed user store.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a user repository over a pgx pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetUser fetches a user's public profile and balance.
func (r *Repository) GetUser(ctx context.Context, userID string) (Identity, error) {
	const stmt = `
SELECT id, display_name, balance
FROM users
WHERE id = $1;`

	var id Identity
	err := r.db.QueryRow(ctx, stmt, userID).Scan(&id.UserID, &id.DisplayName, &id.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrUnknownUser
	}
	if err != nil {
		return Identity{}, fmt.Errorf("get user %s: %w", userID, err)
	}

	return id, nil
}
