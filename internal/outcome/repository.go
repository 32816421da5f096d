package outcome

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists settled match results against a competition.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates an outcome repository over a pgx pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// RecordWinner stores a ranked, paid winner row for a competition.
func (r *Repository) RecordWinner(ctx context.Context, competitionID, userID string, rank int, prize decimal.Decimal) error {
	const stmt = `
INSERT INTO competition_winners (competition_id, user_id, rank, prize_amount, paid, created_at)
VALUES ($1, $2, $3, $4, TRUE, now());`

	if _, err := r.db.Exec(ctx, stmt, competitionID, userID, rank, prize); err != nil {
		return fmt.Errorf("record winner for competition %s: %w", competitionID, err)
	}
	return nil
}
