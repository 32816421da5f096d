package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository is the Postgres-backed ledger. Each operation moves the
// balance and appends the stake transaction audit row in one database
// transaction; the unique (match_id, user_id, kind) index makes a
// replayed key a clean no-op.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a ledger repository over a pgx pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Debit withdraws amount from the user's balance if it covers it.
func (r *Repository) Debit(ctx context.Context, key TxKey, amount decimal.Decimal) error {
	return r.apply(ctx, key, amount, amount.Neg())
}

// Credit deposits amount into the user's balance.
func (r *Repository) Credit(ctx context.Context, key TxKey, amount decimal.Decimal) error {
	return r.apply(ctx, key, amount, amount)
}

func (r *Repository) apply(ctx context.Context, key TxKey, amount, delta decimal.Decimal) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const record = `
INSERT INTO stake_transactions (match_id, user_id, amount, kind, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (match_id, user_id, kind) DO NOTHING;`

	ct, err := tx.Exec(ctx, record, key.MatchID, key.UserID, amount, key.Kind)
	if err != nil {
		return fmt.Errorf("record stake transaction: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Key already applied; leave the balance alone.
		return nil
	}

	const move = `
UPDATE users
SET balance = balance + $2
WHERE id = $1 AND balance + $2 >= 0;`

	ct, err = tx.Exec(ctx, move, key.UserID, delta)
	if err != nil {
		return fmt.Errorf("move balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListTransactions returns the audit trail for a match, oldest first.
func (r *Repository) ListTransactions(ctx context.Context, matchID uuid.UUID) ([]StakeTransaction, error) {
	const stmt = `
SELECT match_id, user_id, amount, kind, created_at
FROM stake_transactions
WHERE match_id = $1
ORDER BY created_at, kind;`

	rows, err := r.db.Query(ctx, stmt, matchID)
	if err != nil {
		return nil, fmt.Errorf("list stake transactions: %w", err)
	}

	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StakeTransaction, error) {
		var t StakeTransaction
		if err := row.Scan(&t.MatchID, &t.UserID, &t.Amount, &t.Kind, &t.CreatedAt); err != nil {
			return StakeTransaction{}, err
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect stake transactions: %w", err)
	}

	return txs, nil
}
