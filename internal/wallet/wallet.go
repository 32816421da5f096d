package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxKind classifies a stake transaction.
type TxKind string

const (
	TxKindEntryDebit  TxKind = "entry-debit"
	TxKindEntryRefund TxKind = "entry-refund"
	TxKindPrizeCredit TxKind = "prize-credit"
)

// TxKey is the durable idempotency key for a money movement: a given
// (match, user, kind) triple is applied at most once.
type TxKey struct {
	MatchID uuid.UUID
	UserID  string
	Kind    TxKind
}

func (k TxKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.MatchID, k.UserID, k.Kind)
}

// StakeTransaction is one row of the append-only audit trail.
type StakeTransaction struct {
	MatchID   uuid.UUID
	UserID    string
	Amount    decimal.Decimal
	Kind      TxKind
	CreatedAt time.Time
}

// ErrInsufficientFunds is returned by Debit when the user's balance
// cannot cover the amount. No money moves in that case.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// Ledger is the external wallet service. Both operations are
// idempotent per TxKey: re-applying a key is a no-op, not an error.
type Ledger interface {
	// Debit withdraws amount from the user's balance, failing with
	// ErrInsufficientFunds if the balance is too low.
	Debit(ctx context.Context, key TxKey, amount decimal.Decimal) error

	// Credit deposits amount into the user's balance.
	Credit(ctx context.Context, key TxKey, amount decimal.Decimal) error
}
