package matchmaking

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrAlreadyInMatch rejects a join from a user who holds a live match.
var ErrAlreadyInMatch = errors.New("matchmaking: already in a match")

// ErrNoQuestions rejects a join for a competition with no questions
// configured.
var ErrNoQuestions = errors.New("matchmaking: competition has no questions")

// InsufficientFundsError rejects a join before any debit is attempted,
// reporting the exact shortfall.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("matchmaking: insufficient funds: need %s, have %s (short %s)",
		e.Required, e.Available, e.Required.Sub(e.Available))
}

// FeeDebitError reports a failed entry-fee debit pair. Any half-applied
// debit was already refunded by the time this error surfaces; the match
// was never created.
type FeeDebitError struct {
	Cause error
}

func (e *FeeDebitError) Error() string {
	return fmt.Sprintf("matchmaking: entry fee debit failed: %v", e.Cause)
}

func (e *FeeDebitError) Unwrap() error {
	return e.Cause
}
