package question

import (
	"github.com/shopspring/decimal"
)

// Question is one quiz question as played in a match. Fetched once at
// match creation and never mutated.
type Question struct {
	ID           string
	Prompt       string
	Options      []string
	CorrectIndex int
}

// Competition is the configured question set and entry fee a match is
// played against.
type Competition struct {
	ID       string
	Title    string
	EntryFee decimal.Decimal
}

// Free reports whether the competition charges no entry fee.
func (c Competition) Free() bool {
	return c.EntryFee.LessThanOrEqual(decimal.Zero)
}
