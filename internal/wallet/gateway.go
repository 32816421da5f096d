package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Gateway wraps the external ledger with the engine's money-movement
// rules: entry fees are debited from both players or from neither, a
// refund follows any partial failure, and every key is applied at most
// once even if the engine retries.
type Gateway struct {
	ledger Ledger

	mu      sync.Mutex
	applied map[TxKey]struct{}
}

// NewGateway creates a stake ledger gateway over an external ledger.
func NewGateway(ledger Ledger) *Gateway {
	return &Gateway{
		ledger:  ledger,
		applied: make(map[TxKey]struct{}),
	}
}

// once runs op for key unless the key was already applied. The key is
// marked applied only on success so a failed attempt can be retried.
func (g *Gateway) once(key TxKey, op func() error) error {
	g.mu.Lock()
	if _, ok := g.applied[key]; ok {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	if err := op(); err != nil {
		return err
	}

	g.mu.Lock()
	g.applied[key] = struct{}{}
	g.mu.Unlock()
	return nil
}

// Release evicts a finished match's keys from the in-process guard.
// The match can move no more money after release, and a replayed key
// still lands on the ledger's durable per-key no-op, so the cache only
// needs to cover live matches.
func (g *Gateway) Release(matchID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.applied {
		if key.MatchID == matchID {
			delete(g.applied, key)
		}
	}
}

// DebitEntryFees charges the entry fee to both players, all-or-nothing.
// If the second debit fails, the first is refunded before the error is
// returned. A zero fee is a no-op. The returned error wraps
// ErrInsufficientFunds when that was the cause.
func (g *Gateway) DebitEntryFees(ctx context.Context, matchID uuid.UUID, fee decimal.Decimal, userA, userB string) error {
	if fee.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	keyA := TxKey{MatchID: matchID, UserID: userA, Kind: TxKindEntryDebit}
	if err := g.once(keyA, func() error {
		return g.ledger.Debit(ctx, keyA, fee)
	}); err != nil {
		return fmt.Errorf("debit entry fee from %s: %w", userA, err)
	}

	keyB := TxKey{MatchID: matchID, UserID: userB, Kind: TxKindEntryDebit}
	if err := g.once(keyB, func() error {
		return g.ledger.Debit(ctx, keyB, fee)
	}); err != nil {
		// Roll back the half-applied pair so no player is left debited
		// without a match.
		if rerr := g.RefundEntry(ctx, matchID, userA, fee); rerr != nil {
			log.Error().
				Err(rerr).
				Str("match_id", matchID.String()).
				Str("user_id", userA).
				Msg("refund after partial debit failed")
		}
		return fmt.Errorf("debit entry fee from %s: %w", userB, err)
	}

	log.Debug().
		Str("match_id", matchID.String()).
		Str("fee", fee.String()).
		Msg("entry fees debited")
	return nil
}

// RefundEntry returns a player's entry fee, at most once per match.
func (g *Gateway) RefundEntry(ctx context.Context, matchID uuid.UUID, userID string, fee decimal.Decimal) error {
	if fee.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	key := TxKey{MatchID: matchID, UserID: userID, Kind: TxKindEntryRefund}
	if err := g.once(key, func() error {
		return g.ledger.Credit(ctx, key, fee)
	}); err != nil {
		return fmt.Errorf("refund entry fee to %s: %w", userID, err)
	}

	log.Info().
		Str("match_id", matchID.String()).
		Str("user_id", userID).
		Str("amount", fee.String()).
		Msg("entry fee refunded")
	return nil
}

// CreditPrize pays the winner, at most once per match.
func (g *Gateway) CreditPrize(ctx context.Context, matchID uuid.UUID, userID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	key := TxKey{MatchID: matchID, UserID: userID, Kind: TxKindPrizeCredit}
	if err := g.once(key, func() error {
		return g.ledger.Credit(ctx, key, amount)
	}); err != nil {
		return fmt.Errorf("credit prize to %s: %w", userID, err)
	}

	log.Info().
		Str("match_id", matchID.String()).
		Str("user_id", userID).
		Str("amount", amount.String()).
		Msg("prize credited")
	return nil
}
