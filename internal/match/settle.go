package match

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/luckbox/quizduel/internal/events"
	"github.com/luckbox/quizduel/internal/protocol"
)

// settle runs the terminal step of a completed match: winner
// computation, prize payout, outcome persistence, and the final
// per-recipient game_finished events.
func (m *Match) settle(ctx context.Context) {
	winnerIdx := -1
	switch {
	case m.scores[0] > m.scores[1]:
		winnerIdx = 0
	case m.scores[1] > m.scores[0]:
		winnerIdx = 1
	}

	prize := decimal.Zero
	if winnerIdx >= 0 {
		winner := m.Players[winnerIdx]

		if m.feesDebited {
			prize = m.prizeAmount()
			if err := m.arena.ledger.CreditPrize(ctx, m.ID, winner.Identity.UserID, prize); err != nil {
				log.Error().
					Err(err).
					Str("match_id", m.ID.String()).
					Str("user_id", winner.Identity.UserID).
					Msg("prize credit failed")
				// The credit is idempotent per match; an operator can
				// replay it from the audit trail. The match still
				// finishes.
			}
		}

		if err := m.arena.outcomes.RecordWinner(ctx, m.Competition.ID, winner.Identity.UserID, 1, prize); err != nil {
			log.Error().
				Err(err).
				Str("match_id", m.ID.String()).
				Str("competition_id", m.Competition.ID).
				Msg("record winner failed")
		}
	}

	for _, p := range m.Players {
		verdict := "draw"
		myPrize := decimal.Zero
		if winnerIdx >= 0 {
			if p.Index == winnerIdx {
				verdict = "you"
				myPrize = prize
			} else {
				verdict = "opponent"
			}
		}

		m.arena.sink.Send(p.ConnID, protocol.MustEvent(protocol.EventTypeGameFinished, protocol.GameFinishedPayload{
			Winner:        verdict,
			MyScore:       m.scores[p.Index],
			OpponentScore: m.scores[m.opponent(p.Index).Index],
			PrizeAmount:   myPrize,
		}))
	}

	winnerID := ""
	if winnerIdx >= 0 {
		winnerID = m.Players[winnerIdx].Identity.UserID
	}
	err := m.arena.publisher.Publish(ctx, events.TypeMatchSettled, m.ID, events.MatchSettledPayload{
		MatchID:       m.ID.String(),
		CompetitionID: m.Competition.ID,
		Players:       [2]string{m.Players[0].Identity.UserID, m.Players[1].Identity.UserID},
		Scores:        m.scores,
		WinnerID:      winnerID,
		PrizeAmount:   prize.String(),
		SettledAt:     m.clock.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("match_id", m.ID.String()).Msg("publish settled event failed")
	}

	log.Info().
		Str("match_id", m.ID.String()).
		Int("score_0", m.scores[0]).
		Int("score_1", m.scores[1]).
		Str("winner_id", winnerID).
		Str("prize", prize.String()).
		Msg("match settled")
}

// prizeAmount is the configured fraction of the pooled entry fees,
// rounded half-even to the currency precision.
func (m *Match) prizeAmount() decimal.Decimal {
	pool := m.Competition.EntryFee.Mul(decimal.NewFromInt(2))
	return pool.Mul(m.cfg.PrizeFraction).RoundBank(m.cfg.CurrencyPrecision)
}
