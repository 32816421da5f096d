package match

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/luckbox/quizduel/internal/events"
	"github.com/luckbox/quizduel/internal/protocol"
)

// run is the match actor. It owns all mutable match state; every
// socket event and timer callback funnels through the inbox, so a
// submit and a timeout racing over the same question resolve in a
// deterministic order.
func (m *Match) run(ctx context.Context) {
	defer m.arena.release(m)

	m.startQuestion(ctx, 0)

	for !m.finished {
		select {
		case <-ctx.Done():
			m.abortShutdown(context.WithoutCancel(ctx))
			return

		case cmd := <-m.inbox:
			switch c := cmd.(type) {
			case submitCmd:
				m.handleSubmit(ctx, c)
			case timeoutCmd:
				m.handleTimeout(ctx, c)
			case advanceCmd:
				m.handleAdvance(ctx, c)
			case disconnectCmd:
				m.handleDisconnect(ctx, c)
			}
		}
	}
}

// startQuestion broadcasts question i and arms the safety timeout.
func (m *Match) startQuestion(ctx context.Context, i int) {
	m.cursor = i
	q := m.Questions[i]

	start := protocol.MustEvent(protocol.EventTypeQuestionStart, protocol.QuestionStartPayload{
		QuestionIndex: i,
		Position:      i + 1,
		TimeLimitSec:  m.cfg.QuestionTimeSec,
		Question: protocol.QuestionView{
			ID:      q.ID,
			Prompt:  q.Prompt,
			Options: q.Options,
		},
		TotalQuestions: len(m.Questions),
	})
	for _, p := range m.Players {
		m.arena.sink.Send(p.ConnID, start)
	}

	m.safety = m.armTimer(m.cfg.SafetyTimeout(), func() command {
		return timeoutCmd{questionIndex: i}
	})

	log.Debug().
		Str("match_id", m.ID.String()).
		Int("question", i).
		Msg("question started")
}

// armTimer starts a clock timer whose expiry posts a command back into
// the inbox. The relay goroutine exits when the match is released.
func (m *Match) armTimer(d time.Duration, build func() command) clockwork.Timer {
	t := m.clock.NewTimer(d)
	go func() {
		select {
		case <-t.Chan():
			m.post(build())
		case <-m.done:
		}
	}()
	return t
}

// handleSubmit records one player's answer for the open question.
// Stale indexes, unknown users, wrong competitions, and re-submits of
// an already-written cell are all silent no-ops.
func (m *Match) handleSubmit(ctx context.Context, c submitCmd) {
	if c.competitionID != m.Competition.ID {
		return
	}
	idx := m.playerByUser(c.userID)
	if idx < 0 {
		return
	}
	i := c.questionIndex
	if i != m.cursor || m.resolved[i] {
		return
	}
	if m.answers[idx][i] != nil {
		return
	}

	m.answers[idx][i] = &answerRecord{option: c.option, arrivedAt: m.clock.Now()}

	if m.answers[0][i] != nil && m.answers[1][i] != nil {
		m.resolveQuestion(ctx, i)
	}
}

// handleTimeout fires when the server deadline passed with at least
// one answer missing. A timeout for an already-resolved question is a
// no-op; the resolved flag is what makes the submit/timeout race safe.
func (m *Match) handleTimeout(ctx context.Context, c timeoutCmd) {
	i := c.questionIndex
	if i != m.cursor || m.resolved[i] {
		return
	}

	for idx := range m.Players {
		if m.answers[idx][i] == nil {
			m.answers[idx][i] = &answerRecord{option: NoAnswer, arrivedAt: m.clock.Now()}
			log.Info().
				Str("match_id", m.ID.String()).
				Str("user_id", m.Players[idx].Identity.UserID).
				Int("question", i).
				Msg("auto-recorded no-answer on timeout")
		}
	}

	m.resolveQuestion(ctx, i)
}

// resolveQuestion scores question i exactly once, sends each player
// their individualized result, and either schedules the next question
// or hands off to settlement.
func (m *Match) resolveQuestion(ctx context.Context, i int) {
	m.resolved[i] = true
	if m.safety != nil {
		m.safety.Stop()
	}

	q := m.Questions[i]
	for idx := range m.Players {
		if m.answers[idx][i].option == q.CorrectIndex {
			m.scores[idx]++
		}
	}

	for _, p := range m.Players {
		m.arena.sink.Send(p.ConnID, protocol.MustEvent(protocol.EventTypeQuestionResult, protocol.QuestionResultPayload{
			QuestionIndex:  i,
			CorrectAnswer:  q.CorrectIndex,
			MyScore:        m.scores[p.Index],
			OpponentScore:  m.scores[m.opponent(p.Index).Index],
			TotalQuestions: len(m.Questions),
		}))
	}

	if i+1 == len(m.Questions) {
		m.settle(ctx)
		m.finished = true
		return
	}

	// Give clients a beat to render the result before the next round.
	m.armTimer(m.cfg.ResultPause(), func() command {
		return advanceCmd{questionIndex: i + 1}
	})
}

// handleAdvance moves to the next question after the result pause,
// but only if both connections are still live. A departed player ends
// the match here rather than playing out questions nobody will see.
func (m *Match) handleAdvance(ctx context.Context, c advanceCmd) {
	if m.finished || c.questionIndex != m.cursor+1 {
		return
	}

	for _, p := range m.Players {
		if !m.arena.sink.IsConnected(p.ConnID) {
			m.teardown(ctx, p)
			return
		}
	}

	m.startQuestion(ctx, c.questionIndex)
}

// handleDisconnect tears the match down when a participant drops. A
// disconnect from one of the user's other connections is not a
// participant drop; the match keeps running on the original socket.
func (m *Match) handleDisconnect(ctx context.Context, c disconnectCmd) {
	idx := m.playerByUser(c.userID)
	if idx < 0 {
		return
	}
	if m.Players[idx].ConnID != c.connID {
		log.Debug().
			Str("match_id", m.ID.String()).
			Str("user_id", c.userID).
			Str("connection_id", c.connID).
			Msg("ignoring disconnect from non-participant connection")
		return
	}
	m.teardown(ctx, m.Players[idx])
}

// teardown is the no-fault abort path: the survivor is notified, the
// departed player's entry fee is refunded, and no winner is computed.
func (m *Match) teardown(ctx context.Context, departed Player) {
	m.finished = true
	if m.safety != nil {
		m.safety.Stop()
	}

	survivor := m.opponent(departed.Index)
	m.arena.sink.Send(survivor.ConnID, protocol.Event{Type: protocol.EventTypeOpponentDisconnected})

	var refunded []string
	if m.feesDebited {
		if err := m.arena.ledger.RefundEntry(ctx, m.ID, departed.Identity.UserID, m.Competition.EntryFee); err != nil {
			log.Error().
				Err(err).
				Str("match_id", m.ID.String()).
				Str("user_id", departed.Identity.UserID).
				Msg("refund on disconnect failed")
		} else {
			refunded = append(refunded, departed.Identity.UserID)
		}
	}

	m.publishAborted(ctx, departed.Identity.UserID, refunded)

	log.Info().
		Str("match_id", m.ID.String()).
		Str("user_id", departed.Identity.UserID).
		Int("question", m.cursor).
		Msg("match aborted on disconnect")
}

// abortShutdown ends the match because the server is going down. Both
// fees come back; neither player is at fault.
func (m *Match) abortShutdown(ctx context.Context) {
	m.finished = true
	if m.safety != nil {
		m.safety.Stop()
	}

	var refunded []string
	for _, p := range m.Players {
		m.arena.sink.Send(p.ConnID, protocol.MustEvent(protocol.EventTypeError, protocol.ErrorPayload{
			Message: "match aborted: server shutting down",
		}))
		if m.feesDebited {
			if err := m.arena.ledger.RefundEntry(ctx, m.ID, p.Identity.UserID, m.Competition.EntryFee); err != nil {
				log.Error().
					Err(err).
					Str("match_id", m.ID.String()).
					Str("user_id", p.Identity.UserID).
					Msg("refund on shutdown failed")
			} else {
				refunded = append(refunded, p.Identity.UserID)
			}
		}
	}

	m.publishAborted(ctx, "", refunded)
}

func (m *Match) publishAborted(ctx context.Context, disconnectedUser string, refunded []string) {
	err := m.arena.publisher.Publish(ctx, events.TypeMatchAborted, m.ID, events.MatchAbortedPayload{
		MatchID:          m.ID.String(),
		CompetitionID:    m.Competition.ID,
		Players:          [2]string{m.Players[0].Identity.UserID, m.Players[1].Identity.UserID},
		DisconnectedUser: disconnectedUser,
		RefundedUsers:    refunded,
		AbortedAt:        m.clock.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("match_id", m.ID.String()).Msg("publish aborted event failed")
	}
}
