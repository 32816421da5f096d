package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/luckbox/quizduel/internal/config"
	"github.com/luckbox/quizduel/internal/events"
	"github.com/luckbox/quizduel/internal/question"
)

// Arena owns every live match. It maps user ids to their single
// active match and routes answer submissions and disconnects to the
// right match actor. One goroutine runs per match; the arena's own
// maps are the only cross-match shared state.
type Arena struct {
	cfg       config.Game
	clock     clockwork.Clock
	sink      Sink
	ledger    StakeLedger
	outcomes  OutcomeStore
	publisher events.Publisher

	mu      sync.Mutex
	matches map[uuid.UUID]*Match
	byUser  map[string]uuid.UUID
}

// NewArena creates an empty arena.
func NewArena(cfg config.Game, clock clockwork.Clock, sink Sink, ledger StakeLedger, outcomes OutcomeStore, publisher events.Publisher) *Arena {
	return &Arena{
		cfg:       cfg,
		clock:     clock,
		sink:      sink,
		ledger:    ledger,
		outcomes:  outcomes,
		publisher: publisher,
		matches:   make(map[uuid.UUID]*Match),
		byUser:    make(map[string]uuid.UUID),
	}
}

// ActiveFor reports whether the user currently holds a live match.
func (a *Arena) ActiveFor(userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.byUser[userID]
	return ok
}

// Len reports the number of live matches.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.matches)
}

// StartMatch registers a new match for two already-debited players and
// starts its actor on question 0. The caller supplies the match id so
// the fee debits carry the same idempotency scope. It fails if either
// player is somehow already in a match; the matchmaker checks this
// earlier, so a trip here means the queue raced and the caller must
// refund.
func (a *Arena) StartMatch(ctx context.Context, matchID uuid.UUID, comp question.Competition, questions []question.Question, p0, p1 Player, feesDebited bool) (*Match, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("match: competition %s has no questions", comp.ID)
	}

	m := &Match{
		ID:          matchID,
		Competition: comp,
		Questions:   questions,
		Players:     [2]Player{p0, p1},
		arena:       a,
		cfg:         a.cfg,
		clock:       a.clock,
		inbox:       make(chan command, 16),
		done:        make(chan struct{}),
		resolved:    make([]bool, len(questions)),
		feesDebited: feesDebited,
	}
	for i := range m.answers {
		m.answers[i] = make([]*answerRecord, len(questions))
	}

	a.mu.Lock()
	if _, ok := a.byUser[p0.Identity.UserID]; ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("match: user %s already in a match", p0.Identity.UserID)
	}
	if _, ok := a.byUser[p1.Identity.UserID]; ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("match: user %s already in a match", p1.Identity.UserID)
	}
	a.matches[m.ID] = m
	a.byUser[p0.Identity.UserID] = m.ID
	a.byUser[p1.Identity.UserID] = m.ID
	a.mu.Unlock()

	log.Info().
		Str("match_id", m.ID.String()).
		Str("competition_id", comp.ID).
		Str("user_id", p0.Identity.UserID).
		Str("opponent_id", p1.Identity.UserID).
		Int("questions", len(questions)).
		Msg("match started")

	go m.run(ctx)
	return m, nil
}

// SubmitAnswer routes an answer to the user's live match. An answer
// for a user with no match is a no-op: the match may have just ended
// and the client is racing the final event.
func (a *Arena) SubmitAnswer(userID, competitionID string, questionIndex, option int) {
	m := a.matchFor(userID)
	if m == nil {
		return
	}
	m.post(submitCmd{
		userID:        userID,
		competitionID: competitionID,
		questionIndex: questionIndex,
		option:        option,
	})
}

// HandleDisconnect tears down the user's live match, if any. The
// connection id must be the one the user is playing the match on: a
// user can authenticate on several connections, and only losing the
// participant connection ends the match.
func (a *Arena) HandleDisconnect(userID, connID string) {
	m := a.matchFor(userID)
	if m == nil {
		return
	}
	m.post(disconnectCmd{userID: userID, connID: connID})
}

func (a *Arena) matchFor(userID string) *Match {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byUser[userID]
	if !ok {
		return nil
	}
	return a.matches[id]
}

// release drops a finished match from the arena tables and stops any
// timer goroutines still parked on its channels.
func (a *Arena) release(m *Match) {
	a.mu.Lock()
	delete(a.matches, m.ID)
	for _, p := range m.Players {
		if a.byUser[p.Identity.UserID] == m.ID {
			delete(a.byUser, p.Identity.UserID)
		}
	}
	a.mu.Unlock()

	close(m.done)
	a.ledger.Release(m.ID)

	log.Debug().Str("match_id", m.ID.String()).Msg("match released")
}
