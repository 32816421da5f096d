package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/luckbox/quizduel/internal/identity"
	"github.com/luckbox/quizduel/internal/match"
	"github.com/luckbox/quizduel/internal/protocol"
	"github.com/luckbox/quizduel/internal/question"
)

// Bank is the question bank slice the matchmaker needs.
type Bank interface {
	GetCompetition(ctx context.Context, competitionID string) (question.Competition, error)
	ListQuestions(ctx context.Context, competitionID string) ([]question.Question, error)
}

// StakeLedger debits the entry-fee pair, all-or-nothing.
type StakeLedger interface {
	DebitEntryFees(ctx context.Context, matchID uuid.UUID, fee decimal.Decimal, userA, userB string) error
	RefundEntry(ctx context.Context, matchID uuid.UUID, userID string, fee decimal.Decimal) error
}

// MatchStarter is the arena slice the matchmaker hands paired players to.
type MatchStarter interface {
	ActiveFor(userID string) bool
	StartMatch(ctx context.Context, matchID uuid.UUID, comp question.Competition, questions []question.Question, p0, p1 match.Player, feesDebited bool) (*match.Match, error)
}

// entry is one waiting session in a competition's FIFO queue.
type entry struct {
	connID   string
	identity identity.Identity
	joinedAt time.Time
}

// Matchmaker holds the per-competition FIFO queues and pairs the two
// oldest distinct identities into a match.
type Matchmaker struct {
	bank   Bank
	ledger StakeLedger
	arena  MatchStarter
	sink   match.Sink
	clock  clockwork.Clock

	mu     sync.Mutex
	queues map[string][]entry
}

// New creates a matchmaker.
func New(bank Bank, ledger StakeLedger, arena MatchStarter, sink match.Sink, clock clockwork.Clock) *Matchmaker {
	return &Matchmaker{
		bank:   bank,
		ledger: ledger,
		arena:  arena,
		sink:   sink,
		clock:  clock,
		queues: make(map[string][]entry),
	}
}

// QueueDepths reports the number of waiting sessions per competition.
func (mm *Matchmaker) QueueDepths() map[string]int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	depths := make(map[string]int, len(mm.queues))
	for id, q := range mm.queues {
		depths[id] = len(q)
	}
	return depths
}

// JoinQueue enqueues an authenticated session for a competition, or
// pairs it with the oldest waiting peer. On a successful pairing both
// players receive opponent_joined and the match starts on question 0;
// a queued session receives waiting. Rejections come back as the typed
// errors of this package and leave queues and matches untouched.
func (mm *Matchmaker) JoinQueue(ctx context.Context, competitionID, connID string, id identity.Identity) error {
	if mm.arena.ActiveFor(id.UserID) {
		return ErrAlreadyInMatch
	}

	comp, err := mm.bank.GetCompetition(ctx, competitionID)
	if err != nil {
		return err
	}

	questions, err := mm.bank.ListQuestions(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("matchmaking: list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	if !comp.Free() && id.Balance.LessThan(comp.EntryFee) {
		return &InsufficientFundsError{Required: comp.EntryFee, Available: id.Balance}
	}

	newcomer, peer, paired := mm.enqueue(competitionID, connID, id)
	if !paired {
		mm.sink.Send(connID, protocol.Event{Type: protocol.EventTypeWaiting})
		log.Debug().
			Str("competition_id", competitionID).
			Str("user_id", id.UserID).
			Msg("queued for matchmaking")
		return nil
	}

	return mm.createMatch(ctx, comp, questions, peer, newcomer)
}

// enqueue performs the queue bookkeeping under the lock: stale-entry
// eviction, FIFO append, and the dequeue of the two oldest entries
// when a pairing is possible. It returns the pair in arrival order.
func (mm *Matchmaker) enqueue(competitionID, connID string, id identity.Identity) (newcomer, peer entry, paired bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	q := mm.queues[competitionID]

	// A reconnect without a clean disconnect leaves a stale entry under
	// the old connection. Evict it before inserting the new one.
	filtered := q[:0]
	for _, e := range q {
		if e.identity.UserID == id.UserID && e.connID != connID {
			log.Info().
				Str("competition_id", competitionID).
				Str("user_id", id.UserID).
				Str("connection_id", e.connID).
				Msg("evicted stale queue entry")
			continue
		}
		filtered = append(filtered, e)
	}
	q = filtered

	newcomer = entry{connID: connID, identity: id, joinedAt: mm.clock.Now()}
	q = append(q, newcomer)

	if len(q) < 2 {
		mm.queues[competitionID] = q
		return newcomer, entry{}, false
	}

	first, second := q[0], q[1]
	if first.identity.UserID == second.identity.UserID {
		// Duplicate-tab race: never pair a user against themselves.
		// Leave the queue as it was, oldest entry still first.
		mm.queues[competitionID] = q
		return newcomer, entry{}, false
	}

	mm.queues[competitionID] = q[2:]
	return second, first, true
}

// requeueFront puts an entry back at the head of the queue, ahead of
// anyone who joined later.
func (mm *Matchmaker) requeueFront(competitionID string, e entry) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.queues[competitionID] = append([]entry{e}, mm.queues[competitionID]...)
}

// createMatch debits the entry-fee pair and starts the match. peer is
// the longer-waiting player and takes slot 0.
func (mm *Matchmaker) createMatch(ctx context.Context, comp question.Competition, questions []question.Question, peer, newcomer entry) error {
	matchID := uuid.New()
	feesDebited := !comp.Free()

	if feesDebited {
		if err := mm.ledger.DebitEntryFees(ctx, matchID, comp.EntryFee, peer.identity.UserID, newcomer.identity.UserID); err != nil {
			// The gateway already refunded any half-applied debit. The
			// peer did nothing wrong: back to the head of the queue.
			mm.requeueFront(comp.ID, peer)
			mm.sink.Send(peer.connID, protocol.Event{Type: protocol.EventTypeWaiting})
			return &FeeDebitError{Cause: err}
		}
	}

	p0 := match.Player{Index: 0, ConnID: peer.connID, Identity: peer.identity}
	p1 := match.Player{Index: 1, ConnID: newcomer.connID, Identity: newcomer.identity}

	mm.sink.Send(p0.ConnID, protocol.MustEvent(protocol.EventTypeOpponentJoined, protocol.OpponentJoinedPayload{
		Opponent: p1.Profile(),
	}))
	mm.sink.Send(p1.ConnID, protocol.MustEvent(protocol.EventTypeOpponentJoined, protocol.OpponentJoinedPayload{
		Opponent: p0.Profile(),
	}))

	if _, err := mm.arena.StartMatch(ctx, matchID, comp, questions, p0, p1, feesDebited); err != nil {
		// Undo both debits; neither player got a match.
		if feesDebited {
			for _, userID := range []string{p0.Identity.UserID, p1.Identity.UserID} {
				if rerr := mm.ledger.RefundEntry(ctx, matchID, userID, comp.EntryFee); rerr != nil {
					log.Error().
						Err(rerr).
						Str("match_id", matchID.String()).
						Str("user_id", userID).
						Msg("refund after failed match start failed")
				}
			}
		}
		return fmt.Errorf("matchmaking: start match: %w", err)
	}

	return nil
}

// Leave removes a connection's queue entries across all competitions.
// Called on disconnect; a connection that was never queued is a no-op.
func (mm *Matchmaker) Leave(connID string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	for compID, q := range mm.queues {
		filtered := q[:0]
		for _, e := range q {
			if e.connID == connID {
				log.Debug().
					Str("competition_id", compID).
					Str("user_id", e.identity.UserID).
					Msg("removed from queue on disconnect")
				continue
			}
			filtered = append(filtered, e)
		}
		if len(filtered) == 0 {
			delete(mm.queues, compID)
		} else {
			mm.queues[compID] = filtered
		}
	}
}
