package match

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/luckbox/quizduel/internal/config"
	"github.com/luckbox/quizduel/internal/identity"
	"github.com/luckbox/quizduel/internal/protocol"
	"github.com/luckbox/quizduel/internal/question"
)

// NoAnswer is the sentinel recorded when a player never answered a
// question before the server deadline. It never matches a correct
// option index.
const NoAnswer = -1

// Player is one of a match's two participants.
type Player struct {
	Index    int
	ConnID   string
	Identity identity.Identity
}

// Profile returns the player's public profile for wire events.
func (p Player) Profile() protocol.UserProfile {
	return protocol.UserProfile{
		UserID:      p.Identity.UserID,
		DisplayName: p.Identity.DisplayName,
		Balance:     p.Identity.Balance,
	}
}

// Sink delivers wire events to connections and answers liveness checks.
// Implemented by the websocket gateway.
type Sink interface {
	Send(connID string, e protocol.Event)
	IsConnected(connID string) bool
}

// StakeLedger is the slice of the wallet gateway the engine settles
// through.
type StakeLedger interface {
	RefundEntry(ctx context.Context, matchID uuid.UUID, userID string, fee decimal.Decimal) error
	CreditPrize(ctx context.Context, matchID uuid.UUID, userID string, amount decimal.Decimal) error

	// Release drops the match's idempotency bookkeeping once no more
	// money can move for it.
	Release(matchID uuid.UUID)
}

// OutcomeStore persists the ranked winner record at settlement.
type OutcomeStore interface {
	RecordWinner(ctx context.Context, competitionID, userID string, rank int, prize decimal.Decimal) error
}

// answerRecord is one cell of the answer matrix, written at most once.
type answerRecord struct {
	option    int
	arrivedAt time.Time
}

// Match is one live two-player duel. All fields below deps are owned
// by the match's run goroutine; nothing else touches them.
type Match struct {
	ID          uuid.UUID
	Competition question.Competition
	Questions   []question.Question
	Players     [2]Player

	arena *Arena
	cfg   config.Game
	clock clockwork.Clock

	inbox chan command
	done  chan struct{}

	cursor      int
	scores      [2]int
	answers     [2][]*answerRecord
	resolved    []bool
	safety      clockwork.Timer
	feesDebited bool
	finished    bool
}

// commands serialized through the match inbox; the run loop is the
// only consumer, so each command executes run-to-completion.
type command interface{}

type submitCmd struct {
	userID        string
	competitionID string
	questionIndex int
	option        int
}

type timeoutCmd struct {
	questionIndex int
}

type advanceCmd struct {
	questionIndex int
}

type disconnectCmd struct {
	userID string
	connID string
}

// post delivers a command to the match actor unless the match has
// already been released. Late commands are dropped silently.
func (m *Match) post(c command) {
	select {
	case m.inbox <- c:
	case <-m.done:
	}
}

// playerByUser resolves a user id to the player index, or -1.
func (m *Match) playerByUser(userID string) int {
	for _, p := range m.Players {
		if p.Identity.UserID == userID {
			return p.Index
		}
	}
	return -1
}

func (m *Match) opponent(idx int) Player {
	return m.Players[1-idx]
}
