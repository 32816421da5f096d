package match_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/luckbox/quizduel/internal/config"
	"github.com/luckbox/quizduel/internal/events"
	"github.com/luckbox/quizduel/internal/identity"
	"github.com/luckbox/quizduel/internal/match"
	"github.com/luckbox/quizduel/internal/protocol"
	"github.com/luckbox/quizduel/internal/question"
)

const (
	connA = "conn-a"
	connB = "conn-b"
	userA = "user-a"
	userB = "user-b"
)

type fakeSink struct {
	mu   sync.Mutex
	recv map[string][]protocol.Event
	dead map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		recv: make(map[string][]protocol.Event),
		dead: make(map[string]bool),
	}
}

func (s *fakeSink) Send(connID string, e protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recv[connID] = append(s.recv[connID], e)
}

func (s *fakeSink) IsConnected(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead[connID]
}

func (s *fakeSink) drop(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[connID] = true
}

func (s *fakeSink) count(connID string, t protocol.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.recv[connID] {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (s *fakeSink) last(connID string, t protocol.EventType) (protocol.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.recv[connID]) - 1; i >= 0; i-- {
		if s.recv[connID][i].Type == t {
			return s.recv[connID][i], true
		}
	}
	return protocol.Event{}, false
}

type fakeLedger struct {
	mu      sync.Mutex
	refunds map[string]int
	prizes  map[string]decimal.Decimal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		refunds: make(map[string]int),
		prizes:  make(map[string]decimal.Decimal),
	}
}

func (l *fakeLedger) RefundEntry(ctx context.Context, matchID uuid.UUID, userID string, fee decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds[userID]++
	return nil
}

func (l *fakeLedger) CreditPrize(ctx context.Context, matchID uuid.UUID, userID string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prizes[userID] = l.prizes[userID].Add(amount)
	return nil
}

func (l *fakeLedger) Release(matchID uuid.UUID) {}

func (l *fakeLedger) refundCount(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refunds[userID]
}

func (l *fakeLedger) prizeFor(userID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prizes[userID]
}

type winnerRecord struct {
	competitionID string
	userID        string
	rank          int
	prize         decimal.Decimal
}

type fakeOutcomes struct {
	mu      sync.Mutex
	records []winnerRecord
}

func (o *fakeOutcomes) RecordWinner(ctx context.Context, competitionID, userID string, rank int, prize decimal.Decimal) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, winnerRecord{competitionID, userID, rank, prize})
	return nil
}

func (o *fakeOutcomes) all() []winnerRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]winnerRecord(nil), o.records...)
}

type fixture struct {
	t        *testing.T
	clock    *clockwork.FakeClock
	sink     *fakeSink
	ledger   *fakeLedger
	outcomes *fakeOutcomes
	arena    *match.Arena
	cfg      config.Game
}

func newFixture(t *testing.T) *fixture {
	cfg := config.DefaultGame()
	clock := clockwork.NewFakeClock()
	sink := newFakeSink()
	ledger := newFakeLedger()
	outcomes := &fakeOutcomes{}
	arena := match.NewArena(cfg, clock, sink, ledger, outcomes, events.NoopPublisher{})
	return &fixture{
		t:        t,
		clock:    clock,
		sink:     sink,
		ledger:   ledger,
		outcomes: outcomes,
		arena:    arena,
		cfg:      cfg,
	}
}

func twoQuestions() []question.Question {
	return []question.Question{
		{ID: "q1", Prompt: "2+2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
		{ID: "q2", Prompt: "Capital of France?", Options: []string{"Paris", "Lyon"}, CorrectIndex: 0},
	}
}

func (f *fixture) start(questions []question.Question, fee decimal.Decimal) *match.Match {
	f.t.Helper()

	comp := question.Competition{ID: "comp-1", Title: "Test Cup", EntryFee: fee}
	p0 := match.Player{Index: 0, ConnID: connA, Identity: identity.Identity{UserID: userA, DisplayName: "Alice"}}
	p1 := match.Player{Index: 1, ConnID: connB, Identity: identity.Identity{UserID: userB, DisplayName: "Bob"}}

	m, err := f.arena.StartMatch(context.Background(), uuid.New(), comp, questions, p0, p1, !comp.Free())
	require.NoError(f.t, err)

	f.waitCount(connA, protocol.EventTypeQuestionStart, 1)
	f.waitCount(connB, protocol.EventTypeQuestionStart, 1)
	return m
}

// waitCount polls until connID has received at least n events of type t.
func (f *fixture) waitCount(connID string, t protocol.EventType, n int) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		return f.sink.count(connID, t) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s events on %s", n, t, connID)
}

func payload[T any](t *testing.T, e protocol.Event) T {
	t.Helper()
	var p T
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	return p
}

// advancePause moves past the inter-question gap once the pause timer
// is armed.
func (f *fixture) advancePause() {
	f.clock.BlockUntil(1)
	f.clock.Advance(f.cfg.ResultPause())
}

func TestMatch_WinnerPaidConfiguredFractionOfPool(t *testing.T) {
	f := newFixture(t)
	fee := decimal.NewFromInt(50)
	f.start(twoQuestions()[:1], fee)

	f.arena.SubmitAnswer(userA, "comp-1", 0, 1) // correct
	f.arena.SubmitAnswer(userB, "comp-1", 0, 0) // wrong

	f.waitCount(connA, protocol.EventTypeGameFinished, 1)
	f.waitCount(connB, protocol.EventTypeGameFinished, 1)

	// Exactly one result per participant, no timeout involved.
	require.Equal(t, 1, f.sink.count(connA, protocol.EventTypeQuestionResult))
	require.Equal(t, 1, f.sink.count(connB, protocol.EventTypeQuestionResult))

	e, ok := f.sink.last(connA, protocol.EventTypeQuestionResult)
	require.True(t, ok)
	res := payload[protocol.QuestionResultPayload](t, e)
	require.Equal(t, 1, res.CorrectAnswer)
	require.Equal(t, 1, res.MyScore)
	require.Equal(t, 0, res.OpponentScore)

	// 85% of the pooled 100.
	wantPrize := decimal.RequireFromString("85")
	e, _ = f.sink.last(connA, protocol.EventTypeGameFinished)
	fin := payload[protocol.GameFinishedPayload](t, e)
	require.Equal(t, "you", fin.Winner)
	require.True(t, wantPrize.Equal(fin.PrizeAmount), "prize %s", fin.PrizeAmount)

	e, _ = f.sink.last(connB, protocol.EventTypeGameFinished)
	fin = payload[protocol.GameFinishedPayload](t, e)
	require.Equal(t, "opponent", fin.Winner)
	require.True(t, fin.PrizeAmount.IsZero())

	require.True(t, wantPrize.Equal(f.ledger.prizeFor(userA)))
	require.True(t, f.ledger.prizeFor(userB).IsZero())

	records := f.outcomes.all()
	require.Len(t, records, 1)
	require.Equal(t, winnerRecord{"comp-1", userA, 1, wantPrize}, records[0])

	require.Eventually(t, func() bool { return f.arena.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestMatch_DrawPaysNothing(t *testing.T) {
	f := newFixture(t)
	fee := decimal.NewFromInt(50)
	f.start(twoQuestions(), fee)

	// Question 0: both correct.
	f.arena.SubmitAnswer(userA, "comp-1", 0, 1)
	f.arena.SubmitAnswer(userB, "comp-1", 0, 1)
	f.waitCount(connA, protocol.EventTypeQuestionResult, 1)
	f.waitCount(connB, protocol.EventTypeQuestionResult, 1)

	f.advancePause()
	f.waitCount(connA, protocol.EventTypeQuestionStart, 2)
	f.waitCount(connB, protocol.EventTypeQuestionStart, 2)

	// Question 1: both wrong.
	f.arena.SubmitAnswer(userA, "comp-1", 1, 1)
	f.arena.SubmitAnswer(userB, "comp-1", 1, 1)

	f.waitCount(connA, protocol.EventTypeGameFinished, 1)
	f.waitCount(connB, protocol.EventTypeGameFinished, 1)

	for _, conn := range []string{connA, connB} {
		e, _ := f.sink.last(conn, protocol.EventTypeGameFinished)
		fin := payload[protocol.GameFinishedPayload](t, e)
		require.Equal(t, "draw", fin.Winner)
		require.Equal(t, 1, fin.MyScore)
		require.Equal(t, 1, fin.OpponentScore)
		require.True(t, fin.PrizeAmount.IsZero())
	}

	// No prize-credit and no winner record on a draw.
	require.True(t, f.ledger.prizeFor(userA).IsZero())
	require.True(t, f.ledger.prizeFor(userB).IsZero())
	require.Empty(t, f.outcomes.all())
}

func TestMatch_SafetyTimeoutRecordsSentinel(t *testing.T) {
	f := newFixture(t)
	f.start(twoQuestions()[:1], decimal.NewFromInt(10))

	// A answers within budget, B never does.
	f.arena.SubmitAnswer(userA, "comp-1", 0, 1)

	// Just shy of the deadline: nothing resolves.
	f.clock.BlockUntil(1)
	f.clock.Advance(f.cfg.SafetyTimeout() - time.Second)
	require.Equal(t, 0, f.sink.count(connA, protocol.EventTypeQuestionResult))

	f.clock.Advance(time.Second)
	f.waitCount(connA, protocol.EventTypeGameFinished, 1)

	e, _ := f.sink.last(connA, protocol.EventTypeGameFinished)
	fin := payload[protocol.GameFinishedPayload](t, e)
	require.Equal(t, "you", fin.Winner)
	require.Equal(t, 1, fin.MyScore)
	require.Equal(t, 0, fin.OpponentScore)
}

func TestMatch_NoAnswersResolveAsDraw(t *testing.T) {
	f := newFixture(t)
	f.start(twoQuestions()[:1], decimal.NewFromInt(10))

	f.clock.BlockUntil(1)
	f.clock.Advance(f.cfg.SafetyTimeout())

	f.waitCount(connA, protocol.EventTypeGameFinished, 1)
	e, _ := f.sink.last(connA, protocol.EventTypeGameFinished)
	fin := payload[protocol.GameFinishedPayload](t, e)
	require.Equal(t, "draw", fin.Winner)
	require.Equal(t, 0, fin.MyScore)
	require.True(t, f.ledger.prizeFor(userA).IsZero())
	require.True(t, f.ledger.prizeFor(userB).IsZero())
}

func TestMatch_DuplicateAndStaleSubmitsIgnored(t *testing.T) {
	f := newFixture(t)
	f.start(twoQuestions()[:1], decimal.NewFromInt(10))

	f.arena.SubmitAnswer(userA, "comp-1", 0, 0)  // wrong, first write wins
	f.arena.SubmitAnswer(userA, "comp-1", 0, 1)  // duplicate, dropped
	f.arena.SubmitAnswer(userA, "comp-1", 5, 1)  // stale index, dropped
	f.arena.SubmitAnswer(userA, "other", 0, 1)   // wrong competition, dropped
	f.arena.SubmitAnswer("ghost", "comp-1", 0, 1) // unknown user, dropped
	f.arena.SubmitAnswer(userB, "comp-1", 0, 1)  // correct

	f.waitCount(connA, protocol.EventTypeGameFinished, 1)

	e, _ := f.sink.last(connA, protocol.EventTypeGameFinished)
	fin := payload[protocol.GameFinishedPayload](t, e)
	require.Equal(t, "opponent", fin.Winner)
	require.Equal(t, 0, fin.MyScore)
	require.Equal(t, 1, fin.OpponentScore)

	require.Equal(t, 1, f.sink.count(connA, protocol.EventTypeQuestionResult))
	require.Equal(t, 1, f.sink.count(connB, protocol.EventTypeQuestionResult))
}

func TestMatch_DisconnectAbortsWithRefund(t *testing.T) {
	f := newFixture(t)
	fee := decimal.NewFromInt(50)
	f.start(twoQuestions(), fee)

	// Play out question 0.
	f.arena.SubmitAnswer(userA, "comp-1", 0, 1)
	f.arena.SubmitAnswer(userB, "comp-1", 0, 0)
	f.waitCount(connB, protocol.EventTypeQuestionResult, 1)

	// A drops before question 1 starts.
	f.arena.HandleDisconnect(userA, connA)

	f.waitCount(connB, protocol.EventTypeOpponentDisconnected, 1)
	require.Eventually(t, func() bool { return f.ledger.refundCount(userA) == 1 }, 2*time.Second, 5*time.Millisecond)

	// No forfeit win: nobody gets game_finished, nobody gets paid.
	require.Equal(t, 0, f.sink.count(connA, protocol.EventTypeGameFinished))
	require.Equal(t, 0, f.sink.count(connB, protocol.EventTypeGameFinished))
	require.True(t, f.ledger.prizeFor(userB).IsZero())
	require.Equal(t, 0, f.ledger.refundCount(userB))

	require.Eventually(t, func() bool { return f.arena.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	// The match is gone; a late answer is a silent no-op.
	f.arena.SubmitAnswer(userB, "comp-1", 1, 0)
	require.Equal(t, 1, f.sink.count(connB, protocol.EventTypeQuestionResult))
}

func TestMatch_DisconnectFromOtherConnectionIgnored(t *testing.T) {
	f := newFixture(t)
	fee := decimal.NewFromInt(50)
	f.start(twoQuestions()[:1], fee)

	// A's second tab closes. A is still playing on connA, so the match
	// must keep running and no money may move.
	f.arena.HandleDisconnect(userA, "conn-a-tab2")

	f.arena.SubmitAnswer(userA, "comp-1", 0, 1)
	f.arena.SubmitAnswer(userB, "comp-1", 0, 0)

	f.waitCount(connA, protocol.EventTypeGameFinished, 1)
	f.waitCount(connB, protocol.EventTypeGameFinished, 1)

	require.Equal(t, 0, f.sink.count(connA, protocol.EventTypeOpponentDisconnected))
	require.Equal(t, 0, f.sink.count(connB, protocol.EventTypeOpponentDisconnected))
	require.Equal(t, 0, f.ledger.refundCount(userA))
	require.Equal(t, 0, f.ledger.refundCount(userB))

	e, _ := f.sink.last(connA, protocol.EventTypeGameFinished)
	fin := payload[protocol.GameFinishedPayload](t, e)
	require.Equal(t, "you", fin.Winner)
}

func TestMatch_DeadConnectionStopsAdvance(t *testing.T) {
	f := newFixture(t)
	f.start(twoQuestions(), decimal.NewFromInt(10))

	f.arena.SubmitAnswer(userA, "comp-1", 0, 1)
	f.arena.SubmitAnswer(userB, "comp-1", 0, 1)
	f.waitCount(connB, protocol.EventTypeQuestionResult, 1)

	// B's socket died without the disconnect handler running yet; the
	// liveness re-check before question 1 must catch it.
	f.sink.drop(connB)
	f.advancePause()

	f.waitCount(connA, protocol.EventTypeOpponentDisconnected, 1)
	require.Equal(t, 1, f.sink.count(connA, protocol.EventTypeQuestionStart))
	require.Eventually(t, func() bool { return f.ledger.refundCount(userB) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMatch_FreeCompetitionSkipsLedger(t *testing.T) {
	f := newFixture(t)
	f.start(twoQuestions()[:1], decimal.Zero)

	f.arena.SubmitAnswer(userA, "comp-1", 0, 1)
	f.arena.SubmitAnswer(userB, "comp-1", 0, 0)
	f.waitCount(connA, protocol.EventTypeGameFinished, 1)

	e, _ := f.sink.last(connA, protocol.EventTypeGameFinished)
	fin := payload[protocol.GameFinishedPayload](t, e)
	require.Equal(t, "you", fin.Winner)
	require.True(t, fin.PrizeAmount.IsZero())

	// The winner is recorded, but no money moves.
	require.True(t, f.ledger.prizeFor(userA).IsZero())
	records := f.outcomes.all()
	require.Len(t, records, 1)
	require.True(t, records[0].prize.IsZero())
}

func TestMatch_QuestionStartPayloadShape(t *testing.T) {
	f := newFixture(t)
	f.start(twoQuestions(), decimal.Zero)

	e, ok := f.sink.last(connA, protocol.EventTypeQuestionStart)
	require.True(t, ok)
	start := payload[protocol.QuestionStartPayload](t, e)
	require.Equal(t, 0, start.QuestionIndex)
	require.Equal(t, 1, start.Position)
	require.Equal(t, f.cfg.QuestionTimeSec, start.TimeLimitSec)
	require.Equal(t, 2, start.TotalQuestions)
	require.Equal(t, "2+2?", start.Question.Prompt)
	require.NotEmpty(t, start.Question.ID)
}
