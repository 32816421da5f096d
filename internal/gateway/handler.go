package gateway

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/luckbox/quizduel/internal/identity"
	"github.com/luckbox/quizduel/internal/match"
	"github.com/luckbox/quizduel/internal/matchmaking"
	"github.com/luckbox/quizduel/internal/protocol"
	"github.com/luckbox/quizduel/internal/question"
	"github.com/luckbox/quizduel/internal/session"
)

// Verifier resolves bearer tokens to identities.
type Verifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// Handler routes decoded client events to the session directory,
// matchmaker, and match arena. Authentication is a hard gate: until a
// connection's authenticate succeeds, every other event is rejected.
type Handler struct {
	sink     match.Sink
	verifier Verifier
	sessions *session.Directory
	mm       *matchmaking.Matchmaker
	arena    *match.Arena
}

// NewHandler creates the gateway message router.
func NewHandler(sink match.Sink, verifier Verifier, sessions *session.Directory, mm *matchmaking.Matchmaker, arena *match.Arena) *Handler {
	return &Handler{
		sink:     sink,
		verifier: verifier,
		sessions: sessions,
		mm:       mm,
		arena:    arena,
	}
}

// HandleMessage dispatches one client event.
func (h *Handler) HandleMessage(ctx context.Context, connID string, e protocol.Event) {
	payload, err := protocol.ParseClientPayload(e)
	if err != nil {
		h.sink.Send(connID, protocol.MustEvent(protocol.EventTypeError, protocol.ErrorPayload{
			Message: "malformed event",
		}))
		return
	}

	switch p := payload.(type) {
	case protocol.AuthenticatePayload:
		h.handleAuthenticate(ctx, connID, p)
	case protocol.JoinBattlePayload:
		h.handleJoinBattle(ctx, connID, p)
	case protocol.SubmitAnswerPayload:
		h.handleSubmitAnswer(connID, p)
	}
}

func (h *Handler) handleAuthenticate(ctx context.Context, connID string, p protocol.AuthenticatePayload) {
	id, err := h.verifier.Verify(ctx, p.Token)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, identity.ErrUnknownUser) {
			reason = "unknown user"
		}
		h.sink.Send(connID, protocol.MustEvent(protocol.EventTypeAuthError, protocol.AuthErrorPayload{
			Reason: reason,
		}))
		log.Debug().
			Str("connection_id", connID).
			Str("reason", reason).
			Msg("authentication rejected")
		return
	}

	h.sessions.Register(connID, id)
	h.sink.Send(connID, protocol.MustEvent(protocol.EventTypeAuthenticated, protocol.AuthenticatedPayload{
		User: protocol.UserProfile{
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
			Balance:     id.Balance,
		},
	}))

	log.Info().
		Str("connection_id", connID).
		Str("user_id", id.UserID).
		Msg("connection authenticated")
}

func (h *Handler) handleJoinBattle(ctx context.Context, connID string, p protocol.JoinBattlePayload) {
	id, ok := h.sessions.Lookup(connID)
	if !ok {
		h.sendError(connID, "authentication required")
		return
	}

	if err := h.mm.JoinQueue(ctx, p.CompetitionID, connID, id); err != nil {
		h.sendError(connID, joinErrorMessage(err))
		log.Info().
			Err(err).
			Str("connection_id", connID).
			Str("user_id", id.UserID).
			Str("competition_id", p.CompetitionID).
			Msg("join battle rejected")
	}
}

// joinErrorMessage maps matchmaking rejections to client-facing text.
func joinErrorMessage(err error) string {
	var insufficient *matchmaking.InsufficientFundsError
	var debitFailed *matchmaking.FeeDebitError
	switch {
	case errors.Is(err, matchmaking.ErrAlreadyInMatch):
		return "already in a match"
	case errors.Is(err, matchmaking.ErrNoQuestions):
		return "competition has no questions"
	case errors.Is(err, question.ErrCompetitionNotFound):
		return "competition not found"
	case errors.As(err, &insufficient):
		return insufficient.Error()
	case errors.As(err, &debitFailed):
		return "entry fee could not be charged, please try again"
	default:
		return "could not join competition"
	}
}

func (h *Handler) handleSubmitAnswer(connID string, p protocol.SubmitAnswerPayload) {
	id, ok := h.sessions.Lookup(connID)
	if !ok {
		h.sendError(connID, "authentication required")
		return
	}

	// Stale and duplicate submissions are deliberately silent: the
	// client may simply not have seen the match end yet.
	h.arena.SubmitAnswer(id.UserID, p.CompetitionID, p.QuestionIndex, p.Answer)
}

// HandleDisconnect runs the full cancellation path for a dropped
// connection: queue entries are removed, a live match is torn down
// with the opponent notified, and the session binding is destroyed.
func (h *Handler) HandleDisconnect(connID string) {
	h.mm.Leave(connID)

	if id, ok := h.sessions.Lookup(connID); ok {
		h.arena.HandleDisconnect(id.UserID, connID)
	}

	h.sessions.Remove(connID)
}

func (h *Handler) sendError(connID, msg string) {
	h.sink.Send(connID, protocol.MustEvent(protocol.EventTypeError, protocol.ErrorPayload{Message: msg}))
}
