package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Event is the JSON envelope for every message crossing the websocket,
// in either direction.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventType identifies a websocket event
type EventType string

// Client -> server events
const (
	EventTypeAuthenticate EventType = "authenticate"
	EventTypeJoinBattle   EventType = "join_battle"
	EventTypeSubmitAnswer EventType = "submit_answer"
)

// Server -> client events
const (
	EventTypeAuthenticated        EventType = "authenticated"
	EventTypeAuthError            EventType = "auth_error"
	EventTypeWaiting              EventType = "waiting"
	EventTypeOpponentJoined       EventType = "opponent_joined"
	EventTypeQuestionStart        EventType = "question_start"
	EventTypeQuestionResult       EventType = "question_result"
	EventTypeGameFinished         EventType = "game_finished"
	EventTypeOpponentDisconnected EventType = "opponent_disconnected"
	EventTypeError                EventType = "error"
)

// AuthenticatePayload carries the bearer token for the authenticate event
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// JoinBattlePayload requests entry into a competition's matchmaking queue
type JoinBattlePayload struct {
	CompetitionID string `json:"competitionId"`
}

// SubmitAnswerPayload carries one player's answer for one question
type SubmitAnswerPayload struct {
	CompetitionID string `json:"competitionId"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        int    `json:"answer"`
}

// UserProfile is the public view of a player sent to clients
type UserProfile struct {
	UserID      string          `json:"userId"`
	DisplayName string          `json:"displayName"`
	Balance     decimal.Decimal `json:"balance"`
}

// AuthenticatedPayload confirms a successful authenticate
type AuthenticatedPayload struct {
	User UserProfile `json:"user"`
}

// AuthErrorPayload reports a failed authenticate
type AuthErrorPayload struct {
	Reason string `json:"reason"`
}

// OpponentJoinedPayload announces the paired opponent's public profile
type OpponentJoinedPayload struct {
	Opponent UserProfile `json:"opponent"`
}

// QuestionView is the client-facing shape of a question. The correct
// option index is deliberately absent.
type QuestionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// QuestionStartPayload opens a question round. Position is 1-indexed
// for display; QuestionIndex is the 0-indexed cursor clients must echo
// back in submit_answer.
type QuestionStartPayload struct {
	QuestionIndex  int          `json:"questionIndex"`
	Position       int          `json:"position"`
	TimeLimitSec   int          `json:"timeLimit"`
	Question       QuestionView `json:"question"`
	TotalQuestions int          `json:"totalQuestions"`
}

// QuestionResultPayload reports one scored question to one recipient.
// Scores are per-recipient: MyScore is always the receiver's own.
type QuestionResultPayload struct {
	QuestionIndex  int `json:"questionIndex"`
	CorrectAnswer  int `json:"correctAnswer"`
	MyScore        int `json:"myScore"`
	OpponentScore  int `json:"opponentScore"`
	TotalQuestions int `json:"totalQuestions"`
}

// GameFinishedPayload is the terminal per-recipient settlement event
type GameFinishedPayload struct {
	Winner        string          `json:"winner"` // "you" | "opponent" | "draw"
	MyScore       int             `json:"myScore"`
	OpponentScore int             `json:"opponentScore"`
	PrizeAmount   decimal.Decimal `json:"prizeAmount"`
}

// ErrorPayload is the generic server-side rejection event
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEvent wraps a payload into an envelope, marshaling it to raw JSON
func NewEvent(t EventType, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: raw}, nil
}

// MustEvent is NewEvent for payloads that cannot fail to marshal
// (all server-side payload structs). Panics otherwise.
func MustEvent(t EventType, payload any) Event {
	e, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return e
}

// ParseClientPayload decodes the payload of a client -> server event
// into its typed struct.
func ParseClientPayload(e Event) (any, error) {
	switch e.Type {
	case EventTypeAuthenticate:
		var p AuthenticatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeJoinBattle:
		var p JoinBattlePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypeSubmitAnswer:
		var p SubmitAnswerPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown client event type %q", e.Type)
	}
}
