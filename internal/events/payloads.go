package events

import (
	"time"
)

// Payloads for outcome events published after a match ends. Downstream
// consumers (leaderboards, notification fan-out) subscribe to these.

// MatchSettledPayload is emitted when a match ran to completion.
type MatchSettledPayload struct {
	MatchID       string    `json:"match_id"`
	CompetitionID string    `json:"competition_id"`
	Players       [2]string `json:"players"`
	Scores        [2]int    `json:"scores"`
	WinnerID      string    `json:"winner_id,omitempty"` // empty on a draw
	PrizeAmount   string    `json:"prize_amount"`
	SettledAt     time.Time `json:"settled_at"`
}

// MatchAbortedPayload is emitted when a match was torn down before
// completion, usually because a participant disconnected.
type MatchAbortedPayload struct {
	MatchID          string    `json:"match_id"`
	CompetitionID    string    `json:"competition_id"`
	Players          [2]string `json:"players"`
	DisconnectedUser string    `json:"disconnected_user,omitempty"`
	RefundedUsers    []string  `json:"refunded_users,omitempty"`
	AbortedAt        time.Time `json:"aborted_at"`
}

// Event type names used as subject suffixes.
const (
	TypeMatchSettled = "MatchSettled"
	TypeMatchAborted = "MatchAborted"
)
