package question

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCompetitionNotFound is returned when the competition id does not exist.
var ErrCompetitionNotFound = errors.New("question: competition not found")

// Repository is the Postgres-backed question bank.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a question bank repository over a pgx pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetCompetition loads a competition's title and entry fee.
func (r *Repository) GetCompetition(ctx context.Context, competitionID string) (Competition, error) {
	const stmt = `
SELECT id, title, entry_fee
FROM competitions
WHERE id = $1;`

	var c Competition
	err := r.db.QueryRow(ctx, stmt, competitionID).Scan(&c.ID, &c.Title, &c.EntryFee)
	if errors.Is(err, pgx.ErrNoRows) {
		return Competition{}, ErrCompetitionNotFound
	}
	if err != nil {
		return Competition{}, fmt.Errorf("get competition %s: %w", competitionID, err)
	}

	return c, nil
}

// ListQuestions returns a competition's questions ordered by creation.
func (r *Repository) ListQuestions(ctx context.Context, competitionID string) ([]Question, error) {
	const stmt = `
SELECT id, prompt, options, correct_index
FROM questions
WHERE competition_id = $1
ORDER BY created_at, id;`

	rows, err := r.db.Query(ctx, stmt, competitionID)
	if err != nil {
		return nil, fmt.Errorf("list questions for %s: %w", competitionID, err)
	}

	questions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Question, error) {
		var q Question
		if err := row.Scan(&q.ID, &q.Prompt, &q.Options, &q.CorrectIndex); err != nil {
			return Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect questions for %s: %w", competitionID, err)
	}

	return questions, nil
}
