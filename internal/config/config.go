package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Game holds the duel engine tunables. The zero value is not usable;
// start from DefaultGame and override via a YAML file.
type Game struct {
	// QuestionTimeSec is the answer budget shown to clients.
	QuestionTimeSec int

	// SafetyMarginSec is added on top of the client budget before the
	// server auto-resolves a question with no-answer sentinels.
	SafetyMarginSec int

	// ResultPauseSec is the gap between a question's result and the
	// next question, so clients can render the result.
	ResultPauseSec int

	// PrizeFraction of the pooled entry fees paid to a strict winner.
	PrizeFraction decimal.Decimal

	// CurrencyPrecision is the decimal precision prizes are rounded to.
	CurrencyPrecision int32
}

// gameYAML is the file shape. Pointers distinguish "unset" from zero;
// the prize fraction travels as a string so it parses losslessly.
type gameYAML struct {
	QuestionTimeSec   *int    `yaml:"question_time_sec"`
	SafetyMarginSec   *int    `yaml:"safety_margin_sec"`
	ResultPauseSec    *int    `yaml:"result_pause_sec"`
	PrizeFraction     *string `yaml:"prize_fraction"`
	CurrencyPrecision *int32  `yaml:"currency_precision"`
}

// DefaultGame returns the production defaults: 20s answer budget, 25s
// server deadline, 2s result pause, 85% prize pool payout.
func DefaultGame() Game {
	return Game{
		QuestionTimeSec:   20,
		SafetyMarginSec:   5,
		ResultPauseSec:    2,
		PrizeFraction:     decimal.RequireFromString("0.85"),
		CurrencyPrecision: 2,
	}
}

// LoadGame reads tunables from a YAML file, falling back to defaults
// for anything unset. A missing file is not an error; an unreadable or
// invalid one is.
func LoadGame(path string) (Game, error) {
	g := DefaultGame()

	if path == "" {
		return g, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return Game{}, fmt.Errorf("read game config: %w", err)
	}

	var file gameYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Game{}, fmt.Errorf("parse game config: %w", err)
	}

	if file.QuestionTimeSec != nil {
		g.QuestionTimeSec = *file.QuestionTimeSec
	}
	if file.SafetyMarginSec != nil {
		g.SafetyMarginSec = *file.SafetyMarginSec
	}
	if file.ResultPauseSec != nil {
		g.ResultPauseSec = *file.ResultPauseSec
	}
	if file.PrizeFraction != nil {
		frac, err := decimal.NewFromString(*file.PrizeFraction)
		if err != nil {
			return Game{}, fmt.Errorf("parse prize_fraction: %w", err)
		}
		g.PrizeFraction = frac
	}
	if file.CurrencyPrecision != nil {
		g.CurrencyPrecision = *file.CurrencyPrecision
	}

	if err := g.validate(); err != nil {
		return Game{}, fmt.Errorf("invalid game config: %w", err)
	}

	return g, nil
}

func (g Game) validate() error {
	if g.QuestionTimeSec <= 0 {
		return fmt.Errorf("question_time_sec must be positive, got %d", g.QuestionTimeSec)
	}
	if g.SafetyMarginSec < 0 {
		return fmt.Errorf("safety_margin_sec must not be negative, got %d", g.SafetyMarginSec)
	}
	if g.ResultPauseSec < 0 {
		return fmt.Errorf("result_pause_sec must not be negative, got %d", g.ResultPauseSec)
	}
	if g.PrizeFraction.IsNegative() || g.PrizeFraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("prize_fraction must be within [0, 1], got %s", g.PrizeFraction)
	}
	return nil
}

// QuestionTime is the client-visible answer budget.
func (g Game) QuestionTime() time.Duration {
	return time.Duration(g.QuestionTimeSec) * time.Second
}

// SafetyTimeout is the server-side deadline for a question.
func (g Game) SafetyTimeout() time.Duration {
	return time.Duration(g.QuestionTimeSec+g.SafetyMarginSec) * time.Second
}

// ResultPause is the inter-question gap.
func (g Game) ResultPause() time.Duration {
	return time.Duration(g.ResultPauseSec) * time.Second
}
