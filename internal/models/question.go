package models

import (
	"time"

	"github.com/google/uuid"
)

// Difficulty tiers recognized by the question processor.
const (
	DifficultyEasy       = "easy"
	DifficultyMediumLow  = "medium_low"
	DifficultyMedium     = "medium"
	DifficultyMediumHigh = "medium_high"
	DifficultyHard       = "hard"
)

// QuestionData holds the JSONB presentation payload of a question.
type QuestionData struct {
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	Explanation string   `json:"explanation,omitempty"`
}

// GameQuestion belongs to exactly one session, identified by
// (game_session_id, question_index). Bulk-inserted at setup, never mutated.
type GameQuestion struct {
	ID               uuid.UUID    `json:"id"`
	GameSessionID    uuid.UUID    `json:"game_session_id"`
	QuestionIndex    int          `json:"question_index"`
	Data             QuestionData `json:"question_data"`
	CorrectAnswer    string       `json:"correct_answer"`
	Category         string       `json:"category"`
	Difficulty       string       `json:"difficulty"`
	Points           int          `json:"points"`
	TimeLimitSeconds int          `json:"time_limit_seconds"`
	ColumnPosition   *int         `json:"column_position,omitempty"` // grid-style games only
	IsDailyDouble    bool         `json:"is_daily_double"`
	IsFinalRound     bool         `json:"is_final_round"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Wagered reports whether answers to this question carry a wager.
func (q *GameQuestion) Wagered() bool {
	return q.IsDailyDouble || q.IsFinalRound
}

// RawQuestion is an AI-generated question candidate before post-processing.
type RawQuestion struct {
	Prompt         string   `json:"prompt"`
	Options        []string `json:"options"`
	CorrectAnswer  string   `json:"correct_answer"`
	Explanation    string   `json:"explanation,omitempty"`
	Category       string   `json:"category"`
	Difficulty     string   `json:"difficulty"`
	ColumnPosition *int     `json:"column_position,omitempty"`
	IsFinalRound   bool     `json:"is_final_round,omitempty"`
}
