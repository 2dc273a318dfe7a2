package models

import (
	"time"

	"github.com/google/uuid"
)

// AnswerRecord is the immutable record of one submission, unique per
// (game_session_id, question_id, user_id).
type AnswerRecord struct {
	ID            uuid.UUID `json:"id"`
	GameSessionID uuid.UUID `json:"game_session_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	UserID        uuid.UUID `json:"user_id"`
	Answer        string    `json:"answer"`
	IsCorrect     bool      `json:"is_correct"`
	BuzzerRank    *int      `json:"buzzer_rank,omitempty"`  // buzzer games only
	WagerAmount   *int      `json:"wager_amount,omitempty"` // wager rounds only
	PointsAwarded int       `json:"points_awarded"`
	TimeTakenMs   int       `json:"time_taken_ms"`
	CreatedAt     time.Time `json:"created_at"`
}
