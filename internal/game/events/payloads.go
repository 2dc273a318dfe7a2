package events

import (
	"time"
)

// Event types carried on the bus, grouped into the three change streams.
const (
	TypeGameStarted      = "GameStarted"
	TypeQuestionAdvanced = "QuestionAdvanced"
	TypeGameCompleted    = "GameCompleted"
	TypeGameCancelled    = "GameCancelled"
	TypeQuestionsReady   = "QuestionsReady"
	TypeScoreUpdated     = "ScoreUpdated"
)

// Stream names; each session fans out on game.<id>.<stream>.
const (
	StreamSession   = "session"
	StreamQuestions = "questions"
	StreamScores    = "scores"
)

// StreamFor returns the change stream an event type belongs to.
func StreamFor(eventType string) string {
	switch eventType {
	case TypeQuestionsReady:
		return StreamQuestions
	case TypeScoreUpdated:
		return StreamScores
	default:
		return StreamSession
	}
}

// GameStartedPayload is the payload for a GameStarted event.
type GameStartedPayload struct {
	GameSessionID string    `json:"game_session_id"`
	GameType      string    `json:"game_type"`
	StartedAt     time.Time `json:"started_at"`
	QuestionCount int       `json:"question_count"`
}

// QuestionAdvancedPayload is the payload for a QuestionAdvanced event.
type QuestionAdvancedPayload struct {
	GameSessionID string    `json:"game_session_id"`
	QuestionIndex int       `json:"question_index"`
	AdvancedAt    time.Time `json:"advanced_at"`
}

// GameCompletedPayload is the payload for a GameCompleted event.
type GameCompletedPayload struct {
	GameSessionID string    `json:"game_session_id"`
	CompletedAt   time.Time `json:"completed_at"`
	Duration      string    `json:"duration,omitempty"`
}

// GameCancelledPayload is the payload for a GameCancelled event.
type GameCancelledPayload struct {
	GameSessionID string    `json:"game_session_id"`
	CancelledAt   time.Time `json:"cancelled_at"`
	Reason        string    `json:"reason,omitempty"`
}

// QuestionsReadyPayload signals that generated questions have been persisted
// for a session and the host may start the game.
type QuestionsReadyPayload struct {
	GameSessionID string    `json:"game_session_id"`
	QuestionCount int       `json:"question_count"`
	ReadyAt       time.Time `json:"ready_at"`
}

// ScoreUpdatedPayload is the payload for a ScoreUpdated event.
type ScoreUpdatedPayload struct {
	GameSessionID string    `json:"game_session_id"`
	UserID        string    `json:"user_id"`
	QuestionIndex int       `json:"question_index"`
	PointsAwarded int       `json:"points_awarded"`
	UpdatedAt     time.Time `json:"updated_at"`
}
