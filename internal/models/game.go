package models

import (
	"time"

	"github.com/google/uuid"
)

// GameType defines the game mode of a session.
type GameType string

const (
	GameTypeQuizBattle GameType = "QUIZ_BATTLE"
	GameTypeJeopardy   GameType = "JEOPARDY"
)

// Valid reports whether t is a recognized game type.
func (t GameType) Valid() bool {
	switch t {
	case GameTypeQuizBattle, GameTypeJeopardy:
		return true
	}
	return false
}

// GameStatus defines the lifecycle status of a session.
type GameStatus string

const (
	GameStatusWaiting    GameStatus = "WAITING"
	GameStatusInProgress GameStatus = "IN_PROGRESS"
	GameStatusCompleted  GameStatus = "COMPLETED"
	GameStatusCancelled  GameStatus = "CANCELLED"
)

// Terminal reports whether the status is one of the two immutable end states.
func (s GameStatus) Terminal() bool {
	return s == GameStatusCompleted || s == GameStatusCancelled
}

// GameConfig holds JSONB configuration for a session. Immutable after creation.
type GameConfig struct {
	QuestionCount      int      `json:"question_count"`
	Difficulty         string   `json:"difficulty"`
	Categories         []string `json:"categories,omitempty"`
	PointsPerQuestion  int      `json:"points_per_question,omitempty"`
	TimePerQuestionSec int      `json:"time_per_question_sec"`
}

// GameSession represents one multiplayer trivia game for a room.
// updated_at is the version clock used as the question-timer origin.
type GameSession struct {
	ID                   uuid.UUID  `json:"id"`
	RoomID               uuid.UUID  `json:"room_id"`
	HostID               uuid.UUID  `json:"host_id"`
	GameType             GameType   `json:"game_type"`
	Status               GameStatus `json:"status"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	Config               GameConfig `json:"config"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsLastQuestion reports whether the session is on its final question.
func (g *GameSession) IsLastQuestion() bool {
	return g.CurrentQuestionIndex == g.Config.QuestionCount-1
}
