package models

import (
	"time"

	"github.com/google/uuid"
)

// LeaderboardEntry is one player's derived score within a session.
type LeaderboardEntry struct {
	UserID uuid.UUID `json:"user_id"`
	Score  int       `json:"score"`
	Rank   int       `json:"rank"`
}

// Leaderboard is a derived aggregate over a session's answer records,
// sorted by score in descending order. It is never mutated directly.
type Leaderboard struct {
	GameSessionID uuid.UUID          `json:"game_session_id"`
	Entries       []LeaderboardEntry `json:"entries"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// ScoreFor returns the score for a user, or zero if the user has no entry.
func (l *Leaderboard) ScoreFor(userID uuid.UUID) int {
	for _, e := range l.Entries {
		if e.UserID == userID {
			return e.Score
		}
	}
	return 0
}
