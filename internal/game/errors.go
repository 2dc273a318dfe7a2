package game

import (
	"errors"
	"fmt"

	"github.com/studydeck/gamecore/internal/models"
)

// ErrNotFound is returned when a session or question does not exist.
var ErrNotFound = errors.New("game session not found")

// ErrActiveSessionExists is returned when creating a session for a room that
// already has a non-terminal one.
var ErrActiveSessionExists = errors.New("room already has an active game session")

// ErrAlreadyAnswered is returned when a user submits a second answer for the
// same question.
var ErrAlreadyAnswered = errors.New("answer already recorded for this question")

// ErrNotHost is returned when a non-host attempts a host-only operation.
var ErrNotHost = errors.New("only the host may perform this action")

// ValidationError rejects a malformed request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IllegalTransitionError rejects a lifecycle transition that the session
// state machine does not permit. The session is left untouched.
type IllegalTransitionError struct {
	SessionID string
	From      models.GameStatus
	To        models.GameStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for session %s", e.From, e.To, e.SessionID)
}

// InvalidWagerError rejects a wager outside [0, max(currentScore, 0)].
// No answer record is written.
type InvalidWagerError struct {
	Wager int
	Max   int
}

func (e *InvalidWagerError) Error() string {
	return fmt.Sprintf("wager %d outside allowed range [0, %d]", e.Wager, e.Max)
}
