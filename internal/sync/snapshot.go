package sync

import (
	"time"

	"github.com/studydeck/gamecore/internal/models"
)

// GameView is the locally mirrored state one client holds for a session.
// It is eventually consistent with the authoritative store and only ever
// mutated through the reconciler.
type GameView struct {
	Session     *models.GameSession
	Question    *models.GameQuestion
	TimerOrigin time.Time // authoritative origin for the question countdown
	Leaderboard *models.Leaderboard
	HasAnswered bool
	Ended       bool
}

// decision is the outcome of reconciling an incoming session snapshot
// against the previously applied one.
type decision struct {
	apply         bool // adopt incoming session metadata
	fetchQuestion bool
	timerOrigin   time.Time
	resetAnswered bool
	markEnded     bool
}

// reconcile is the single pure decision point all three sources (push
// handler, waiting poll, question poll) funnel through. Idempotence comes
// from comparing the incoming snapshot against the previously applied
// status and index, never from event ordering: the same transition observed
// twice decides a fetch only once, and a stale snapshot decides nothing.
func reconcile(prev *GameView, incoming *models.GameSession) decision {
	if incoming == nil || prev.Ended {
		return decision{}
	}

	var (
		prevStatus models.GameStatus
		prevIndex  int
	)
	if prev.Session != nil {
		prevStatus = prev.Session.Status
		prevIndex = prev.Session.CurrentQuestionIndex
	}

	// The applied index is non-decreasing until a terminal status; a
	// lower index can only be a delayed observation of older state.
	if prev.Session != nil && incoming.CurrentQuestionIndex < prevIndex {
		return decision{}
	}

	if incoming.Status.Terminal() {
		return decision{apply: true, markEnded: true}
	}

	d := decision{apply: true}

	switch {
	// Game start: observed as waiting→in_progress, or as a fresh view of a
	// session still on its first question. Only then does the timer run
	// from the session start time rather than the row update time; a view
	// joining mid-game takes the update-time origin below.
	case incoming.Status == models.GameStatusInProgress &&
		prevStatus != models.GameStatusInProgress &&
		(prevStatus == models.GameStatusWaiting || incoming.CurrentQuestionIndex == 0):
		d.fetchQuestion = true
		d.resetAnswered = true
		if incoming.StartedAt != nil {
			d.timerOrigin = *incoming.StartedAt
		} else {
			d.timerOrigin = incoming.UpdatedAt
		}

	// Question advanced: updated_at is the version clock and timer origin.
	case incoming.Status == models.GameStatusInProgress && incoming.CurrentQuestionIndex > prevIndex:
		d.fetchQuestion = true
		d.resetAnswered = true
		d.timerOrigin = incoming.UpdatedAt

	// Covers late joiners and missed push events: in progress but no
	// local question reference.
	case incoming.Status == models.GameStatusInProgress && prev.Question == nil:
		d.fetchQuestion = true
		d.timerOrigin = incoming.UpdatedAt
	}

	return d
}
