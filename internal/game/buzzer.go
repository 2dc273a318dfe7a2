package game

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrQuestionNotOpen is returned for buzz requests against a question that is
// not currently awaiting a buzz.
var ErrQuestionNotOpen = errors.New("question is not open for buzzing")

// ErrIneligible is returned when a player who already answered this question
// wrong tries to buzz again.
var ErrIneligible = errors.New("player is not eligible to buzz on this question")

// ErrAlreadyBuzzed is returned when a player buzzes twice in one cycle.
var ErrAlreadyBuzzed = errors.New("player already buzzed in this cycle")

// ErrNoAnswerTurn is returned when a player submits an answer without holding
// rank 1 in the current buzz cycle.
var ErrNoAnswerTurn = errors.New("player does not hold the answer turn")

// BuzzResult reports the rank granted to a buzz request. Only rank 1 carries
// permission to answer.
type BuzzResult struct {
	Rank      int
	CanAnswer bool
}

// buzzerQuestion tracks one question's buzz state. Ranks live only for the
// current cycle; lockouts persist across cycles until the question resolves.
type buzzerQuestion struct {
	players   map[uuid.UUID]bool
	lockedOut map[uuid.UUID]bool
	order     []uuid.UUID
	ranks     map[uuid.UUID]int
}

func (q *buzzerQuestion) eligibleRemaining() int {
	n := 0
	for p := range q.players {
		if !q.lockedOut[p] {
			n++
		}
	}
	return n
}

// BuzzerArbiter grants answer turns for buzzer-based game modes. Receipt
// order at the arbiter is the sole tie-break; client-reported times are
// never consulted.
type BuzzerArbiter struct {
	mu        sync.Mutex
	questions map[uuid.UUID]*buzzerQuestion
}

// NewBuzzerArbiter creates an empty arbiter.
func NewBuzzerArbiter() *BuzzerArbiter {
	return &BuzzerArbiter{questions: make(map[uuid.UUID]*buzzerQuestion)}
}

// Open puts a question into the awaiting-buzz state for the given players.
// Reopening an already-open question is a no-op.
func (a *BuzzerArbiter) Open(questionID uuid.UUID, players []uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.questions[questionID]; ok {
		return
	}

	q := &buzzerQuestion{
		players:   make(map[uuid.UUID]bool, len(players)),
		lockedOut: make(map[uuid.UUID]bool),
		ranks:     make(map[uuid.UUID]int),
	}
	for _, p := range players {
		q.players[p] = true
	}
	a.questions[questionID] = q
}

// Buzz records a buzz request. The first request in a cycle receives rank 1
// and exclusive permission to answer; later requests queue in arrival order
// with ranks 2..N.
func (a *BuzzerArbiter) Buzz(questionID, userID uuid.UUID) (BuzzResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.questions[questionID]
	if !ok {
		return BuzzResult{}, ErrQuestionNotOpen
	}
	if !q.players[userID] || q.lockedOut[userID] {
		return BuzzResult{}, ErrIneligible
	}
	if _, ok := q.ranks[userID]; ok {
		return BuzzResult{}, ErrAlreadyBuzzed
	}

	q.order = append(q.order, userID)
	rank := len(q.order)
	q.ranks[userID] = rank

	return BuzzResult{Rank: rank, CanAnswer: rank == 1}, nil
}

// MarkWrong locks the player out of this question and reopens it for a fresh
// buzz-in cycle among the remaining eligible players. It reports whether all
// eligible players have now exhausted their attempt, in which case the
// question is resolved.
func (a *BuzzerArbiter) MarkWrong(questionID, userID uuid.UUID) (exhausted bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.questions[questionID]
	if !ok {
		return false, ErrQuestionNotOpen
	}
	if !q.players[userID] {
		return false, ErrIneligible
	}

	q.lockedOut[userID] = true
	q.order = nil
	q.ranks = make(map[uuid.UUID]int)

	if q.eligibleRemaining() == 0 {
		delete(a.questions, questionID)
		log.Debug().Str("question_id", questionID.String()).Msg("buzzer question exhausted")
		return true, nil
	}
	return false, nil
}

// Resolve closes the question and discards its ranking, whether because a
// correct answer was given or the question was explicitly skipped. Resolving
// an unknown question is a no-op.
func (a *BuzzerArbiter) Resolve(questionID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.questions, questionID)
}

// RankOf returns the rank held by a player in the current cycle, or zero.
func (a *BuzzerArbiter) RankOf(questionID, userID uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.questions[questionID]
	if !ok {
		return 0
	}
	return q.ranks[userID]
}
