package game

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/models"
)

// SubmitAnswerRequest carries one player's answer to the current question.
type SubmitAnswerRequest struct {
	SessionID   uuid.UUID
	UserID      uuid.UUID
	Answer      string
	Wager       *int // wager rounds only
	BuzzerRank  *int // buzzer games only
	TimeTakenMs int
}

// ScoreSink receives awarded points after a record is committed. Used to keep
// the leaderboard cache warm; failures there never fail the submission.
type ScoreSink interface {
	RecordPoints(ctx context.Context, sessionID, userID uuid.UUID, points int) error
}

// ScoringEngine computes points for submissions and writes exactly one
// immutable AnswerRecord per accepted submission. The leaderboard is always
// derived by aggregation, never mutated here.
type ScoringEngine struct {
	repo  Repository
	sink  ScoreSink
	clock clockwork.Clock
}

// NewScoringEngine creates a scoring engine. sink may be nil.
func NewScoringEngine(repo Repository, sink ScoreSink, clock clockwork.Clock) *ScoringEngine {
	return &ScoringEngine{repo: repo, sink: sink, clock: clock}
}

// Submit scores an answer against the session's current question and
// persists the record. Wager rounds (Daily Double / Final Round) are the
// only path where a score can decrease.
func (e *ScoringEngine) Submit(ctx context.Context, req SubmitAnswerRequest) (*models.AnswerRecord, error) {
	session, err := e.repo.GetGameSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.GameStatusInProgress {
		return nil, &IllegalTransitionError{SessionID: req.SessionID.String(), From: session.Status, To: session.Status}
	}

	question, err := e.repo.GetCurrentQuestion(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get current question: %w", err)
	}

	correct := answersMatch(question.CorrectAnswer, req.Answer)

	var awarded int
	if question.Wagered() {
		awarded, err = e.wagerPoints(ctx, req, correct)
		if err != nil {
			return nil, err
		}
	} else if correct {
		awarded = question.Points
	}

	rec := &models.AnswerRecord{
		ID:            uuid.New(),
		GameSessionID: req.SessionID,
		QuestionID:    question.ID,
		UserID:        req.UserID,
		Answer:        req.Answer,
		IsCorrect:     correct,
		BuzzerRank:    req.BuzzerRank,
		WagerAmount:   req.Wager,
		PointsAwarded: awarded,
		TimeTakenMs:   req.TimeTakenMs,
		CreatedAt:     e.clock.Now(),
	}

	if err := e.repo.SubmitAnswer(ctx, rec); err != nil {
		return nil, fmt.Errorf("submit answer: %w", err)
	}

	if e.sink != nil {
		if err := e.sink.RecordPoints(ctx, req.SessionID, req.UserID, awarded); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID.String()).Msg("failed to update leaderboard cache")
		}
	}

	log.Info().
		Str("session_id", req.SessionID.String()).
		Str("user_id", req.UserID.String()).
		Bool("correct", correct).
		Int("points", awarded).
		Msg("answer scored")
	return rec, nil
}

// wagerPoints validates the wager against the player's current score and
// returns the signed point delta. Rejections write no record.
func (e *ScoringEngine) wagerPoints(ctx context.Context, req SubmitAnswerRequest, correct bool) (int, error) {
	if req.Wager == nil {
		return 0, &ValidationError{Field: "wager", Reason: "wager required for this question"}
	}

	lb, err := e.repo.GetGameLeaderboard(ctx, req.SessionID)
	if err != nil {
		return 0, fmt.Errorf("get current score: %w", err)
	}

	maxWager := lb.ScoreFor(req.UserID)
	if maxWager < 0 {
		maxWager = 0
	}
	wager := *req.Wager
	if wager < 0 || wager > maxWager {
		return 0, &InvalidWagerError{Wager: wager, Max: maxWager}
	}

	if correct {
		return wager, nil
	}
	return -wager, nil
}

// answersMatch compares answers case-insensitively, ignoring surrounding
// whitespace.
func answersMatch(expected, got string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(got))
}
