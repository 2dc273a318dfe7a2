package game_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/gamecore/internal/game"
	"github.com/studydeck/gamecore/internal/models"
)

type recordedPoints struct {
	userID uuid.UUID
	points int
}

type fakeSink struct {
	recorded []recordedPoints
}

func (s *fakeSink) RecordPoints(ctx context.Context, sessionID, userID uuid.UUID, points int) error {
	s.recorded = append(s.recorded, recordedPoints{userID: userID, points: points})
	return nil
}

// scoringFixture seeds an in-progress session with one current question.
func scoringFixture(t *testing.T, question models.GameQuestion) (*fakeRepo, *models.GameSession) {
	t.Helper()
	repo := newFakeRepo()

	now := time.Now()
	session := &models.GameSession{
		ID:        uuid.New(),
		RoomID:    uuid.New(),
		HostID:    uuid.New(),
		GameType:  models.GameTypeJeopardy,
		Status:    models.GameStatusInProgress,
		Config:    quizConfig(5),
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	repo.sessions[session.ID] = session
	repo.participants[session.ID] = []uuid.UUID{session.HostID}

	question.ID = uuid.New()
	question.GameSessionID = session.ID
	question.QuestionIndex = 0
	repo.questions[session.ID] = []models.GameQuestion{question}
	return repo, session
}

func TestSubmitCorrectAnswerAwardsPoints(t *testing.T) {
	repo, session := scoringFixture(t, models.GameQuestion{
		CorrectAnswer: "Jupiter",
		Points:        300,
	})
	sink := &fakeSink{}
	e := game.NewScoringEngine(repo, sink, clockwork.NewRealClock())
	userID := uuid.New()

	rec, err := e.Submit(context.Background(), game.SubmitAnswerRequest{
		SessionID: session.ID,
		UserID:    userID,
		Answer:    "  jupiter ",
	})
	require.NoError(t, err)
	require.True(t, rec.IsCorrect, "answers match case-insensitively ignoring whitespace")
	require.Equal(t, 300, rec.PointsAwarded)
	require.Equal(t, []recordedPoints{{userID: userID, points: 300}}, sink.recorded)
}

func TestSubmitWrongAnswerAwardsNothing(t *testing.T) {
	repo, session := scoringFixture(t, models.GameQuestion{
		CorrectAnswer: "Jupiter",
		Points:        300,
	})
	e := game.NewScoringEngine(repo, nil, clockwork.NewRealClock())

	rec, err := e.Submit(context.Background(), game.SubmitAnswerRequest{
		SessionID: session.ID,
		UserID:    uuid.New(),
		Answer:    "Saturn",
	})
	require.NoError(t, err)
	require.False(t, rec.IsCorrect)
	require.Zero(t, rec.PointsAwarded)
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	repo, session := scoringFixture(t, models.GameQuestion{
		CorrectAnswer: "Jupiter",
		Points:        300,
	})
	e := game.NewScoringEngine(repo, nil, clockwork.NewRealClock())
	userID := uuid.New()

	_, err := e.Submit(context.Background(), game.SubmitAnswerRequest{
		SessionID: session.ID,
		UserID:    userID,
		Answer:    "Jupiter",
	})
	require.NoError(t, err)

	_, err = e.Submit(context.Background(), game.SubmitAnswerRequest{
		SessionID: session.ID,
		UserID:    userID,
		Answer:    "Jupiter",
	})
	require.ErrorIs(t, err, game.ErrAlreadyAnswered)
}

func TestSubmitRequiresInProgressSession(t *testing.T) {
	repo, session := scoringFixture(t, models.GameQuestion{
		CorrectAnswer: "Jupiter",
		Points:        300,
	})
	repo.sessions[session.ID].Status = models.GameStatusCompleted
	e := game.NewScoringEngine(repo, nil, clockwork.NewRealClock())

	_, err := e.Submit(context.Background(), game.SubmitAnswerRequest{
		SessionID: session.ID,
		UserID:    uuid.New(),
		Answer:    "Jupiter",
	})
	var transitionErr *game.IllegalTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestSubmitWagerRounds(t *testing.T) {
	wager := func(n int) *int { return &n }

	tests := map[string]struct {
		score      int // seeded via a prior answer record
		wager      *int
		answer     string
		wantErr    bool
		wantPoints int
	}{
		"correct adds wager":       {score: 500, wager: wager(300), answer: "Jupiter", wantPoints: 300},
		"wrong subtracts wager":    {score: 500, wager: wager(300), answer: "Saturn", wantPoints: -300},
		"wager of full score":      {score: 500, wager: wager(500), answer: "Jupiter", wantPoints: 500},
		"zero wager":               {score: 500, wager: wager(0), answer: "Saturn", wantPoints: 0},
		"missing wager":            {score: 500, wager: nil, answer: "Jupiter", wantErr: true},
		"wager above score":        {score: 500, wager: wager(501), answer: "Jupiter", wantErr: true},
		"negative wager":           {score: 500, wager: wager(-1), answer: "Jupiter", wantErr: true},
		"negative score caps at 0": {score: -200, wager: wager(100), answer: "Jupiter", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			repo, session := scoringFixture(t, models.GameQuestion{
				CorrectAnswer: "Jupiter",
				Points:        400,
				IsDailyDouble: true,
			})
			e := game.NewScoringEngine(repo, nil, clockwork.NewRealClock())
			userID := uuid.New()

			// Seed the player's score with an earlier record.
			repo.answers = append(repo.answers, &models.AnswerRecord{
				ID:            uuid.New(),
				GameSessionID: session.ID,
				QuestionID:    uuid.New(),
				UserID:        userID,
				PointsAwarded: tc.score,
			})
			repo.participants[session.ID] = append(repo.participants[session.ID], userID)

			rec, err := e.Submit(context.Background(), game.SubmitAnswerRequest{
				SessionID: session.ID,
				UserID:    userID,
				Answer:    tc.answer,
				Wager:     tc.wager,
			})
			if tc.wantErr {
				require.Error(t, err)
				// Rejections must write nothing.
				require.Len(t, repo.answers, 1)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantPoints, rec.PointsAwarded)
		})
	}
}

func TestSubmitInvalidWagerErrorCarriesBounds(t *testing.T) {
	repo, session := scoringFixture(t, models.GameQuestion{
		CorrectAnswer: "Jupiter",
		Points:        400,
		IsFinalRound:  true,
	})
	e := game.NewScoringEngine(repo, nil, clockwork.NewRealClock())
	w := 50

	_, err := e.Submit(context.Background(), game.SubmitAnswerRequest{
		SessionID: session.ID,
		UserID:    uuid.New(), // no prior score, so max wager is 0
		Answer:    "Jupiter",
		Wager:     &w,
	})
	var wagerErr *game.InvalidWagerError
	require.ErrorAs(t, err, &wagerErr)
	require.Equal(t, 50, wagerErr.Wager)
	require.Equal(t, 0, wagerErr.Max)
}
