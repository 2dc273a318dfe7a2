package game_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/gamecore/internal/game"
	"github.com/studydeck/gamecore/internal/models"
)

// fakeRepo is an in-memory game.Repository for engine tests.
type fakeRepo struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*models.GameSession
	questions    map[uuid.UUID][]models.GameQuestion
	answers      []*models.AnswerRecord
	participants map[uuid.UUID][]uuid.UUID

	questionsCreated chan struct{}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions:         make(map[uuid.UUID]*models.GameSession),
		questions:        make(map[uuid.UUID][]models.GameQuestion),
		participants:     make(map[uuid.UUID][]uuid.UUID),
		questionsCreated: make(chan struct{}, 1),
	}
}

func (r *fakeRepo) CreateGameSession(ctx context.Context, req game.CreateGameRequest) (*models.GameSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.RoomID == req.RoomID && !s.Status.Terminal() {
			return nil, game.ErrActiveSessionExists
		}
	}

	now := time.Now()
	session := &models.GameSession{
		ID:        req.ID,
		RoomID:    req.RoomID,
		HostID:    req.HostID,
		GameType:  req.GameType,
		Status:    models.GameStatusWaiting,
		Config:    req.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.sessions[session.ID] = session
	r.participants[session.ID] = []uuid.UUID{req.HostID}
	return session, nil
}

func (r *fakeRepo) GetGameSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *fakeRepo) GetActiveGameForRoom(ctx context.Context, roomID uuid.UUID) (*models.GameSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RoomID == roomID && !s.Status.Terminal() {
			copied := *s
			return &copied, nil
		}
	}
	return nil, game.ErrNotFound
}

func (r *fakeRepo) StartGame(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	now := time.Now()
	s.Status = models.GameStatusInProgress
	s.StartedAt = &now
	s.UpdatedAt = now
	copied := *s
	return &copied, nil
}

func (r *fakeRepo) NextQuestion(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	s.CurrentQuestionIndex++
	s.UpdatedAt = time.Now()
	copied := *s
	return &copied, nil
}

func (r *fakeRepo) CompleteGame(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	return r.setStatus(id, models.GameStatusCompleted)
}

func (r *fakeRepo) CancelGame(ctx context.Context, id uuid.UUID, reason string) (*models.GameSession, error) {
	return r.setStatus(id, models.GameStatusCancelled)
}

func (r *fakeRepo) setStatus(id uuid.UUID, status models.GameStatus) (*models.GameSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	copied := *s
	return &copied, nil
}

func (r *fakeRepo) JoinGame(ctx context.Context, sessionID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[sessionID] {
		if p == userID {
			return nil
		}
	}
	r.participants[sessionID] = append(r.participants[sessionID], userID)
	return nil
}

func (r *fakeRepo) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.participants[sessionID]...), nil
}

func (r *fakeRepo) CreateGameQuestions(ctx context.Context, sessionID uuid.UUID, questions []models.GameQuestion) error {
	r.mu.Lock()
	r.questions[sessionID] = questions
	r.mu.Unlock()
	select {
	case r.questionsCreated <- struct{}{}:
	default:
	}
	return nil
}

func (r *fakeRepo) GetCurrentQuestion(ctx context.Context, sessionID uuid.UUID) (*models.GameQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, game.ErrNotFound
	}
	for i := range r.questions[sessionID] {
		if r.questions[sessionID][i].QuestionIndex == s.CurrentQuestionIndex {
			copied := r.questions[sessionID][i]
			return &copied, nil
		}
	}
	return nil, game.ErrNotFound
}

func (r *fakeRepo) SubmitAnswer(ctx context.Context, rec *models.AnswerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.answers {
		if a.GameSessionID == rec.GameSessionID && a.QuestionID == rec.QuestionID && a.UserID == rec.UserID {
			return game.ErrAlreadyAnswered
		}
	}
	r.answers = append(r.answers, rec)
	return nil
}

func (r *fakeRepo) GetGameLeaderboard(ctx context.Context, sessionID uuid.UUID) (*models.Leaderboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals := make(map[uuid.UUID]int)
	for _, p := range r.participants[sessionID] {
		totals[p] = 0
	}
	for _, a := range r.answers {
		if a.GameSessionID == sessionID {
			totals[a.UserID] += a.PointsAwarded
		}
	}

	board := &models.Leaderboard{GameSessionID: sessionID, UpdatedAt: time.Now()}
	for userID, score := range totals {
		board.Entries = append(board.Entries, models.LeaderboardEntry{UserID: userID, Score: score})
	}
	sort.Slice(board.Entries, func(i, j int) bool {
		if board.Entries[i].Score != board.Entries[j].Score {
			return board.Entries[i].Score > board.Entries[j].Score
		}
		return board.Entries[i].UserID.String() < board.Entries[j].UserID.String()
	})
	for i := range board.Entries {
		board.Entries[i].Rank = i + 1
	}
	return board, nil
}

// fakeGenerator returns canned candidates.
type fakeGenerator struct {
	raw []models.RawQuestion
	err error
}

func (g *fakeGenerator) Generate(ctx context.Context, req game.GenerateQuestionsRequest) ([]models.RawQuestion, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.raw, nil
}

func newCoordinator(repo *fakeRepo, gen game.QuestionGenerator) *game.Coordinator {
	return game.NewCoordinator(repo, gen, game.NewQuestionProcessor(1), clockwork.NewRealClock())
}

func quizConfig(count int) models.GameConfig {
	return models.GameConfig{QuestionCount: count, TimePerQuestionSec: 30}
}

func rawQuestions(n int) []models.RawQuestion {
	raw := make([]models.RawQuestion, n)
	for i := range raw {
		raw[i] = models.RawQuestion{
			Prompt:        "prompt",
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: "a",
			Difficulty:    models.DifficultyMedium,
		}
	}
	return raw
}

func TestCreateGameValidation(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{})

	tests := map[string]game.CreateGameRequest{
		"unknown game type": {
			RoomID:   uuid.New(),
			HostID:   uuid.New(),
			GameType: "SPEEDRUN",
			Config:   quizConfig(10),
		},
		"zero question count": {
			RoomID:   uuid.New(),
			HostID:   uuid.New(),
			GameType: models.GameTypeQuizBattle,
			Config:   models.GameConfig{TimePerQuestionSec: 30},
		},
		"zero time per question": {
			RoomID:   uuid.New(),
			HostID:   uuid.New(),
			GameType: models.GameTypeQuizBattle,
			Config:   models.GameConfig{QuestionCount: 10},
		},
	}

	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.CreateGame(context.Background(), req)
			var validationErr *game.ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestCreateGameGeneratesQuestions(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{raw: rawQuestions(5)})

	session, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   uuid.New(),
		HostID:   uuid.New(),
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.NoError(t, err)
	require.Equal(t, models.GameStatusWaiting, session.Status)

	select {
	case <-repo.questionsCreated:
	case <-time.After(2 * time.Second):
		t.Fatal("questions were never persisted")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.questions[session.ID], 5)
	for i, q := range repo.questions[session.ID] {
		require.Equal(t, i, q.QuestionIndex)
		require.Equal(t, 30, q.TimeLimitSeconds)
	}
}

func TestCreateGameCancelsWhenGenerationFails(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{err: errors.New("generator unavailable")})

	session, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   uuid.New(),
		HostID:   uuid.New(),
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.sessions[session.ID].Status == models.GameStatusCancelled
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCreateGameRejectsSecondActiveSession(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{raw: rawQuestions(5)})
	roomID := uuid.New()

	_, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   roomID,
		HostID:   uuid.New(),
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.NoError(t, err)

	_, err = c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   roomID,
		HostID:   uuid.New(),
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.ErrorIs(t, err, game.ErrActiveSessionExists)
}

func TestStartGameHostOnly(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{raw: rawQuestions(5)})
	hostID := uuid.New()

	session, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   uuid.New(),
		HostID:   hostID,
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.NoError(t, err)

	_, err = c.StartGame(context.Background(), session.ID, uuid.New())
	require.ErrorIs(t, err, game.ErrNotHost)

	started, err := c.StartGame(context.Background(), session.ID, hostID)
	require.NoError(t, err)
	require.Equal(t, models.GameStatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)
}

func TestStartGameRequiresWaiting(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{raw: rawQuestions(5)})
	hostID := uuid.New()

	session, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   uuid.New(),
		HostID:   hostID,
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.NoError(t, err)

	_, err = c.StartGame(context.Background(), session.ID, hostID)
	require.NoError(t, err)

	_, err = c.StartGame(context.Background(), session.ID, hostID)
	var transitionErr *game.IllegalTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestAdvanceCompletesOnLastQuestion(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{raw: rawQuestions(10)})
	hostID := uuid.New()

	session, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   uuid.New(),
		HostID:   hostID,
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(10),
	})
	require.NoError(t, err)

	_, err = c.StartGame(context.Background(), session.ID, hostID)
	require.NoError(t, err)

	for i := 1; i <= 9; i++ {
		advanced, err := c.Advance(context.Background(), session.ID)
		require.NoError(t, err)
		require.Equal(t, i, advanced.CurrentQuestionIndex)
		require.Equal(t, models.GameStatusInProgress, advanced.Status)
	}

	// Index 9 of 10 is the final question; the next advance ends the game
	// without incrementing past the bound.
	completed, err := c.Advance(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, models.GameStatusCompleted, completed.Status)
	require.Equal(t, 9, completed.CurrentQuestionIndex)
}

func TestAdvanceRequiresInProgress(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{raw: rawQuestions(5)})

	session, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   uuid.New(),
		HostID:   uuid.New(),
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.NoError(t, err)

	_, err = c.Advance(context.Background(), session.ID)
	var transitionErr *game.IllegalTransitionError
	require.ErrorAs(t, err, &transitionErr)
}

func TestCancelIsIdempotentOnTerminalSessions(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{raw: rawQuestions(5)})
	hostID := uuid.New()

	session, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   uuid.New(),
		HostID:   hostID,
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.NoError(t, err)

	cancelled, err := c.Cancel(context.Background(), session.ID, "host closed")
	require.NoError(t, err)
	require.Equal(t, models.GameStatusCancelled, cancelled.Status)

	again, err := c.Cancel(context.Background(), session.ID, "second close")
	require.NoError(t, err)
	require.Equal(t, models.GameStatusCancelled, again.Status)
}

func TestLeaveGameCancelsSession(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{raw: rawQuestions(5)})
	hostID := uuid.New()

	session, err := c.CreateGame(context.Background(), game.CreateGameRequest{
		RoomID:   uuid.New(),
		HostID:   hostID,
		GameType: models.GameTypeQuizBattle,
		Config:   quizConfig(5),
	})
	require.NoError(t, err)

	_, err = c.StartGame(context.Background(), session.ID, hostID)
	require.NoError(t, err)

	left, err := c.LeaveGame(context.Background(), session.ID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, models.GameStatusCancelled, left.Status)
}

func TestGetActiveGameReturnsNilWhenNoneExists(t *testing.T) {
	repo := newFakeRepo()
	c := newCoordinator(repo, &fakeGenerator{})

	session, err := c.GetActiveGame(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, session)
}
