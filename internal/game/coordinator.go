package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/models"
)

// Repository is the persistence collaborator. Implementations append the
// matching change-stream event in the same transaction as the write, so
// every mutation fans back out to clients through the push pipeline.
type Repository interface {
	CreateGameSession(ctx context.Context, req CreateGameRequest) (*models.GameSession, error)
	GetGameSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	GetActiveGameForRoom(ctx context.Context, roomID uuid.UUID) (*models.GameSession, error)
	StartGame(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	NextQuestion(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	CompleteGame(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	CancelGame(ctx context.Context, id uuid.UUID, reason string) (*models.GameSession, error)
	JoinGame(ctx context.Context, sessionID, userID uuid.UUID) error
	CreateGameQuestions(ctx context.Context, sessionID uuid.UUID, questions []models.GameQuestion) error
	GetCurrentQuestion(ctx context.Context, sessionID uuid.UUID) (*models.GameQuestion, error)
	SubmitAnswer(ctx context.Context, rec *models.AnswerRecord) error
	GetGameLeaderboard(ctx context.Context, sessionID uuid.UUID) (*models.Leaderboard, error)
}

// QuestionGenerator produces raw question candidates out-of-band; generation
// takes on the order of seconds, so the coordinator calls it asynchronously.
type QuestionGenerator interface {
	Generate(ctx context.Context, req GenerateQuestionsRequest) ([]models.RawQuestion, error)
}

// GenerateQuestionsRequest describes one generation run for a session.
type GenerateQuestionsRequest struct {
	SourceRef  string
	Count      int
	GameType   models.GameType
	Difficulty string
	Categories []string
}

// CreateGameRequest carries everything needed to persist a waiting session.
type CreateGameRequest struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	HostID    uuid.UUID
	GameType  models.GameType
	Config    models.GameConfig
	SourceRef string
}

// Coordinator owns the GameSession lifecycle. Sessions are mutated only
// through its transition operations.
type Coordinator struct {
	repo       Repository
	generator  QuestionGenerator
	processor  *QuestionProcessor
	clock      clockwork.Clock
	genTimeout time.Duration
}

// NewCoordinator creates a session coordinator.
func NewCoordinator(repo Repository, generator QuestionGenerator, processor *QuestionProcessor, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		repo:       repo,
		generator:  generator,
		processor:  processor,
		clock:      clock,
		genTimeout: 60 * time.Second,
	}
}

// CreateGame persists a new waiting-status session for a room and triggers
// asynchronous question generation. The questions-ready signal reaches
// clients through the push pipeline, not a return value.
func (c *Coordinator) CreateGame(ctx context.Context, req CreateGameRequest) (*models.GameSession, error) {
	if !req.GameType.Valid() {
		return nil, &ValidationError{Field: "game_type", Reason: fmt.Sprintf("unrecognized game type %q", req.GameType)}
	}
	if req.Config.QuestionCount <= 0 {
		return nil, &ValidationError{Field: "config.question_count", Reason: "must be positive"}
	}
	if req.Config.TimePerQuestionSec <= 0 {
		return nil, &ValidationError{Field: "config.time_per_question_sec", Reason: "must be positive"}
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	session, err := c.repo.CreateGameSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create game session: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("room_id", session.RoomID.String()).
		Str("game_type", string(session.GameType)).
		Msg("game session created")

	go c.generateQuestions(session, req.SourceRef)

	return session, nil
}

// generateQuestions runs the out-of-band generation pipeline for a new
// session: generate candidates, post-process, bulk-insert. Persisting the
// questions emits QuestionsReady on the questions stream.
func (c *Coordinator) generateQuestions(session *models.GameSession, sourceRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.genTimeout)
	defer cancel()

	raw, err := c.generator.Generate(ctx, GenerateQuestionsRequest{
		SourceRef:  sourceRef,
		Count:      session.Config.QuestionCount,
		GameType:   session.GameType,
		Difficulty: session.Config.Difficulty,
		Categories: session.Config.Categories,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("question generation failed")
		c.cancelUnplayable(session.ID, "question generation failed")
		return
	}

	questions := c.processor.Process(session, raw)
	if err := c.repo.CreateGameQuestions(ctx, session.ID, questions); err != nil {
		log.Error().Err(err).Str("session_id", session.ID.String()).Msg("failed to persist generated questions")
		c.cancelUnplayable(session.ID, "question generation failed")
		return
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Int("count", len(questions)).
		Msg("questions ready")
}

// cancelUnplayable cancels a session whose questions never materialized so it
// does not sit in the waiting state forever.
func (c *Coordinator) cancelUnplayable(sessionID uuid.UUID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.Cancel(ctx, sessionID, reason); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to cancel unplayable session")
	}
}

// StartGame transitions a waiting session to in_progress. Host-only.
func (c *Coordinator) StartGame(ctx context.Context, sessionID, userID uuid.UUID) (*models.GameSession, error) {
	session, err := c.repo.GetGameSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HostID != userID {
		return nil, ErrNotHost
	}
	if session.Status != models.GameStatusWaiting {
		return nil, &IllegalTransitionError{SessionID: sessionID.String(), From: session.Status, To: models.GameStatusInProgress}
	}

	started, err := c.repo.StartGame(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("start game: %w", err)
	}

	log.Info().Str("session_id", sessionID.String()).Msg("game started")
	return started, nil
}

// JoinGame attaches a non-host participant to an existing session without
// mutating its status.
func (c *Coordinator) JoinGame(ctx context.Context, sessionID, userID uuid.UUID) (*models.GameSession, error) {
	session, err := c.repo.GetGameSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := c.repo.JoinGame(ctx, sessionID, userID); err != nil {
		return nil, fmt.Errorf("join game: %w", err)
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("user_id", userID.String()).
		Msg("participant joined")
	return session, nil
}

// Advance moves the session to the next question, or to completed when the
// current question is the last one. The check happens before any increment
// so the index can never pass the question list bound.
func (c *Coordinator) Advance(ctx context.Context, sessionID uuid.UUID) (*models.GameSession, error) {
	session, err := c.repo.GetGameSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.GameStatusInProgress {
		return nil, &IllegalTransitionError{SessionID: sessionID.String(), From: session.Status, To: models.GameStatusInProgress}
	}

	if session.IsLastQuestion() {
		completed, err := c.repo.CompleteGame(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("complete game: %w", err)
		}
		log.Info().Str("session_id", sessionID.String()).Msg("game completed")
		return completed, nil
	}

	advanced, err := c.repo.NextQuestion(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("advance question: %w", err)
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Int("question_index", advanced.CurrentQuestionIndex).
		Msg("advanced to next question")
	return advanced, nil
}

// Cancel transitions any non-terminal session to cancelled. Cancelling an
// already-terminal session is a no-op, not an error.
func (c *Coordinator) Cancel(ctx context.Context, sessionID uuid.UUID, reason string) (*models.GameSession, error) {
	session, err := c.repo.GetGameSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return session, nil
	}

	cancelled, err := c.repo.CancelGame(ctx, sessionID, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel game: %w", err)
	}

	log.Info().Str("session_id", sessionID.String()).Str("reason", reason).Msg("game cancelled")
	return cancelled, nil
}

// LeaveGame handles a participant exiting mid-game. Any exit before natural
// completion cancels the session for the room.
func (c *Coordinator) LeaveGame(ctx context.Context, sessionID, userID uuid.UUID) (*models.GameSession, error) {
	return c.Cancel(ctx, sessionID, fmt.Sprintf("participant %s exited", userID))
}

// GetActiveGame returns the single non-terminal session for a room, or nil
// when the room has none.
func (c *Coordinator) GetActiveGame(ctx context.Context, roomID uuid.UUID) (*models.GameSession, error) {
	session, err := c.repo.GetActiveGameForRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active game: %w", err)
	}
	return session, nil
}
