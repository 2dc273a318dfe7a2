package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/game"
	"github.com/studydeck/gamecore/internal/game/events"
	"github.com/studydeck/gamecore/internal/models"
)

// notifyChannel is the Postgres NOTIFY channel the outbox relay listens on.
const notifyChannel = "game_outbox_events"

const uniqueViolation = "23505"

// Repository is the Postgres persistence layer. Every state mutation appends
// its change-stream event to game_outbox inside the same transaction, so an
// event exists iff the write committed.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, room_id, host_id, game_type, status, current_question_index, config, started_at, created_at, updated_at`

func scanSession(row pgx.Row) (*models.GameSession, error) {
	var (
		s      models.GameSession
		config []byte
	)
	err := row.Scan(
		&s.ID, &s.RoomID, &s.HostID, &s.GameType, &s.Status,
		&s.CurrentQuestionIndex, &config, &s.StartedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, game.ErrNotFound
		}
		return nil, fmt.Errorf("scan game session: %w", err)
	}
	if err := json.Unmarshal(config, &s.Config); err != nil {
		return nil, fmt.Errorf("decode session config: %w", err)
	}
	return &s, nil
}

// appendOutbox writes a change-stream event and pokes the relay via NOTIFY,
// inside the caller's transaction.
func appendOutbox(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	eventID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO game_outbox (id, game_session_id, stream, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		eventID, sessionID, events.StreamFor(eventType), eventType, body,
	)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, eventID.String()); err != nil {
		return fmt.Errorf("notify outbox relay: %w", err)
	}
	return nil
}

// CreateGameSession inserts a waiting session and registers the host as the
// first participant. A second non-terminal session for the same room trips the
// partial unique index and maps to ErrActiveSessionExists.
func (r *Repository) CreateGameSession(ctx context.Context, req game.CreateGameRequest) (*models.GameSession, error) {
	config, err := json.Marshal(req.Config)
	if err != nil {
		return nil, fmt.Errorf("encode session config: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO game_sessions (id, room_id, host_id, game_type, config)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sessionColumns,
		req.ID, req.RoomID, req.HostID, req.GameType, config,
	)
	session, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, game.ErrActiveSessionExists
		}
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO game_participants (game_session_id, user_id)
		VALUES ($1, $2)`,
		session.ID, req.HostID,
	)
	if err != nil {
		return nil, fmt.Errorf("register host participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}
	return session, nil
}

// GetGameSession fetches a session by ID.
func (r *Repository) GetGameSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetActiveGameForRoom returns the single non-terminal session for a room.
func (r *Repository) GetActiveGameForRoom(ctx context.Context, roomID uuid.UUID) (*models.GameSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE room_id = $1 AND status IN ('WAITING', 'IN_PROGRESS')`,
		roomID,
	)
	return scanSession(row)
}

// StartGame moves a waiting session to in_progress. started_at becomes the
// first question's timer origin.
func (r *Repository) StartGame(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	return r.transition(ctx, id, `
		UPDATE game_sessions
		SET status = 'IN_PROGRESS', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'WAITING'
		RETURNING `+sessionColumns,
		func(s *models.GameSession) (string, any) {
			startedAt := s.UpdatedAt
			if s.StartedAt != nil {
				startedAt = *s.StartedAt
			}
			return events.TypeGameStarted, events.GameStartedPayload{
				GameSessionID: s.ID.String(),
				GameType:      string(s.GameType),
				StartedAt:     startedAt,
				QuestionCount: s.Config.QuestionCount,
			}
		},
	)
}

// NextQuestion bumps the question index. updated_at moves with it and becomes
// the new question's timer origin.
func (r *Repository) NextQuestion(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	return r.transition(ctx, id, `
		UPDATE game_sessions
		SET current_question_index = current_question_index + 1, updated_at = now()
		WHERE id = $1 AND status = 'IN_PROGRESS'
		RETURNING `+sessionColumns,
		func(s *models.GameSession) (string, any) {
			return events.TypeQuestionAdvanced, events.QuestionAdvancedPayload{
				GameSessionID: s.ID.String(),
				QuestionIndex: s.CurrentQuestionIndex,
				AdvancedAt:    s.UpdatedAt,
			}
		},
	)
}

// CompleteGame moves an in-progress session to the completed terminal state.
func (r *Repository) CompleteGame(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	return r.transition(ctx, id, `
		UPDATE game_sessions
		SET status = 'COMPLETED', updated_at = now()
		WHERE id = $1 AND status = 'IN_PROGRESS'
		RETURNING `+sessionColumns,
		func(s *models.GameSession) (string, any) {
			payload := events.GameCompletedPayload{
				GameSessionID: s.ID.String(),
				CompletedAt:   s.UpdatedAt,
			}
			if s.StartedAt != nil {
				payload.Duration = s.UpdatedAt.Sub(*s.StartedAt).Round(time.Second).String()
			}
			return events.TypeGameCompleted, payload
		},
	)
}

// CancelGame moves any non-terminal session to the cancelled terminal state.
func (r *Repository) CancelGame(ctx context.Context, id uuid.UUID, reason string) (*models.GameSession, error) {
	return r.transition(ctx, id, `
		UPDATE game_sessions
		SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND status IN ('WAITING', 'IN_PROGRESS')
		RETURNING `+sessionColumns,
		func(s *models.GameSession) (string, any) {
			return events.TypeGameCancelled, events.GameCancelledPayload{
				GameSessionID: s.ID.String(),
				CancelledAt:   s.UpdatedAt,
				Reason:        reason,
			}
		},
	)
}

// transition runs a status-guarded UPDATE and appends its event in one
// transaction. A guard miss surfaces as ErrNotFound; callers that care about
// the distinction check the current status first.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, query string, event func(*models.GameSession) (string, any)) (*models.GameSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	session, err := scanSession(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	eventType, payload := event(session)
	if err := appendOutbox(ctx, tx, session.ID, eventType, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return session, nil
}

// JoinGame registers a participant. Re-joining is a no-op.
func (r *Repository) JoinGame(ctx context.Context, sessionID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO game_participants (game_session_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (game_session_id, user_id) DO NOTHING`,
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// ListParticipants returns the user IDs attached to a session in join order.
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM game_participants
		WHERE game_session_id = $1
		ORDER BY joined_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// CreateGameQuestions bulk-inserts a session's question list and emits
// QuestionsReady on the questions stream in the same transaction.
func (r *Repository) CreateGameQuestions(ctx context.Context, sessionID uuid.UUID, questions []models.GameQuestion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range questions {
		q := &questions[i]
		data, err := json.Marshal(q.Data)
		if err != nil {
			return fmt.Errorf("encode question data: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO game_questions (
				id, game_session_id, question_index, question_data, correct_answer,
				category, difficulty, points, time_limit_seconds,
				column_position, is_daily_double, is_final_round
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			q.ID, sessionID, q.QuestionIndex, data, q.CorrectAnswer,
			q.Category, q.Difficulty, q.Points, q.TimeLimitSeconds,
			q.ColumnPosition, q.IsDailyDouble, q.IsFinalRound,
		)
		if err != nil {
			return fmt.Errorf("insert question %d: %w", q.QuestionIndex, err)
		}
	}

	err = appendOutbox(ctx, tx, sessionID, events.TypeQuestionsReady, events.QuestionsReadyPayload{
		GameSessionID: sessionID.String(),
		QuestionCount: len(questions),
		ReadyAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit questions: %w", err)
	}
	return nil
}

func scanQuestion(row pgx.Row) (*models.GameQuestion, error) {
	var (
		q    models.GameQuestion
		data []byte
	)
	err := row.Scan(
		&q.ID, &q.GameSessionID, &q.QuestionIndex, &data, &q.CorrectAnswer,
		&q.Category, &q.Difficulty, &q.Points, &q.TimeLimitSeconds,
		&q.ColumnPosition, &q.IsDailyDouble, &q.IsFinalRound, &q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, game.ErrNotFound
		}
		return nil, fmt.Errorf("scan game question: %w", err)
	}
	if err := json.Unmarshal(data, &q.Data); err != nil {
		return nil, fmt.Errorf("decode question data: %w", err)
	}
	return &q, nil
}

// GetCurrentQuestion returns the question at the session's current index.
func (r *Repository) GetCurrentQuestion(ctx context.Context, sessionID uuid.UUID) (*models.GameQuestion, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT q.id, q.game_session_id, q.question_index, q.question_data, q.correct_answer,
		       q.category, q.difficulty, q.points, q.time_limit_seconds,
		       q.column_position, q.is_daily_double, q.is_final_round, q.created_at
		FROM game_questions q
		JOIN game_sessions s ON s.id = q.game_session_id
		WHERE q.game_session_id = $1 AND q.question_index = s.current_question_index`,
		sessionID,
	)
	return scanQuestion(row)
}

// SubmitAnswer records a submission and emits ScoreUpdated in the same
// transaction. The per-player-per-question unique constraint maps to
// ErrAlreadyAnswered.
func (r *Repository) SubmitAnswer(ctx context.Context, rec *models.AnswerRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO answer_records (
			id, game_session_id, question_id, user_id, answer, is_correct,
			buzzer_rank, wager_amount, points_awarded, time_taken_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		rec.ID, rec.GameSessionID, rec.QuestionID, rec.UserID, rec.Answer, rec.IsCorrect,
		rec.BuzzerRank, rec.WagerAmount, rec.PointsAwarded, rec.TimeTakenMs,
	).Scan(&rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return game.ErrAlreadyAnswered
		}
		return fmt.Errorf("insert answer record: %w", err)
	}

	var questionIndex int
	err = tx.QueryRow(ctx, `SELECT question_index FROM game_questions WHERE id = $1`, rec.QuestionID).Scan(&questionIndex)
	if err != nil {
		return fmt.Errorf("resolve question index: %w", err)
	}

	err = appendOutbox(ctx, tx, rec.GameSessionID, events.TypeScoreUpdated, events.ScoreUpdatedPayload{
		GameSessionID: rec.GameSessionID.String(),
		UserID:        rec.UserID.String(),
		QuestionIndex: questionIndex,
		PointsAwarded: rec.PointsAwarded,
		UpdatedAt:     rec.CreatedAt,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit answer: %w", err)
	}
	return nil
}

// GetGameLeaderboard derives the authoritative standings from answer records.
// The Redis leaderboard cache rebuilds from this on miss.
func (r *Repository) GetGameLeaderboard(ctx context.Context, sessionID uuid.UUID) (*models.Leaderboard, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.user_id, COALESCE(SUM(a.points_awarded), 0) AS score
		FROM game_participants p
		LEFT JOIN answer_records a
		       ON a.game_session_id = p.game_session_id AND a.user_id = p.user_id
		WHERE p.game_session_id = $1
		GROUP BY p.user_id
		ORDER BY score DESC, p.user_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	board := &models.Leaderboard{GameSessionID: sessionID, UpdatedAt: time.Now().UTC()}
	for rows.Next() {
		var entry models.LeaderboardEntry
		if err := rows.Scan(&entry.UserID, &entry.Score); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entry.Rank = len(board.Entries) + 1
		board.Entries = append(board.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Int("entries", len(board.Entries)).
		Msg("leaderboard derived from answer records")
	return board, nil
}
