package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup; every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
    id                     UUID PRIMARY KEY,
    room_id                UUID NOT NULL,
    host_id                UUID NOT NULL,
    game_type              TEXT NOT NULL,
    status                 TEXT NOT NULL DEFAULT 'WAITING',
    current_question_index INT  NOT NULL DEFAULT 0,
    config                 JSONB NOT NULL,
    started_at             TIMESTAMPTZ,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- At most one non-terminal session per room.
CREATE UNIQUE INDEX IF NOT EXISTS game_sessions_room_active_idx
    ON game_sessions (room_id)
    WHERE status IN ('WAITING', 'IN_PROGRESS');

CREATE TABLE IF NOT EXISTS game_participants (
    game_session_id UUID NOT NULL REFERENCES game_sessions (id),
    user_id         UUID NOT NULL,
    joined_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (game_session_id, user_id)
);

CREATE TABLE IF NOT EXISTS game_questions (
    id                 UUID PRIMARY KEY,
    game_session_id    UUID NOT NULL REFERENCES game_sessions (id),
    question_index     INT  NOT NULL,
    question_data      JSONB NOT NULL,
    correct_answer     TEXT NOT NULL,
    category           TEXT NOT NULL DEFAULT '',
    difficulty         TEXT NOT NULL DEFAULT '',
    points             INT  NOT NULL,
    time_limit_seconds INT  NOT NULL,
    column_position    INT,
    is_daily_double    BOOLEAN NOT NULL DEFAULT FALSE,
    is_final_round     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT game_questions_session_index_key UNIQUE (game_session_id, question_index)
);

CREATE TABLE IF NOT EXISTS answer_records (
    id              UUID PRIMARY KEY,
    game_session_id UUID NOT NULL REFERENCES game_sessions (id),
    question_id     UUID NOT NULL REFERENCES game_questions (id),
    user_id         UUID NOT NULL,
    answer          TEXT NOT NULL,
    is_correct      BOOLEAN NOT NULL,
    buzzer_rank     INT,
    wager_amount    INT,
    points_awarded  INT NOT NULL,
    time_taken_ms   INT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT answer_records_once_key UNIQUE (game_session_id, question_id, user_id)
);

CREATE TABLE IF NOT EXISTS game_outbox (
    id              UUID PRIMARY KEY,
    game_session_id UUID NOT NULL,
    stream          TEXT NOT NULL,
    event_type      TEXT NOT NULL,
    payload         JSONB NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS game_outbox_unsent_idx
    ON game_outbox (created_at)
    WHERE sent_at IS NULL;
`

// EnsureSchema creates the engine's tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
