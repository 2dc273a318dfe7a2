package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel name to LISTEN on
	FallbackInterval time.Duration // how often to sweep for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int // max events per fallback sweep
}

// DefaultRelayConfig returns the production relay tuning.
func DefaultRelayConfig(databaseURL string) RelayConfig {
	return RelayConfig{
		DatabaseURL:      databaseURL,
		NotifyChannel:    "game_outbox_events",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Relay drains game_outbox onto the message bus. Mutating transactions NOTIFY
// the relay with the event ID; a fallback sweep catches anything a dropped
// notification missed, so delivery is at-least-once.
type Relay struct {
	pool      *pgxpool.Pool
	listener  *pq.Listener
	publisher Publisher
	cfg       RelayConfig
}

// NewRelay opens the LISTEN connection and returns a relay ready to Start.
func NewRelay(pool *pgxpool.Pool, publisher Publisher, cfg RelayConfig) (*Relay, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("outbox listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("listen on channel %s: %w", cfg.NotifyChannel, err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for outbox notifications")

	return &Relay{
		pool:      pool,
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

// Start blocks until ctx is cancelled, draining notifications, running the
// fallback sweep, and pinging the LISTEN connection.
func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Dur("ping_interval", r.cfg.PingInterval).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("outbox relay started")

	pingTicker := time.NewTicker(r.cfg.PingInterval)
	fallbackTicker := time.NewTicker(r.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return r.Stop()
		case note := <-r.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost; pq redials
				continue
			}
			if err := r.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle outbox notification")
			}
		case <-fallbackTicker.C:
			if err := r.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent outbox events")
			}
		case <-pingTicker.C:
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping outbox listener")
			}
		}
	}
}

// Stop closes the LISTEN connection.
func (r *Relay) Stop() error {
	return r.listener.Close()
}

const eventColumns = `id, game_session_id, stream, event_type, payload, created_at`

// handleNotification publishes the single event named by a NOTIFY payload.
func (r *Relay) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	var event OutboxEvent
	err = r.pool.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM game_outbox
		WHERE id = $1 AND sent_at IS NULL`,
		id,
	).Scan(&event.ID, &event.GameSessionID, &event.Stream, &event.EventType, &event.Payload, &event.CreatedAt)
	if err != nil {
		// Already swept by the fallback loop or a peer; nothing to do.
		return nil
	}

	if err := r.deliver(ctx, event); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// processUnsent sweeps events whose notifications were lost, oldest first.
func (r *Relay) processUnsent(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM game_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`,
		r.cfg.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var unsent []OutboxEvent
	for rows.Next() {
		var event OutboxEvent
		if err := rows.Scan(&event.ID, &event.GameSessionID, &event.Stream, &event.EventType, &event.Payload, &event.CreatedAt); err != nil {
			return fmt.Errorf("scan outbox event: %w", err)
		}
		unsent = append(unsent, event)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, event := range unsent {
		if err := r.deliver(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to publish unsent event")
		}
	}
	return nil
}

// deliver publishes with retry and marks the event sent.
func (r *Relay) deliver(ctx context.Context, event OutboxEvent) error {
	if err := r.publishWithRetry(ctx, event); err != nil {
		return err
	}
	if err := r.markSent(ctx, event.ID); err != nil {
		log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to mark outbox event as sent")
		return err
	}
	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Msg("outbox event published")
	return nil
}

func (r *Relay) markSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE game_outbox SET sent_at = now() WHERE id = $1`, id)
	return err
}

// publishWithRetry retries with a linearly growing delay.
func (r *Relay) publishWithRetry(ctx context.Context, event OutboxEvent) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
