package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/realtime"
)

// ConsumerConfig tunes the bus-to-socket bridge.
type ConsumerConfig struct {
	URL           string
	SubjectFilter string // e.g. "game.>"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConsumerConfig returns the production consumer tuning. The gateway
// side reconnects forever; client-side reconnection policy lives with the
// reconnection controller, not here.
func DefaultConsumerConfig(url string) ConsumerConfig {
	return ConsumerConfig{
		URL:           url,
		SubjectFilter: "game.>",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// EventConsumer subscribes to every game subject and fans envelopes out to
// the session's websocket watchers.
type EventConsumer struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	sub               *nats.Subscription
	config            ConsumerConfig
}

// NewEventConsumer connects to the bus and returns a consumer ready to Start.
func NewEventConsumer(cm *ConnectionManager, config ConsumerConfig) (*EventConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &EventConsumer{
		connectionManager: cm,
		nc:                nc,
		config:            config,
	}, nil
}

// Start subscribes and blocks until the context is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	sub, err := ec.nc.Subscribe(ec.config.SubjectFilter, ec.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", ec.config.SubjectFilter, err)
	}
	ec.sub = sub

	log.Info().
		Str("subject", ec.config.SubjectFilter).
		Msg("gateway event consumer started")

	<-ctx.Done()

	log.Info().Msg("event consumer shutting down")
	if err := ec.sub.Unsubscribe(); err != nil {
		log.Error().Err(err).Msg("failed to unsubscribe")
	}
	ec.nc.Close()
	return nil
}

func (ec *EventConsumer) handleMessage(msg *nats.Msg) {
	var envelope realtime.Envelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal envelope")
		return
	}

	sessionID, err := uuid.Parse(envelope.GameSessionID)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("envelope carries invalid session ID")
		return
	}

	ec.connectionManager.BroadcastToSession(sessionID, msg.Data)

	log.Debug().
		Str("event_type", envelope.EventType).
		Str("session_id", envelope.GameSessionID).
		Msg("event bridged to websocket watchers")
}
