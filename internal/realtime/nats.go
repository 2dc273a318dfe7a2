package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Envelope is the wire format for every change-stream event. Delivery over
// core NATS is fire-and-forget: events may be dropped or arrive in any order
// relative to polling, and the reconciler owns correctness.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	GameSessionID string          `json:"gameSessionId"`
	Stream        string          `json:"stream"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Subject returns the NATS subject for one session's change stream.
func Subject(sessionID uuid.UUID, stream string) string {
	return fmt.Sprintf("game.%s.%s", sessionID, stream)
}

// ClientConfig holds NATS connection settings.
type ClientConfig struct {
	URL          string
	Name         string
	ConnectWait  time.Duration
	PingInterval time.Duration
	MaxPingsOut  int
}

// DefaultClientConfig returns the default NATS client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:          nats.DefaultURL,
		Name:         "gamecore",
		ConnectWait:  5 * time.Second,
		PingInterval: 20 * time.Second,
		MaxPingsOut:  2,
	}
}

// Client is the realtime collaborator: publish on the server side,
// per-session subscriptions on the client side. Transport-level reconnection
// is deliberately disabled; connection loss surfaces through the lost
// handler so the reconnection controller owns the retry schedule.
type Client struct {
	mu     sync.Mutex
	cfg    ClientConfig
	nc     *nats.Conn
	onLost func(error)
}

// NewClient connects to NATS.
func NewClient(cfg ClientConfig) (*Client, error) {
	c := &Client{cfg: cfg}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial() error {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.Timeout(c.cfg.ConnectWait),
		nats.PingInterval(c.cfg.PingInterval),
		nats.MaxPingsOutstanding(c.cfg.MaxPingsOut),
		nats.NoReconnect(),
		nats.ClosedHandler(func(nc *nats.Conn) {
			err := nc.LastError()
			log.Warn().Err(err).Msg("realtime connection closed")
			c.mu.Lock()
			lost := c.onLost
			c.mu.Unlock()
			if lost != nil {
				lost(err)
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("realtime error")
		}),
	}

	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()
	return nil
}

// SetConnectionLostHandler installs the callback invoked when the realtime
// connection drops.
func (c *Client) SetConnectionLostHandler(fn func(error)) {
	c.mu.Lock()
	c.onLost = fn
	c.mu.Unlock()
}

// Reconnect re-dials NATS. Existing subscriptions die with the old
// connection and must be re-established by the caller.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.nc != nil && !c.nc.IsClosed() {
		c.nc.Close()
	}
	c.mu.Unlock()
	return c.dial()
}

// Close shuts the connection down without firing the lost handler.
func (c *Client) Close() {
	c.mu.Lock()
	c.onLost = nil
	nc := c.nc
	c.mu.Unlock()
	if nc != nil {
		nc.Close()
	}
}

// SubscribeToGameSession subscribes to a session's lifecycle stream.
func (c *Client) SubscribeToGameSession(sessionID uuid.UUID, handler func(Envelope)) (func(), error) {
	return c.subscribe(sessionID, "session", handler)
}

// SubscribeToGameQuestions subscribes to a session's question stream.
func (c *Client) SubscribeToGameQuestions(sessionID uuid.UUID, handler func(Envelope)) (func(), error) {
	return c.subscribe(sessionID, "questions", handler)
}

// SubscribeToGameScores subscribes to a session's score stream.
func (c *Client) SubscribeToGameScores(sessionID uuid.UUID, handler func(Envelope)) (func(), error) {
	return c.subscribe(sessionID, "scores", handler)
}

func (c *Client) subscribe(sessionID uuid.UUID, stream string, handler func(Envelope)) (func(), error) {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()

	subject := Subject(sessionID, stream)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("malformed envelope")
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	unsubscribe := func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("subject", subject).Msg("unsubscribe failed")
		}
	}
	return unsubscribe, nil
}

// Publish sends an envelope on its session/stream subject. Server side only.
func (c *Client) Publish(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()

	sessionID, err := uuid.Parse(env.GameSessionID)
	if err != nil {
		return fmt.Errorf("parse session ID: %w", err)
	}
	if err := nc.Publish(Subject(sessionID, env.Stream), data); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}
