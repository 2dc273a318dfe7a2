package sync

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/studydeck/gamecore/internal/realtime"
)

// ClientConfig configures a session Client.
type ClientConfig struct {
	SessionID uuid.UUID
	Fetcher   Fetcher
	Realtime  *realtime.Client
	Clock     clockwork.Clock
	Callbacks Callbacks

	// OnReconnectStatus surfaces "reconnecting, attempt N of M" to the UI.
	OnReconnectStatus func(attempt, max int)
	// OnExhausted surfaces the terminal reconnect failure; the UI must
	// offer a manual exit, no automatic retry follows.
	OnExhausted func()
}

// Client is one player's view of a session: a reconciler fed by the push
// client and polls, and a reconnection controller for transport loss.
type Client struct {
	reconciler *Reconciler
	reconnect  *ReconnectionController
	rt         *realtime.Client
}

// NewClient wires the reconciler and the reconnection controller to a
// realtime connection.
func NewClient(cfg ClientConfig) *Client {
	reconciler := NewReconciler(Config{
		SessionID: cfg.SessionID,
		Fetcher:   cfg.Fetcher,
		Realtime:  cfg.Realtime,
		Clock:     cfg.Clock,
		Callbacks: cfg.Callbacks,
	})

	c := &Client{reconciler: reconciler, rt: cfg.Realtime}

	c.reconnect = NewReconnectionController(ReconnectConfig{
		Clock: cfg.Clock,
		Resubscribe: func() error {
			if err := cfg.Realtime.Reconnect(); err != nil {
				return err
			}
			return reconciler.Resubscribe()
		},
		Resync:      reconciler.Resync,
		OnStatus:    cfg.OnReconnectStatus,
		OnExhausted: cfg.OnExhausted,
	})

	return c
}

// Start begins reconciliation and arms the connection-loss handler.
func (c *Client) Start(ctx context.Context) error {
	c.rt.SetConnectionLostHandler(func(error) {
		_ = c.reconnect.OnConnectionLost(ctx)
	})
	return c.reconciler.Start(ctx)
}

// Reconciler exposes the underlying reconciler.
func (c *Client) Reconciler() *Reconciler {
	return c.reconciler
}

// Teardown releases everything the client holds in one idempotent pass:
// pending backoff timer, both polling loops, all three subscriptions, and
// the local mirror.
func (c *Client) Teardown() {
	c.reconnect.Stop()
	c.reconciler.Teardown()
}
