package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrReconnectionExhausted is terminal: automatic retry is disabled and the
// user must exit the session manually. It is the only error with that
// property.
var ErrReconnectionExhausted = errors.New("reconnection attempts exhausted")

const (
	maxReconnectAttempts = 5
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 16 * time.Second
)

// ReconnectionController drives the bounded exponential-backoff reconnect
// state machine for one client: resubscribe all three change streams, then
// apply a full snapshot wholesale so correctness does not depend on how many
// events the outage swallowed.
type ReconnectionController struct {
	clock       clockwork.Clock
	resubscribe func() error
	resync      func(ctx context.Context) error
	onStatus    func(attempt, max int)
	onExhausted func()

	mu           sync.Mutex
	attempt      int
	reconnecting bool
	exhausted    bool
	timer        clockwork.Timer
	stopped      bool
}

// ReconnectConfig configures a ReconnectionController.
type ReconnectConfig struct {
	Clock       clockwork.Clock
	Resubscribe func() error
	Resync      func(ctx context.Context) error
	OnStatus    func(attempt, max int) // "reconnecting, attempt N of 5"
	OnExhausted func()
}

// NewReconnectionController creates a controller in the connected state.
func NewReconnectionController(cfg ReconnectConfig) *ReconnectionController {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &ReconnectionController{
		clock:       cfg.Clock,
		resubscribe: cfg.Resubscribe,
		resync:      cfg.Resync,
		onStatus:    cfg.OnStatus,
		onExhausted: cfg.OnExhausted,
	}
}

// backoffDelay returns min(1s * 2^(attempt-1), 16s): 1, 2, 4, 8, 16 seconds.
func backoffDelay(attempt int) time.Duration {
	d := reconnectBaseDelay << (attempt - 1)
	if d > reconnectMaxDelay {
		d = reconnectMaxDelay
	}
	return d
}

// OnConnectionLost reacts to a dropped realtime connection. A loss while a
// reconnect is already in flight, or past the attempt cap, signals
// ReconnectionExhausted instead of scheduling further attempts.
func (c *ReconnectionController) OnConnectionLost(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	if c.exhausted || c.reconnecting || c.attempt >= maxReconnectAttempts {
		c.exhausted = true
		c.mu.Unlock()
		c.signalExhausted()
		return ErrReconnectionExhausted
	}
	c.reconnecting = true
	c.scheduleLocked(ctx)
	c.mu.Unlock()
	return nil
}

// scheduleLocked increments the attempt counter and arms the backoff timer.
func (c *ReconnectionController) scheduleLocked(ctx context.Context) {
	c.attempt++
	delay := backoffDelay(c.attempt)

	log.Info().
		Int("attempt", c.attempt).
		Int("max", maxReconnectAttempts).
		Dur("delay", delay).
		Msg("scheduling reconnect")
	if c.onStatus != nil {
		c.onStatus(c.attempt, maxReconnectAttempts)
	}

	c.timer = c.clock.AfterFunc(delay, func() {
		c.attemptReconnect(ctx)
	})
}

// attemptReconnect runs one scheduled retry: resubscribe, then pull the full
// snapshot. Failure climbs the backoff toward the cap; success resets it.
func (c *ReconnectionController) attemptReconnect(ctx context.Context) {
	err := c.resubscribe()
	if err == nil {
		err = c.resync(ctx)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if err == nil {
		attempt := c.attempt
		c.attempt = 0
		c.reconnecting = false
		c.mu.Unlock()
		log.Info().Int("attempt", attempt).Msg("reconnected")
		return
	}

	if c.attempt >= maxReconnectAttempts {
		c.exhausted = true
		c.reconnecting = false
		c.mu.Unlock()
		log.Error().Err(err).Msg("reconnection exhausted")
		c.signalExhausted()
		return
	}

	log.Warn().Err(err).Int("attempt", c.attempt).Msg("reconnect attempt failed")
	c.scheduleLocked(ctx)
	c.mu.Unlock()
}

func (c *ReconnectionController) signalExhausted() {
	if c.onExhausted != nil {
		c.onExhausted()
	}
}

// Stop cancels any pending backoff timer. Part of session teardown.
func (c *ReconnectionController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Reconnecting reports whether a retry is currently in flight.
func (c *ReconnectionController) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnecting
}

// Attempt returns the current attempt counter.
func (c *ReconnectionController) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Exhausted reports whether the controller has hit the terminal state.
func (c *ReconnectionController) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}
