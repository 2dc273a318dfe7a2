package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// reconnectHarness drives a controller with scripted resubscribe results.
type reconnectHarness struct {
	clock      *clockwork.FakeClock
	controller *ReconnectionController

	mu        sync.Mutex
	calls     int
	failFirst int // number of leading attempts that fail
	statuses  []int
	exhausted int
}

func newReconnectHarness(failFirst int) *reconnectHarness {
	h := &reconnectHarness{
		clock:     clockwork.NewFakeClock(),
		failFirst: failFirst,
	}
	h.controller = NewReconnectionController(ReconnectConfig{
		Clock: h.clock,
		Resubscribe: func() error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.calls++
			if h.calls <= h.failFirst {
				return errors.New("still unreachable")
			}
			return nil
		},
		Resync: func(ctx context.Context) error { return nil },
		OnStatus: func(attempt, max int) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.statuses = append(h.statuses, attempt)
		},
		OnExhausted: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.exhausted++
		},
	})
	return h
}

func (h *reconnectHarness) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *reconnectHarness) waitAttempt(t *testing.T, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.controller.Attempt() == want
	}, time.Second, time.Millisecond)
}

func TestBackoffDelayDoublesToCap(t *testing.T) {
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, d := range want {
		require.Equal(t, d, backoffDelay(attempt+1))
	}
	require.Equal(t, 16*time.Second, backoffDelay(6), "delay never exceeds the cap")
}

func TestReconnectionExhaustsAfterFiveFailures(t *testing.T) {
	h := newReconnectHarness(5)

	require.NoError(t, h.controller.OnConnectionLost(context.Background()))
	require.True(t, h.controller.Reconnecting())

	delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, d := range delays {
		h.waitAttempt(t, i+1)
		h.clock.Advance(d)
		h.waitAttempt(t, i+2)
	}

	h.clock.Advance(16 * time.Second)
	require.Eventually(t, h.controller.Exhausted, time.Second, time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, 5, h.calls, "exactly five attempts were made")
	require.Equal(t, []int{1, 2, 3, 4, 5}, h.statuses)
	require.Equal(t, 1, h.exhausted)
}

func TestReconnectionSuccessResetsBackoff(t *testing.T) {
	h := newReconnectHarness(2)

	require.NoError(t, h.controller.OnConnectionLost(context.Background()))

	h.waitAttempt(t, 1)
	h.clock.Advance(time.Second)
	h.waitAttempt(t, 2)
	h.clock.Advance(2 * time.Second)
	h.waitAttempt(t, 3)
	h.clock.Advance(4 * time.Second)

	// Third attempt succeeds and resets the state machine.
	require.Eventually(t, func() bool {
		return h.controller.Attempt() == 0 && !h.controller.Reconnecting()
	}, time.Second, time.Millisecond)
	require.False(t, h.controller.Exhausted())
	require.Equal(t, 3, h.callCount())

	// A later loss starts from attempt 1 again.
	require.NoError(t, h.controller.OnConnectionLost(context.Background()))
	h.waitAttempt(t, 1)
}

func TestLossDuringReconnectIsTerminal(t *testing.T) {
	h := newReconnectHarness(5)

	require.NoError(t, h.controller.OnConnectionLost(context.Background()))
	err := h.controller.OnConnectionLost(context.Background())
	require.ErrorIs(t, err, ErrReconnectionExhausted)
	require.True(t, h.controller.Exhausted())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, 1, h.exhausted)
}

func TestExhaustedControllerStaysTerminal(t *testing.T) {
	h := newReconnectHarness(5)

	require.NoError(t, h.controller.OnConnectionLost(context.Background()))
	require.ErrorIs(t, h.controller.OnConnectionLost(context.Background()), ErrReconnectionExhausted)

	// No automatic retry follows exhaustion.
	require.ErrorIs(t, h.controller.OnConnectionLost(context.Background()), ErrReconnectionExhausted)
}

func TestStopCancelsPendingRetry(t *testing.T) {
	h := newReconnectHarness(5)

	require.NoError(t, h.controller.OnConnectionLost(context.Background()))
	h.controller.Stop()

	h.clock.Advance(time.Minute)
	require.Zero(t, h.callCount(), "no attempt fires after stop")

	// A loss after stop is ignored entirely.
	require.NoError(t, h.controller.OnConnectionLost(context.Background()))
	require.Zero(t, h.callCount())
}
