package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	failFirst int
	calls     int
}

func (p *flakyPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	p.calls++
	if p.calls <= p.failFirst {
		return errors.New("bus unavailable")
	}
	return nil
}

func retryRelay(p Publisher) *Relay {
	return &Relay{
		publisher: p,
		cfg: RelayConfig{
			MaxRetries: 3,
			RetryDelay: time.Millisecond,
		},
	}
}

func TestPublishWithRetryRecovers(t *testing.T) {
	p := &flakyPublisher{failFirst: 2}
	r := retryRelay(p)

	err := r.publishWithRetry(context.Background(), OutboxEvent{ID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, 3, p.calls)
}

func TestPublishWithRetryGivesUp(t *testing.T) {
	p := &flakyPublisher{failFirst: 100}
	r := retryRelay(p)

	err := r.publishWithRetry(context.Background(), OutboxEvent{ID: uuid.New()})
	require.Error(t, err)
	require.Equal(t, 4, p.calls, "initial attempt plus MaxRetries")
}

func TestPublishWithRetryHonorsCancellation(t *testing.T) {
	p := &flakyPublisher{failFirst: 100}
	r := retryRelay(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.publishWithRetry(ctx, OutboxEvent{ID: uuid.New()})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, p.calls, "no retry after cancellation")
}
