package outbox

import (
	"context"

	"github.com/studydeck/gamecore/internal/realtime"
)

// NATSPublisher maps outbox events onto per-session bus envelopes.
type NATSPublisher struct {
	client *realtime.Client
}

// NewNATSPublisher wraps a connected realtime client.
func NewNATSPublisher(client *realtime.Client) *NATSPublisher {
	return &NATSPublisher{client: client}
}

func (p *NATSPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	return p.client.Publish(realtime.Envelope{
		EventID:       event.ID.String(),
		EventType:     event.EventType,
		GameSessionID: event.GameSessionID.String(),
		Stream:        event.Stream,
		Timestamp:     event.CreatedAt,
		Payload:       event.Payload,
	})
}
