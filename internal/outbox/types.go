package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one committed change-stream event awaiting publication.
type OutboxEvent struct {
	ID            uuid.UUID
	GameSessionID uuid.UUID
	Stream        string
	EventType     string
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// Publisher pushes an outbox event onto the message bus.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}
