package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/game"
)

// Notifier bridges command-loop side results (buzz grants, question reopens)
// onto the session's sockets. These bypass the outbox because they are
// ephemeral coordination signals, not persisted state changes.
func Notifier(cm *ConnectionManager) game.Notifier {
	return func(sessionID uuid.UUID, event string, payload any) {
		data, err := json.Marshal(map[string]any{
			"event_type": event,
			"session_id": sessionID.String(),
			"timestamp":  time.Now().UTC(),
			"payload":    payload,
		})
		if err != nil {
			log.Error().Err(err).Str("event", event).Msg("failed to marshal notification")
			return
		}
		cm.BroadcastToSession(sessionID, data)
	}
}
