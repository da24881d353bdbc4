package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	CafeID    uuid.UUID `json:"cafeId"`
	SessionID string    `json:"sessionId,omitempty"`
	Role      string    `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Actor roles recorded on envelopes.
const (
	ActorCustomer = "customer"
	ActorOwner    = "owner"
	ActorSystem   = "system"
)
