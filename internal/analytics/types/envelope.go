package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/tablesync-backend/pkg/enums"
)

// Envelope represents the analytics view of a delivered domain event.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	CafeID        string                    `json:"cafe_id,omitempty"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}
