package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
)

type decodedEnvelope struct {
	types.Envelope
}

func (d decodedEnvelope) logFields() map[string]any {
	fields := map[string]any{
		"event_id":       d.EventID,
		"event_type":     d.EventType,
		"aggregate_type": d.AggregateType,
		"aggregate_id":   d.AggregateID,
		"occurred_at":    d.OccurredAt.Format(time.RFC3339Nano),
	}
	if d.CafeID != "" {
		fields["cafe_id"] = d.CafeID
	}
	return fields
}

// decodeEnvelope merges the stored outbox envelope in the message body with
// the routing attributes the publisher stamps on every message.
func decodeEnvelope(msg *gcppubsub.Message) (decodedEnvelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return decodedEnvelope{}, fmt.Errorf("decode payload envelope: %w", err)
	}
	attr := func(name string) string { return strings.TrimSpace(msg.Attributes[name]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return decodedEnvelope{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return decodedEnvelope{}, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return decodedEnvelope{}, errors.New("aggregate_id missing")
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attr("event_id")
	}
	if eventID == "" {
		return decodedEnvelope{}, errors.New("event_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			occurredAt = created
		}
	}

	cafeID := attr("cafe_id")
	if stored.Actor != nil && stored.Actor.CafeID != uuid.Nil {
		cafeID = stored.Actor.CafeID.String()
	}

	return decodedEnvelope{types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		CafeID:        cafeID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}}, nil
}
