package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/payloads"
)

// EventDescriptor ties an event type to the aggregate that owns it, the
// topic it is published on and the Go type its data decodes into.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row or delivered message with its data decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a failure that will not go away on redelivery.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// NewNonRetryableError wraps err so publishers and consumers dead-letter it.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// EventRegistry knows every event the order pipeline emits.
type EventRegistry struct {
	events map[enums.OutboxEventType]EventDescriptor
}

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry wires the order and cafe events to their topics.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, errors.New("orders topic is required")
	}
	topic := cfg.OrdersTopic

	descriptors := []EventDescriptor{
		describe[payloads.OrderPlacedEvent](enums.EventOrderPlaced, enums.AggregateOrder, topic),
		describe[payloads.OrderItemsAddedEvent](enums.EventOrderItemsAdded, enums.AggregateOrder, topic),
		describe[payloads.OrderFinalizedEvent](enums.EventOrderFinalized, enums.AggregateOrder, topic),
		describe[payloads.TrialExpiredEvent](enums.EventTrialExpired, enums.AggregateCafe, topic),
	}

	reg := &EventRegistry{events: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.events[desc.EventType] = desc
	}
	return reg, nil
}

func (r *EventRegistry) lookup(eventType enums.OutboxEventType) (EventDescriptor, error) {
	desc, ok := r.events[eventType]
	if !ok {
		return EventDescriptor{}, permanent("unsupported event type %s", eventType)
	}
	return desc, nil
}

// Resolve checks an outbox row against its descriptor and decodes the data.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, err := r.lookup(event.EventType)
	if err != nil {
		return nil, err
	}
	if desc.AggregateType != event.AggregateType {
		return nil, permanent("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, permanent("missing aggregate_id")
	}
	return decode(desc, event.Payload)
}

// DecodeMessage decodes a delivered Pub/Sub body using the event_type
// attribute the publisher attached.
func (r *EventRegistry) DecodeMessage(eventType string, data []byte) (*ResolvedEvent, error) {
	desc, err := r.lookup(enums.OutboxEventType(eventType))
	if err != nil {
		return nil, err
	}
	return decode(desc, data)
}

func decode(desc EventDescriptor, raw []byte) (*ResolvedEvent, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, permanent("decode envelope: %w", err)
	}

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("payload missing for %s", desc.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", desc.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
