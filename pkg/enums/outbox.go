package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
	AggregateCafe  OutboxAggregateType = "cafe"
)

var aggregateTypes = []OutboxAggregateType{AggregateOrder, AggregateCafe}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, aggregateTypes)
}

// OutboxEventType maps to the event_type enum in Postgres and is carried as
// the event_type attribute on published messages.
type OutboxEventType string

const (
	EventOrderPlaced     OutboxEventType = "order_placed"
	EventOrderItemsAdded OutboxEventType = "order_items_added"
	EventOrderFinalized  OutboxEventType = "order_finalized"
	EventTrialExpired    OutboxEventType = "trial_expired"
)

var eventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderItemsAdded,
	EventOrderFinalized,
	EventTrialExpired,
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(eventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, eventTypes)
}

// OutboxDLQErrorReason records why a row was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
