package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tablesync-backend/pkg/types"
)

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders-topic"})
	require.NoError(t, err)
	return reg
}

func envelopeOf(t *testing.T, data any) []byte {
	t.Helper()
	raw, ok := data.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(data)
		require.NoError(t, err)
	}
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		Data:       raw,
	})
	require.NoError(t, err)
	return body
}

func assertPermanent(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorAs(t, err, new(NonRetryableError))
}

func TestResolveDecodesOrderPlaced(t *testing.T) {
	reg := testRegistry(t)
	orderID := uuid.New()

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload: envelopeOf(t, payloads.OrderPlacedEvent{
			OrderID:   orderID,
			TableNo:   "4",
			Items:     types.LineItems{{Name: "Latte", Price: decimal.NewFromInt(4), Qty: 2}},
			ItemCount: 2,
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, "orders-topic", resolved.Descriptor.Topic)
	assert.Equal(t, enums.EventOrderPlaced, resolved.Descriptor.EventType)
	assert.NotEmpty(t, resolved.Envelope.EventID)

	placed, ok := resolved.Payload.(*payloads.OrderPlacedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, orderID, placed.OrderID)
	require.Len(t, placed.Items, 1)
	assert.Equal(t, 2, placed.Items[0].Qty)
}

func TestResolveRejectsBadRows(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		name  string
		event models.OutboxEvent
	}{
		{
			name: "unknown event type",
			event: models.OutboxEvent{
				EventType:     "menu_published",
				AggregateType: enums.AggregateCafe,
				AggregateID:   uuid.New(),
				Payload:       envelopeOf(t, map[string]string{"reason": "none"}),
			},
		},
		{
			name: "aggregate mismatch",
			event: models.OutboxEvent{
				EventType:     enums.EventOrderFinalized,
				AggregateType: enums.AggregateCafe,
				AggregateID:   uuid.New(),
				Payload:       envelopeOf(t, map[string]string{"status": "completed"}),
			},
		},
		{
			name: "missing aggregate id",
			event: models.OutboxEvent{
				EventType:     enums.EventOrderPlaced,
				AggregateType: enums.AggregateOrder,
				Payload:       envelopeOf(t, map[string]string{}),
			},
		},
		{
			name: "null data",
			event: models.OutboxEvent{
				EventType:     enums.EventOrderPlaced,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       envelopeOf(t, []byte("null")),
			},
		},
		{
			name: "corrupt envelope",
			event: models.OutboxEvent{
				EventType:     enums.EventOrderPlaced,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Payload:       []byte(`{"data":`),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Resolve(tt.event)
			assertPermanent(t, err)
		})
	}
}

func TestNewEventRegistryRequiresOrdersTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	assert.Error(t, err)
}

func TestDecodeMessage(t *testing.T) {
	reg := testRegistry(t)
	cafeID := uuid.New()
	body := envelopeOf(t, payloads.TrialExpiredEvent{CafeID: cafeID})

	resolved, err := reg.DecodeMessage(string(enums.EventTrialExpired), body)
	require.NoError(t, err)
	expired, ok := resolved.Payload.(*payloads.TrialExpiredEvent)
	require.True(t, ok)
	assert.Equal(t, cafeID, expired.CafeID)
	assert.Equal(t, enums.AggregateCafe, resolved.Descriptor.AggregateType)

	_, err = reg.DecodeMessage("unknown", body)
	assertPermanent(t, err)
}

func TestNonRetryableErrorUnwraps(t *testing.T) {
	var empty NonRetryableError
	assert.Equal(t, "non-retryable error", empty.Error())

	cause := assert.AnError
	assert.ErrorIs(t, NewNonRetryableError(cause), cause)
}
