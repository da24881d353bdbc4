package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/tablesync-backend/internal/analytics"
	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	analyticswriter "github.com/angelmondragon/tablesync-backend/internal/analytics/writer"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/payloads"
)

type orderFinalizedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *orderFinalizedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.OrderFinalizedEvent)
	if !ok {
		return fmt.Errorf("order_finalized handler got %T", payload)
	}

	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"order_id":   event.OrderID.String(),
		"cafe_id":    event.CafeID.String(),
		"status":     string(event.Status),
	})

	row, err := buildOrderFactRow(envelope, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build order fact row", err)
		return err
	}

	if err := h.writer.InsertOrderFact(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert order fact row", err)
		return err
	}

	h.logg.Debug(logCtx, "order fact buffered")
	return nil
}

func buildOrderFactRow(envelope types.Envelope, event *payloads.OrderFinalizedEvent) (types.OrderFactRow, error) {
	itemsJSON, err := analyticswriter.EncodeJSON(event.Items)
	if err != nil {
		return types.OrderFactRow{}, fmt.Errorf("encode items json: %w", err)
	}
	payloadJSON, err := analyticswriter.EncodeJSON(event)
	if err != nil {
		return types.OrderFactRow{}, fmt.Errorf("encode payload json: %w", err)
	}

	return types.OrderFactRow{
		EventID:     envelope.EventID,
		OccurredAt:  envelope.OccurredAt,
		CafeID:      event.CafeID.String(),
		OrderID:     event.OrderID.String(),
		TableNo:     tableNo(event.TableNo),
		Status:      string(event.Status),
		LineCount:   int64(len(event.Items)),
		ItemCount:   int64(event.Items.Count()),
		TotalCents:  analytics.Cents(event.TotalAmount),
		CreatedAt:   event.CreatedAt.UTC(),
		FinalizedAt: analytics.FactTimestamp(event.FinalizedAt, envelope.OccurredAt),
		OpenSeconds: openSeconds(event),
		Items:       itemsJSON,
		Payload:     payloadJSON,
	}, nil
}

func openSeconds(event *payloads.OrderFinalizedEvent) *int64 {
	if event.CreatedAt.IsZero() || event.FinalizedAt.IsZero() || event.FinalizedAt.Before(event.CreatedAt) {
		return nil
	}
	open := int64(event.FinalizedAt.Sub(event.CreatedAt).Seconds())
	return &open
}

func tableNo(value string) *string {
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}
	return &value
}
