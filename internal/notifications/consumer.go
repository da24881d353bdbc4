package notifications

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/registry"
)

const orderAlertConsumer = "order-alerts"

type notificationWriter interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type eventDecoder interface {
	DecodeMessage(eventType string, data []byte) (*registry.ResolvedEvent, error)
}

type processor interface {
	Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) error
}

// verdict is what happens to a delivered message. Only a failed write is
// redelivered; anything undecodable would fail the same way again.
type verdict bool

const (
	ack  verdict = true
	nack verdict = false
)

// Consumer persists an owner notification for every placed order, every
// add-items request and every expired trial.
type Consumer struct {
	repo         notificationWriter
	subscription *pubsub.Subscriber
	decoder      eventDecoder
	idempotency  processor
	logg         *logger.Logger
}

func NewConsumer(repo notificationWriter, subscription *pubsub.Subscriber, decoder eventDecoder, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	switch {
	case repo == nil:
		return nil, errors.New("notifications repository required")
	case subscription == nil:
		return nil, errors.New("alerts subscription required")
	case decoder == nil:
		return nil, errors.New("event registry required")
	case manager == nil:
		return nil, errors.New("idempotency manager required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	return &Consumer{repo: repo, subscription: subscription, decoder: decoder, idempotency: manager, logg: logg}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.handle(ctx, msg) == ack {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) verdict {
	eventType := msg.Attributes["event_type"]
	ctx = c.logg.WithFields(ctx, map[string]any{"message_id": msg.ID, "event_type": eventType})

	if !alerting(enums.OutboxEventType(eventType)) {
		c.logg.Debug(ctx, "event carries no alert")
		return ack
	}

	notification, eventID, err := c.decode(eventType, msg.Data)
	if err != nil {
		c.logg.Error(ctx, "dropping undecodable alert event", err)
		return ack
	}
	ctx = c.logg.WithCafeID(ctx, notification.CafeID.String())

	err = c.idempotency.Process(ctx, orderAlertConsumer, eventID, func(ctx context.Context) error {
		return c.repo.Create(ctx, notification)
	})
	switch {
	case errors.Is(err, idempotency.ErrDuplicate):
		c.logg.Info(ctx, "event already processed")
	case err != nil:
		c.logg.Error(ctx, "storing notification failed", err)
		return nack
	default:
		c.logg.Info(ctx, "owner notified")
	}
	return ack
}

func alerting(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventOrderPlaced, enums.EventOrderItemsAdded, enums.EventTrialExpired:
		return true
	}
	return false
}

func (c *Consumer) decode(eventType string, data []byte) (*models.Notification, uuid.UUID, error) {
	resolved, err := c.decoder.DecodeMessage(eventType, data)
	if err != nil {
		return nil, uuid.Nil, err
	}
	eventID, err := uuid.Parse(resolved.Envelope.EventID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("event id: %w", err)
	}
	notification, err := buildNotification(resolved.Payload)
	return notification, eventID, err
}

func buildNotification(payload any) (*models.Notification, error) {
	var n models.Notification
	switch p := payload.(type) {
	case *payloads.OrderPlacedEvent:
		n = models.Notification{
			CafeID:  p.CafeID,
			OrderID: &p.OrderID,
			Type:    enums.NotificationTypeOrderAlert,
			Title:   "New order",
			Message: fmt.Sprintf("%s placed an order at table %s (%d %s).", p.CustomerName, p.TableNo, p.ItemCount, pluralItems(p.ItemCount)),
		}
	case *payloads.OrderItemsAddedEvent:
		n = models.Notification{
			CafeID:  p.CafeID,
			OrderID: &p.OrderID,
			Type:    enums.NotificationTypeOrderAlert,
			Title:   "Items added",
			Message: fmt.Sprintf("%s added %d %s at table %s.", p.CustomerName, p.AddedCount, pluralItems(p.AddedCount), p.TableNo),
		}
	case *payloads.TrialExpiredEvent:
		n = models.Notification{
			CafeID:  p.CafeID,
			Type:    enums.NotificationTypeTrialAlert,
			Title:   "Trial ended",
			Message: "Your free trial has ended. Customers can still browse the menu but ordering is paused until the cafe is activated.",
		}
	default:
		return nil, fmt.Errorf("unexpected payload %T", payload)
	}
	if n.CafeID == uuid.Nil {
		return nil, errors.New("cafe id missing")
	}
	return &n, nil
}
