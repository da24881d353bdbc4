package worker

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/router"
	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

const consumerName = "analytics"

// Handler turns one decoded order event into analytics rows.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// eventFilter lets a handler skip the idempotency round trip for events it
// never consumes.
type eventFilter interface {
	Supports(eventType enums.OutboxEventType) bool
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

// processedLedger records which events this consumer already applied.
type processedLedger interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type verdict int

const (
	ack verdict = iota
	nack
)

// Service pulls order events off the analytics subscription. Pub/Sub
// delivers at least once, so each event id is claimed in Redis before the
// handler runs and released again when the handler fails.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	ledger       processedLedger
	logg         *logger.Logger
}

func NewService(subscription *gcppubsub.Subscriber, handler Handler, ledger processedLedger, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case ledger == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, ledger: ledger, logg: logg}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) == nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) verdict {
	ctx = s.logg.WithFields(ctx, map[string]any{"message_id": msg.ID})

	envelope, err := decodeEnvelope(msg)
	if err != nil {
		// Redelivery cannot fix a malformed message.
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"error": err.Error()}), "dropping undecodable analytics message")
		return ack
	}
	if filter, ok := s.handler.(eventFilter); ok && !filter.Supports(envelope.EventType) {
		return ack
	}
	ctx = s.logg.WithFields(ctx, envelope.logFields())

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(ctx, "dropping analytics message with non-uuid event id")
		return ack
	}

	seen, err := s.ledger.CheckAndMarkProcessed(ctx, consumerName, eventID)
	switch {
	case err != nil:
		s.logg.Error(ctx, "idempotency check failed", err)
		return nack
	case seen:
		s.logg.Info(ctx, "event already processed")
		return ack
	}

	err = s.handler.Handle(ctx, envelope.Envelope)
	switch {
	case err == nil:
		s.logg.Info(ctx, "analytics event handled")
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(ctx, "unsupported analytics event")
		return ack
	}

	s.logg.Error(ctx, "analytics handler failed", err)
	if releaseErr := s.ledger.Delete(ctx, consumerName, eventID); releaseErr != nil {
		s.logg.Error(ctx, "failed to release idempotency claim", releaseErr)
	}
	return nack
}
