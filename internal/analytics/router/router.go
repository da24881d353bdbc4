package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/tablesync-backend/internal/analytics/types"
	"github.com/angelmondragon/tablesync-backend/pkg/enums"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertOrderFact(ctx context.Context, row types.OrderFactRow) error
}

// Handler receives an envelope plus its decoded payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type route struct {
	decode  func(data []byte) (any, error)
	handler Handler
}

func decoderFor[T any](eventType enums.OutboxEventType) func([]byte) (any, error) {
	return func(data []byte) (any, error) {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, fmt.Errorf("empty payload for %s", eventType)
		}
		payload := new(T)
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
		}
		return payload, nil
	}
}

// Option replaces the handler for a routed event type.
type Option func(routes map[enums.OutboxEventType]route)

// WithHandler swaps in h for eventType. Unknown event types are ignored.
func WithHandler(eventType enums.OutboxEventType, h Handler) Option {
	return func(routes map[enums.OutboxEventType]route) {
		if r, ok := routes[eventType]; ok && h != nil {
			r.handler = h
			routes[eventType] = r
		}
	}
}

// Router sends each analytics envelope to the handler for its event type.
// Only finalized orders become facts; live order events are ignored.
type Router struct {
	routes map[enums.OutboxEventType]route
}

func NewRouter(writer Writer, logg *logger.Logger, opts ...Option) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	routes := map[enums.OutboxEventType]route{
		enums.EventOrderFinalized: {
			decode:  decoderFor[payloads.OrderFinalizedEvent](enums.EventOrderFinalized),
			handler: &orderFinalizedHandler{writer: writer, logg: logg},
		},
	}
	for _, opt := range opts {
		opt(routes)
	}
	return &Router{routes: routes}, nil
}

func (r *Router) Supports(eventType enums.OutboxEventType) bool {
	_, ok := r.routes[eventType]
	return ok
}

func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload, err := rt.decode(envelope.Payload)
	if err != nil {
		return err
	}
	return rt.handler.Handle(ctx, envelope, payload)
}
