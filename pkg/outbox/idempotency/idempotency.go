// Package idempotency lets Pub/Sub consumers apply each outbox event once
// even though delivery is at least once.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/tablesync-backend/pkg/redis"
)

// ErrDuplicate is returned by Process when the event was already handled.
var ErrDuplicate = errors.New("event already processed")

// Manager claims event ids per consumer in Redis. A claim lives for ttl, which
// must outlast the subscription's redelivery window.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	switch {
	case consumer == "":
		return "", errors.New("consumer name is required")
	case eventID == uuid.Nil:
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String()), nil
}

// CheckAndMarkProcessed claims eventID for consumer. It reports true when an
// earlier delivery already holds the claim.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	return !claimed, err
}

// Delete drops the claim so the next delivery runs again.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// Process runs fn for the first delivery of eventID. A failing fn gives the
// claim back.
func (m *Manager) Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) error {
	seen, err := m.CheckAndMarkProcessed(ctx, consumer, eventID)
	switch {
	case err != nil:
		return err
	case seen:
		return ErrDuplicate
	}
	if err := fn(ctx); err != nil {
		return multierr.Append(err, m.Delete(ctx, consumer, eventID))
	}
	return nil
}
