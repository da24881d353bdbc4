// Package changestream carries entity change notifications from writers to
// live subscribers, independent of the storage engine.
package changestream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
	KindRemoved  Kind = "removed"
)

type Topic string

const (
	TopicOrders  Topic = "orders"
	TopicHistory Topic = "history"
)

// Change describes one applied write. Payload is the full entity snapshot
// after the write (empty for removals) and Version its write counter.
type Change struct {
	Kind       Kind            `json:"kind"`
	Topic      Topic           `json:"topic"`
	CafeID     uuid.UUID       `json:"cafe_id"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Version    int64           `json:"version"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Decode unmarshals the entity snapshot into dst.
func (c Change) Decode(dst any) error {
	if len(c.Payload) == 0 {
		return errors.New("change has no payload")
	}
	return json.Unmarshal(c.Payload, dst)
}

// NewChange snapshots entity into a Change.
func NewChange(kind Kind, topic Topic, cafeID, entityID uuid.UUID, version int64, entity any) (Change, error) {
	change := Change{
		Kind:       kind,
		Topic:      topic,
		CafeID:     cafeID,
		EntityID:   entityID,
		Version:    version,
		OccurredAt: time.Now().UTC(),
	}
	if entity != nil {
		payload, err := json.Marshal(entity)
		if err != nil {
			return Change{}, err
		}
		change.Payload = payload
	}
	return change, nil
}

// Filter selects the changes of one topic for one cafe.
type Filter struct {
	Topic  Topic
	CafeID uuid.UUID
}

func (f Filter) validate() error {
	if f.Topic == "" {
		return errors.New("change stream topic required")
	}
	if f.CafeID == uuid.Nil {
		return errors.New("change stream cafe id required")
	}
	return nil
}

func (f Filter) matches(c Change) bool {
	return f.Topic == c.Topic && f.CafeID == c.CafeID
}

// Subscription delivers matching changes in publish order until closed.
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

// Stream is the publish/subscribe capability the order services and feeds
// depend on.
type Stream interface {
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
	Publish(ctx context.Context, change Change) error
}
