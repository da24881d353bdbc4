package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/pkg/db/models"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox"
	"github.com/angelmondragon/tablesync-backend/pkg/outbox/registry"
)

const publishTimeout = 15 * time.Second

type pubSubClient interface {
	Ping(context.Context) error
	OrdersPublisher() *gcppubsub.Publisher
	Publisher(name string) *gcppubsub.Publisher
}

// topicPublisher sends one message and waits for the server ack. Resume
// clears the paused state Pub/Sub applies to an ordering key after a failure.
type topicPublisher interface {
	Send(ctx context.Context, msg *gcppubsub.Message) error
	Resume(orderingKey string)
}

type topicPublishers func(topic string) topicPublisher

// newPubSubTopics caches one publisher per topic. The orders topic uses the
// ordering-enabled publisher so each cafe's events arrive in commit order.
func newPubSubTopics(client pubSubClient, ordersTopic string) topicPublishers {
	var mu sync.Mutex
	cache := map[string]topicPublisher{}
	return func(topic string) topicPublisher {
		mu.Lock()
		defer mu.Unlock()
		if pub, ok := cache[topic]; ok {
			return pub
		}
		handle := client.Publisher(topic)
		if topic == ordersTopic {
			handle = client.OrdersPublisher()
		}
		if handle == nil {
			return nil
		}
		pub := gcpTopic{handle}
		cache[topic] = pub
		return pub
	}
}

type gcpTopic struct {
	publisher *gcppubsub.Publisher
}

func (g gcpTopic) Send(ctx context.Context, msg *gcppubsub.Message) error {
	_, err := g.publisher.Publish(ctx, msg).Get(ctx)
	return err
}

func (g gcpTopic) Resume(orderingKey string) {
	g.publisher.ResumePublish(orderingKey)
}

func (s *Service) send(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent, key string) error {
	topic := resolved.Descriptor.Topic
	pub := s.topics(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"cafe_id":        key,
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := pub.Send(sendCtx, msg); err != nil {
		pub.Resume(key)
		return err
	}
	return nil
}

// orderingKey groups events per cafe so one tenant's events arrive in commit
// order. Events without an actor fall back to their aggregate.
func orderingKey(event models.OutboxEvent, envelope outbox.PayloadEnvelope) string {
	if envelope.Actor != nil && envelope.Actor.CafeID != uuid.Nil {
		return envelope.Actor.CafeID.String()
	}
	return event.AggregateID.String()
}
