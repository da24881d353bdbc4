package changestream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/tablesync-backend/pkg/redis"
)

type messageSource interface {
	Messages() <-chan []byte
	Close() error
}

type bus interface {
	Channel(topic, tenant string) string
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (messageSource, error)
}

type redisBus struct {
	client *pkgredis.Client
}

func (b redisBus) Channel(topic, tenant string) string {
	return b.client.ChangesChannel(topic, tenant)
}

func (b redisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload)
}

func (b redisBus) Subscribe(ctx context.Context, channel string) (messageSource, error) {
	return b.client.Subscribe(ctx, channel)
}

// RedisStream publishes changes on one Redis channel per topic and cafe so
// every API instance sees every write.
type RedisStream struct {
	bus  bus
	logg *logger.Logger
}

func NewRedisStream(client *pkgredis.Client, logg *logger.Logger) *RedisStream {
	return &RedisStream{bus: redisBus{client: client}, logg: logg}
}

func (r *RedisStream) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	channel := r.bus.Channel(string(change.Topic), change.CafeID.String())
	return r.bus.Publish(ctx, channel, payload)
}

func (r *RedisStream) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	channel := r.bus.Channel(string(filter.Topic), filter.CafeID.String())
	src, err := r.bus.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	sub := &redisSubscription{
		src:    src,
		filter: filter,
		out:    make(chan Change, bufferSize),
		done:   make(chan struct{}),
		logg:   r.logg,
	}
	go sub.decode(ctx)
	return sub, nil
}

type redisSubscription struct {
	src    messageSource
	filter Filter
	out    chan Change
	done   chan struct{}
	once   sync.Once
	logg   *logger.Logger
}

func (s *redisSubscription) decode(ctx context.Context) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case payload, ok := <-s.src.Messages():
			if !ok {
				return
			}
			var change Change
			if err := json.Unmarshal(payload, &change); err != nil {
				if s.logg != nil {
					s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping undecodable change")
				}
				continue
			}
			if !s.filter.matches(change) {
				continue
			}
			select {
			case s.out <- change:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Changes() <-chan Change {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.src.Close()
	})
	return err
}
