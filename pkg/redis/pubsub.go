package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 256

// Publish sends payload to every subscriber of channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := with(c, func(rdb *redis.Client) (int64, error) { return rdb.Publish(ctx, channel, payload).Result() })
	return err
}

// Subscribe opens a pub/sub subscription and waits for the server to confirm
// it, so messages published after the call returns are not missed.
func (c *Client) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ps, err := with(c, func(rdb *redis.Client) (*redis.PubSub, error) { return rdb.Subscribe(ctx, channel), nil })
	if err != nil {
		return nil, err
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sub := &Subscription{ps: ps, out: make(chan []byte, subscriptionBuffer), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

// Subscription relays pub/sub payloads in publish order.
type Subscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *Subscription) pump() {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

// Messages yields payloads until the subscription is closed.
func (s *Subscription) Messages() <-chan []byte {
	return s.out
}

// Close ends the subscription; Messages is closed once drained.
func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}
