package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type runFunc func(context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

var healthy = pingFunc(func(context.Context) error { return nil })

func params(consumer runner) ServiceParams {
	return ServiceParams{
		Logger:               logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:                   healthy,
		Redis:                healthy,
		PubSub:               healthy,
		NotificationConsumer: consumer,
	}
}

func TestRunReturnsConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc, err := NewService(params(runFunc(func(context.Context) error { return boom })))
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Run(context.Background()), boom)
}

func TestRunDoesNotStartConsumerWhenDependencyIsDown(t *testing.T) {
	started := false
	p := params(runFunc(func(context.Context) error {
		started = true
		return nil
	}))
	p.Redis = pingFunc(func(context.Context) error { return errors.New("refused") })
	svc, err := NewService(p)
	require.NoError(t, err)

	assert.ErrorContains(t, svc.Run(context.Background()), "redis ping failed")
	assert.False(t, started)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := NewService(params(runFunc(func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return nil
	})))
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Run(ctx), context.Canceled)
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(params(nil))
	assert.ErrorContains(t, err, "consumer")

	p := params(runFunc(func(context.Context) error { return nil }))
	p.PubSub = nil
	_, err = NewService(p)
	assert.ErrorContains(t, err, "pubsub client is required")
}
