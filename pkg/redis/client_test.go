package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestIncrWithTTLStartsWindowOnFirstHit(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	key := client.RateLimitKey("orders:session-1")

	count, err := client.IncrWithTTL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(30 * time.Second)
	count, err = client.IncrWithTTL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 30*time.Second, mr.TTL(key), "second hit must not extend the window")

	mr.FastForward(31 * time.Second)
	count, err = client.IncrWithTTL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSetGetDel(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", "v", time.Minute))
	value, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	ok, err := client.SetNX(ctx, "k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Del(ctx, "k"))
	_, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestLeaseReleaseRequiresOwnership(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := client.AcquireLease(ctx, "cron:order-ttl", "instance-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.AcquireLease(ctx, "cron:order-ttl", "instance-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := client.ReleaseLease(ctx, "cron:order-ttl", "instance-b")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("ts:lock:cron:order-ttl"))

	released, err = client.ReleaseLease(ctx, "cron:order-ttl", "instance-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("ts:lock:cron:order-ttl"))
}

func TestPublishReachesSubscriber(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	channel := client.ChangesChannel("orders", "cafe-1")

	sub, err := client.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, channel, []byte(`{"kind":"added"}`)))
	select {
	case msg := <-sub.Messages():
		assert.JSONEq(t, `{"kind":"added"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{}, nil)
	assert.Error(t, err)
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	assert.ErrorIs(t, client.Publish(ctx, "c", nil), errNotInitialized)
	_, err := client.Subscribe(ctx, "c")
	assert.ErrorIs(t, err, errNotInitialized)
	_, err = client.ReleaseLease(ctx, "c", "t")
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "ts:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "ts:rate_limit:scope", client.RateLimitKey("scope"))
	assert.Equal(t, "ts:lock:cron-worker", client.LockKey("cron-worker"))
	assert.Equal(t, "ts:changes:history", client.ChangesChannel("history", ""))
}
