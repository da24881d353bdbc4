package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

var errNotInitialized = errors.New("redis client not initialized")

// Client wraps the one Redis connection pool shared by idempotency keys,
// rate limit windows, cron leases and the change stream fan-out.
type Client struct {
	raw *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is the subset used by HTTP and consumer idempotency.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New dials Redis and fails fast when the server does not answer PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connection established")
	}
	return &Client{raw: raw}, nil
}

// optionsFromConfig prefers TABLESYNC_REDIS_URL. Pool and timeout settings
// from the environment fill whatever the URL leaves unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	orDefault(&opts.DB, cfg.DB)
	orDefault(&opts.PoolSize, cfg.PoolSize)
	orDefault(&opts.MinIdleConns, cfg.MinIdleConns)
	orDefault(&opts.DialTimeout, cfg.DialTimeout)
	orDefault(&opts.ReadTimeout, cfg.ReadTimeout)
	orDefault(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func orDefault[T comparable](field *T, fallback T) {
	var zero T
	if *field == zero {
		*field = fallback
	}
}

// with runs fn against the pool, or fails when the client was never dialed.
func with[T any](c *Client, fn func(rdb *redis.Client) (T, error)) (T, error) {
	if c == nil || c.raw == nil {
		var zero T
		return zero, errNotInitialized
	}
	return fn(c.raw)
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	_, err := with(c, func(rdb *redis.Client) (string, error) { return rdb.Set(ctx, key, value, ttl).Result() })
	return err
}

// Get returns redis.Nil when key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return with(c, func(rdb *redis.Client) (string, error) { return rdb.Get(ctx, key).Result() })
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return with(c, func(rdb *redis.Client) (bool, error) { return rdb.SetNX(ctx, key, value, ttl).Result() })
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	_, err := with(c, func(rdb *redis.Client) (int64, error) { return rdb.Del(ctx, keys...).Result() })
	return err
}

// incrWithTTL sets the expiry only on the increment that creates the key, so
// a fixed window never slides forward under steady traffic.
var incrWithTTL = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// IncrWithTTL increments key and starts its TTL on the first increment.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return with(c, func(rdb *redis.Client) (int64, error) {
		return incrWithTTL.Run(ctx, rdb, []string{key}, ttl.Milliseconds()).Int64()
	})
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := with(c, func(rdb *redis.Client) (string, error) { return rdb.Ping(ctx).Result() })
	return err
}

func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
