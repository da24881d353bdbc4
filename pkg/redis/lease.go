package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseLease deletes the key only while it still holds the caller's token,
// so an expired holder never drops a lease someone else acquired since.
var releaseLease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLease claims the named lease for ttl. It reports false when another
// holder already owns it.
func (c *Client) AcquireLease(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, c.LockKey(name), token, ttl)
}

// ReleaseLease gives the lease back early. It reports whether token still
// owned the lease.
func (c *Client) ReleaseLease(ctx context.Context, name, token string) (bool, error) {
	return with(c, func(rdb *redis.Client) (bool, error) {
		deleted, err := releaseLease.Run(ctx, rdb, []string{c.LockKey(name)}, token).Int64()
		return deleted == 1, err
	})
}
