package redis

import "strings"

const (
	keyNamespace      = "ts"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	lockPrefix        = "lock"
	changesPrefix     = "changes"
)

// Every key lives under "ts:" so one Redis can be shared with other apps.

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

// ChangesChannel names the pub/sub channel for one topic and tenant. An empty
// tenant addresses the topic-wide channel.
func (c *Client) ChangesChannel(topic, tenant string) string {
	return buildKey(changesPrefix, topic, tenant)
}

func buildKey(parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, ":")
}
