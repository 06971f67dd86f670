package redis

import "strings"

// Every key the services write lives under mkt:<kind>:..., so a shared Redis
// can be inspected or flushed per concern.
const (
	keyNamespace      = "mkt"
	idempotencyPrefix = "idempotency"
	counterPrefix     = "counter"
	lockPrefix        = "lock"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(idempotencyPrefix, scope, id)
}

func (c *Client) CounterKey(name string) string {
	return joinKey(counterPrefix, name)
}

func (c *Client) LockKey(name string) string {
	return joinKey(lockPrefix, name)
}

func joinKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
