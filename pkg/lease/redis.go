package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cartflow:lease:"

var (
	acquireScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or current == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisManager shares leases between worker processes through Redis key expiry.
type RedisManager struct {
	client redis.UniversalClient
}

func NewRedisManager(client redis.UniversalClient) *RedisManager {
	return &RedisManager{client: client}
}

// NewRedisManagerFromURL parses a redis:// URL.
func NewRedisManagerFromURL(url string) (*RedisManager, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return NewRedisManager(redis.NewClient(opts)), nil
}

func (m *RedisManager) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	acquired, err := acquireScript.Run(ctx, m.client, []string{keyPrefix + key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	return acquired == 1, nil
}

func (m *RedisManager) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	renewed, err := renewScript.Run(ctx, m.client, []string{keyPrefix + key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to renew lease %s: %w", key, err)
	}

	if renewed == 0 {
		return fmt.Errorf("failed to renew lease %s: %w", key, ErrNotHeld)
	}

	return nil
}

func (m *RedisManager) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, m.client, []string{keyPrefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}

	return nil
}

// Close closes the underlying client.
func (m *RedisManager) Close() error {
	return m.client.Close()
}
