// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const window = time.Minute

// Limiter decides whether one more send is allowed under a per-minute limit.
type Limiter interface {
	Allow(ctx context.Context, key string, perMinute int) (bool, error)
}

// RedisLimiter is a fixed one-minute window counter shared by every engine
// instance pointed at the same Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type Option func(*RedisLimiter)

func WithClock(now func() time.Time) Option {
	return func(l *RedisLimiter) { l.now = now }
}

func WithPrefix(prefix string) Option {
	return func(l *RedisLimiter) { l.prefix = prefix }
}

func NewRedisLimiter(client *redis.Client, opts ...Option) *RedisLimiter {
	l := &RedisLimiter{client: client, prefix: "notification:ratelimit", now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts the call against the current window. A perMinute of zero or
// less means unlimited and does not touch Redis.
func (l *RedisLimiter) Allow(ctx context.Context, key string, perMinute int) (bool, error) {
	if perMinute <= 0 {
		return true, nil
	}

	windowKey := l.WindowKey(key)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter %s: %w", windowKey, err)
	}

	return incr.Val() <= int64(perMinute), nil
}

// WindowKey returns the Redis key for key in the current window.
func (l *RedisLimiter) WindowKey(key string) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, l.now().Unix()/int64(window/time.Second))
}

// NoopLimiter allows everything. It is used when no Redis is configured.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string, int) (bool, error) { return true, nil }

// Key builds the limiter key for a tenant's provider.
func Key(tenantID, providerID string) string {
	return tenantID + ":" + providerID
}
