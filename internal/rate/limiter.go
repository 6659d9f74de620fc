package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a fixed-window budget: at most Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the rule constrains anything.
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Limiter counts hits per key in Redis using INCR plus a TTL set on the first
// hit of each window.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a Limiter whose keys start with prefix.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{redis: redisClient, prefix: prefix}
}

func (l *Limiter) key(scope, id string) string {
	return l.prefix + ":" + scope + ":" + id
}

// Hit records one hit for scope/id and returns ErrRateLimited once the count
// exceeds rule.Limit within the current window. A disabled rule always passes.
func (l *Limiter) Hit(ctx context.Context, scope, id string, rule Rule) error {
	if l == nil || !rule.Enabled() || id == "" {
		return nil
	}

	key := l.key(scope, id)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: TTL only on the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, rule.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(rule.Limit) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for scope/id.
func (l *Limiter) Reset(ctx context.Context, scope, id string) error {
	if l == nil || id == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(scope, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
