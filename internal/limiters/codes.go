package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCodeMaxFailures = 5
	defaultCodeCooldown    = 15 * time.Minute
)

var (
	ErrCodeAttemptsExceeded = errors.New("code attempts exceeded")
	ErrCodeGuardUnavailable = errors.New("code guard unavailable")
)

// CodeGuardConfig bounds wrong second-factor codes per account.
type CodeGuardConfig struct {
	MaxFailures int
	Cooldown    time.Duration
	Prefix      string
}

// CodeGuard counts wrong TOTP or backup codes entered by a signed-in account.
// The counter starts its cooldown on the first failure and is dropped on
// success.
type CodeGuard struct {
	redis       redis.UniversalClient
	maxFailures int64
	cooldown    time.Duration
	prefix      string
}

// NewCodeGuard fills zero fields with 5 failures per 15 minutes.
func NewCodeGuard(redisClient redis.UniversalClient, cfg CodeGuardConfig) *CodeGuard {
	max := cfg.MaxFailures
	if max <= 0 {
		max = defaultCodeMaxFailures
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultCodeCooldown
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mfaf"
	}
	return &CodeGuard{redis: redisClient, maxFailures: int64(max), cooldown: cd, prefix: prefix}
}

func (g *CodeGuard) key(accountID string) string {
	return g.prefix + ":" + accountID
}

// Check fails with ErrCodeAttemptsExceeded while the account is cooling down.
func (g *CodeGuard) Check(ctx context.Context, accountID string) error {
	count, err := g.redis.Get(ctx, g.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCodeGuardUnavailable, err)
	}
	if count >= g.maxFailures {
		return ErrCodeAttemptsExceeded
	}
	return nil
}

// RecordFailure counts one wrong code and reports ErrCodeAttemptsExceeded
// when it was the last one allowed.
func (g *CodeGuard) RecordFailure(ctx context.Context, accountID string) error {
	key := g.key(accountID)
	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeGuardUnavailable, err)
	}
	if count == 1 {
		if err := g.redis.Expire(ctx, key, g.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCodeGuardUnavailable, err)
		}
	}
	if count >= g.maxFailures {
		return ErrCodeAttemptsExceeded
	}
	return nil
}

func (g *CodeGuard) Reset(ctx context.Context, accountID string) error {
	if err := g.redis.Del(ctx, g.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeGuardUnavailable, err)
	}
	return nil
}
