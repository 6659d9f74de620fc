package limiters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// GlobalScope stands in for an absent tenant id.
const GlobalScope = "global"

// AttemptConfig tunes the login lockout.
type AttemptConfig struct {
	// MaxFailures within Window locks the key.
	MaxFailures int
	// Window is both the counting window and the ban measured from the last
	// failure.
	Window time.Duration
	Prefix string
	Now    func() time.Time
}

// DefaultAttemptConfig returns 5 failures per 15 minutes.
func DefaultAttemptConfig() AttemptConfig {
	return AttemptConfig{MaxFailures: 5, Window: 15 * time.Minute, Prefix: "la"}
}

// ErrGuardUnavailable wraps backend failures. Callers must treat it as locked.
var ErrGuardUnavailable = errors.New("login guard unavailable")

// LockStatus describes an (email, tenant) key at a point in time.
type LockStatus struct {
	Locked            bool
	RemainingMinutes  int
	AttemptsRemaining int
	FailureCount      int
	LockedUntil       time.Time
}

// AttemptGuard is a sliding-window failure counter. Each failure is a ZSET
// member scored by its unix-ms timestamp, so concurrent writers never lose
// a failure and every reader derives the same decision from the count.
type AttemptGuard struct {
	redis  redis.UniversalClient
	config AttemptConfig
}

// NewAttemptGuard fills zero fields of cfg from DefaultAttemptConfig.
func NewAttemptGuard(rdb redis.UniversalClient, cfg AttemptConfig) *AttemptGuard {
	def := DefaultAttemptConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AttemptGuard{redis: rdb, config: cfg}
}

// Config returns the effective configuration.
func (g *AttemptGuard) Config() AttemptConfig {
	return g.config
}

// Key normalizes the (email, tenant) pair the guard counts under.
func Key(email, tenantID string) string {
	scope := tenantID
	if scope == "" {
		scope = GlobalScope
	}
	return scope + ":" + strings.ToLower(strings.TrimSpace(email))
}

func (g *AttemptGuard) failuresKey(email, tenantID string) string {
	return g.config.Prefix + ":f:" + Key(email, tenantID)
}

// RecordFailure appends a failure.
func (g *AttemptGuard) RecordFailure(ctx context.Context, email, tenantID string) error {
	now := g.config.Now()
	key := g.failuresKey(email, tenantID)

	_, err := g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.PExpire(ctx, key, 2*g.config.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return nil
}

// RecordSuccess removes failures inside the trailing window, resetting the
// counter for the key.
func (g *AttemptGuard) RecordSuccess(ctx context.Context, email, tenantID string) error {
	now := g.config.Now()
	min := strconv.FormatInt(now.Add(-g.config.Window).UnixMilli(), 10)
	max := strconv.FormatInt(now.UnixMilli(), 10)

	if err := g.redis.ZRemRangeByScore(ctx, g.failuresKey(email, tenantID), min, max).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return nil
}

// Status counts failures in the trailing window. With at least MaxFailures the
// key is locked until the most recent failure plus Window.
//
//	Performance: 1 pipeline (ZCOUNT + ZREVRANGEBYSCORE LIMIT 1).
func (g *AttemptGuard) Status(ctx context.Context, email, tenantID string) (LockStatus, error) {
	now := g.config.Now()
	key := g.failuresKey(email, tenantID)
	min := strconv.FormatInt(now.Add(-g.config.Window).UnixMilli(), 10)
	max := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := g.redis.Pipeline()
	countCmd := pipe.ZCount(ctx, key, min, max)
	lastCmd := pipe.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: min, Max: max, Count: 1})
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return LockStatus{}, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}

	count := int(countCmd.Val())
	status := LockStatus{FailureCount: count}
	if count < g.config.MaxFailures {
		status.AttemptsRemaining = g.config.MaxFailures - count
		return status, nil
	}

	last := lastCmd.Val()
	if len(last) == 0 {
		status.AttemptsRemaining = 0
		return status, nil
	}

	lockEnd := time.UnixMilli(int64(last[0].Score)).Add(g.config.Window)
	if !now.Before(lockEnd) {
		return status, nil
	}

	status.Locked = true
	status.LockedUntil = lockEnd
	status.RemainingMinutes = int(math.Ceil(lockEnd.Sub(now).Minutes()))
	return status, nil
}

// Clear deletes every recorded failure for the key.
func (g *AttemptGuard) Clear(ctx context.Context, email, tenantID string) error {
	if err := g.redis.Del(ctx, g.failuresKey(email, tenantID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return nil
}
