package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/talentx/authcore/internal/rate"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestAttemptGuardLocksAfterThreshold(t *testing.T) {
	_, rdb := newTestRedis(t)
	now := time.Unix(1700000000, 0)
	g := NewAttemptGuard(rdb, AttemptConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := g.RecordFailure(ctx, "Jane@Acme.com", "t1"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
		now = now.Add(time.Second)
	}

	st, err := g.Status(ctx, "jane@acme.com", "t1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Locked || st.AttemptsRemaining != 1 {
		t.Fatalf("expected unlocked with 1 attempt left, got %+v", st)
	}

	if err := g.RecordFailure(ctx, "jane@acme.com", "t1"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	st, err = g.Status(ctx, "jane@acme.com", "t1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Locked || st.RemainingMinutes != 15 {
		t.Fatalf("expected 15 minute lock, got %+v", st)
	}

	if st, _ := g.Status(ctx, "jane@acme.com", "t2"); st.Locked {
		t.Fatal("lock must be scoped to tenant")
	}
	if st, _ := g.Status(ctx, "jane@acme.com", ""); st.Locked {
		t.Fatal("lock must not leak into the global scope")
	}
}

func TestAttemptGuardLockIsMeasuredFromLastFailure(t *testing.T) {
	_, rdb := newTestRedis(t)
	now := time.Unix(1700000000, 0)
	g := NewAttemptGuard(rdb, AttemptConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = g.RecordFailure(ctx, "a@b.c", "")
	}

	now = now.Add(10*time.Minute + 30*time.Second)
	st, err := g.Status(ctx, "a@b.c", "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Locked || st.RemainingMinutes != 5 {
		t.Fatalf("expected ceil(4.5)=5 remaining minutes, got %+v", st)
	}

	// A failure while locked moves the lock end forward.
	_ = g.RecordFailure(ctx, "a@b.c", "")
	now = now.Add(3*time.Minute + 30*time.Second)
	st, _ = g.Status(ctx, "a@b.c", "")
	if !st.Locked || st.RemainingMinutes != 12 {
		t.Fatalf("expected lock measured from newest failure, got %+v", st)
	}

	// Once the original burst leaves the window the count drops below the threshold.
	now = now.Add(time.Minute + time.Second)
	st, _ = g.Status(ctx, "a@b.c", "")
	if st.Locked || st.FailureCount != 1 {
		t.Fatalf("expected lock to lapse, got %+v", st)
	}
}

func TestAttemptGuardSuccessResets(t *testing.T) {
	_, rdb := newTestRedis(t)
	now := time.Unix(1700000000, 0)
	g := NewAttemptGuard(rdb, AttemptConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = g.RecordFailure(ctx, "a@b.c", "t1")
	}
	if err := g.RecordSuccess(ctx, "a@b.c", "t1"); err != nil {
		t.Fatalf("record success: %v", err)
	}

	st, _ := g.Status(ctx, "a@b.c", "t1")
	if st.FailureCount != 0 || st.AttemptsRemaining != 5 {
		t.Fatalf("expected reset counter, got %+v", st)
	}
}

func TestAttemptGuardBackendDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	g := NewAttemptGuard(rdb, AttemptConfig{})
	mr.Close()

	if _, err := g.Status(context.Background(), "a@b.c", ""); !errors.Is(err, ErrGuardUnavailable) {
		t.Fatalf("expected ErrGuardUnavailable, got %v", err)
	}
}

func TestRequestLimiter(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRequestLimiter(rate.New(rdb, "rl"), "otp", RequestConfig{
		PerEmail: rate.Rule{Limit: 1, Window: time.Hour},
		PerIP:    rate.Rule{Limit: 5, Window: time.Hour},
	})
	ctx := context.Background()

	if err := rl.Allow(ctx, "a@b.c", "10.0.0.1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := rl.Allow(ctx, "A@B.C", "10.0.0.2"); !errors.Is(err, ErrRequestThrottled) {
		t.Fatalf("expected ErrRequestThrottled, got %v", err)
	}

	var nilLimiter *RequestLimiter
	if err := nilLimiter.Allow(ctx, "a@b.c", ""); err != nil {
		t.Fatalf("nil limiter must allow: %v", err)
	}
}

func TestCodeGuardCoolsDownAfterMaxFailures(t *testing.T) {
	mr, rdb := newTestRedis(t)
	g := NewCodeGuard(rdb, CodeGuardConfig{MaxFailures: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := g.RecordFailure(ctx, "u-1"); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}
	if err := g.Check(ctx, "u-1"); err != nil {
		t.Fatalf("check before limit: %v", err)
	}
	if err := g.RecordFailure(ctx, "u-1"); !errors.Is(err, ErrCodeAttemptsExceeded) {
		t.Fatalf("expected exceeded on third failure, got %v", err)
	}
	if err := g.Check(ctx, "u-1"); !errors.Is(err, ErrCodeAttemptsExceeded) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if err := g.Check(ctx, "u-2"); err != nil {
		t.Fatalf("other account affected: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := g.Check(ctx, "u-1"); err != nil {
		t.Fatalf("cooldown should have expired: %v", err)
	}
}

func TestCodeGuardResetClearsFailures(t *testing.T) {
	_, rdb := newTestRedis(t)
	g := NewCodeGuard(rdb, CodeGuardConfig{MaxFailures: 2})
	ctx := context.Background()

	_ = g.RecordFailure(ctx, "u-1")
	if err := g.Reset(ctx, "u-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := g.RecordFailure(ctx, "u-1"); err != nil {
		t.Fatalf("failure after reset: %v", err)
	}
}
