package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talentx/authcore"
)

func TestSessionIdleTimeoutByRole(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "rec@acme.com", "RECRUITER")
	ctx := context.Background()

	res := env.login(t, "rec@acme.com", testPassword)

	env.clock.Advance(59 * time.Minute)
	v, err := env.engine.ValidateSession(ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if !v.Valid || v.AccountID != "u-1" || v.Role != "RECRUITER" {
		t.Fatalf("validation at 59m = %+v", v)
	}
	if env.clock.Now().Before(v.WarningAt) {
		t.Fatalf("session at 59m should be inside the warning period")
	}

	env.clock.Advance(2 * time.Minute)
	v, err = env.engine.ValidateSession(ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if v.Valid {
		t.Fatalf("session valid after 61 minutes idle")
	}
	if _, err := env.engine.RefreshSession(ctx, res.SessionToken); !errors.Is(err, authcore.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRefreshSessionSlidesExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "admin@acme.com", "ADMIN")
	ctx := context.Background()

	res := env.login(t, "admin@acme.com", testPassword)
	if !res.SessionExpiresAt.Equal(env.clock.Now().Add(30 * time.Minute)) {
		t.Fatalf("admin session expiry = %v", res.SessionExpiresAt)
	}

	env.clock.Advance(20 * time.Minute)
	st, err := env.engine.RefreshSession(ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("RefreshSession failed: %v", err)
	}
	want := env.clock.Now().Add(30 * time.Minute)
	if !st.ExpiresAt.Equal(want) || !st.WarningAt.Equal(want.Add(-2*time.Minute)) {
		t.Fatalf("refreshed state = %+v", st)
	}

	env.clock.Advance(20 * time.Minute)
	v, err := env.engine.ValidateSession(ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if !v.Valid {
		t.Fatalf("refreshed session expired early")
	}
}

func TestListAndTerminateSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "multi@acme.com", "RECRUITER")
	ctx := context.Background()

	laptop, err := env.engine.Login(authcore.WithUserAgent(ctx, "laptop"), authcore.LoginRequest{Email: "multi@acme.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.clock.Advance(time.Minute)
	phone, err := env.engine.Login(authcore.WithUserAgent(ctx, "phone"), authcore.LoginRequest{Email: "multi@acme.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.clock.Advance(time.Minute)
	tablet, err := env.engine.Login(authcore.WithUserAgent(ctx, "tablet"), authcore.LoginRequest{Email: "multi@acme.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	list, err := env.engine.ListSessions(ctx, "u-1", laptop.SessionToken)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("sessions = %d, want 3", len(list))
	}
	current := 0
	for _, s := range list {
		if s.IsCurrent {
			current++
			if s.ID != laptop.SessionID {
				t.Fatalf("wrong session flagged current: %+v", s)
			}
		}
	}
	if current != 1 {
		t.Fatalf("current sessions = %d", current)
	}

	if err := env.engine.TerminateSession(ctx, "u-1", phone.SessionID); err != nil {
		t.Fatalf("TerminateSession failed: %v", err)
	}
	if err := env.engine.TerminateSession(ctx, "u-1", phone.SessionID); !errors.Is(err, authcore.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := env.engine.TerminateSession(ctx, "someone-else", tablet.SessionID); !errors.Is(err, authcore.ErrSessionNotFound) {
		t.Fatalf("foreign session terminated: %v", err)
	}

	n, err := env.engine.TerminateOtherSessions(ctx, "u-1", laptop.SessionToken)
	if err != nil {
		t.Fatalf("TerminateOtherSessions failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("terminated = %d, want 1", n)
	}
	list, err = env.engine.ListSessions(ctx, "u-1", laptop.SessionToken)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != laptop.SessionID {
		t.Fatalf("remaining sessions = %+v", list)
	}
}

func TestReapExpiredSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-a", "a@acme.com", "ADMIN")
	env.seedAccount(t, "u-c", "c@acme.com", "CANDIDATE")
	ctx := context.Background()

	env.login(t, "a@acme.com", testPassword)
	cand := env.login(t, "c@acme.com", testPassword)

	env.clock.Advance(31 * time.Minute)
	n, err := env.engine.ReapExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("ReapExpiredSessions failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped = %d, want 1", n)
	}
	v, err := env.engine.ValidateSession(ctx, cand.SessionToken)
	if err != nil || !v.Valid {
		t.Fatalf("candidate session reaped: %+v %v", v, err)
	}
}

func TestSessionTimeoutTable(t *testing.T) {
	env := newTestEnv(t, nil)
	want := map[string]int{
		"SUPER_ADMIN":    30,
		"ADMIN":          30,
		"VENDOR":         30,
		"RECRUITER":      60,
		"HIRING_MANAGER": 60,
		"INTERVIEWER":    60,
		"CANDIDATE":      10080,
		"UNKNOWN":        60,
	}
	for role, minutes := range want {
		got := env.engine.SessionTimeout(role)
		if got.TimeoutMinutes != minutes || got.WarningMinutes != 2 {
			t.Fatalf("SessionTimeout(%s) = %+v", role, got)
		}
	}
	if got := len(env.engine.SessionTimeouts()); got != 7 {
		t.Fatalf("SessionTimeouts len = %d", got)
	}
}
