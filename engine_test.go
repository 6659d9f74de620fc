package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talentx/authcore"
)

func TestLoginIssuesTokensAndRoleSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-rec", "rec@acme.com", "RECRUITER")

	res := env.login(t, "  REC@acme.com ", testPassword)
	if res.RequiresMFA {
		t.Fatalf("unexpected mfa challenge")
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionToken == "" {
		t.Fatalf("expected tokens and session, got %+v", res)
	}
	now := env.clock.Now()
	if !res.SessionExpiresAt.Equal(now.Add(60 * time.Minute)) {
		t.Fatalf("session expiry = %v, want %v", res.SessionExpiresAt, now.Add(60*time.Minute))
	}
	if !res.WarningAt.Equal(res.SessionExpiresAt.Add(-2 * time.Minute)) {
		t.Fatalf("warning at %v", res.WarningAt)
	}
	if !res.AccessExpiresAt.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Fatalf("access expiry = %v", res.AccessExpiresAt)
	}
	if res.Profile == nil || res.Profile.TenantID != testTenant {
		t.Fatalf("profile = %+v", res.Profile)
	}

	id, err := env.engine.Authenticate(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if id.AccountID != "u-rec" || id.Role != "RECRUITER" || id.TenantID != testTenant {
		t.Fatalf("identity = %+v", id)
	}
	found := false
	for _, p := range id.Permissions {
		if p == "jobs:read" {
			found = true
		}
	}
	if !found {
		t.Fatalf("recruiter permissions missing jobs:read: %v", id.Permissions)
	}

	acct, err := env.store.AccountByID(context.Background(), "u-rec")
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if acct.LastLoginAt == nil || !acct.LastLoginAt.Equal(now) {
		t.Fatalf("last login not stamped: %v", acct.LastLoginAt)
	}

	attempts := env.store.LoginAttempts()
	if len(attempts) != 1 || !attempts[0].Success {
		t.Fatalf("ledger = %+v", attempts)
	}
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "lock@acme.com", "RECRUITER")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.engine.Login(ctx, authcore.LoginRequest{Email: "lock@acme.com", Password: "wrong"})
		if !errors.Is(err, authcore.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
		}
	}

	_, err := env.engine.Login(ctx, authcore.LoginRequest{Email: "lock@acme.com", Password: testPassword})
	var locked *authcore.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if locked.RemainingMinutes != 15 {
		t.Fatalf("remaining minutes = %d, want 15", locked.RemainingMinutes)
	}
	if !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("LockedError should unwrap to ErrAccountLocked")
	}

	// A locked attempt is not a new failure.
	if got := len(env.store.LoginAttempts()); got != 5 {
		t.Fatalf("ledger rows = %d, want 5", got)
	}

	env.clock.Advance(10 * time.Minute)
	st, err := env.engine.LockoutStatus(ctx, "lock@acme.com", "")
	if err != nil {
		t.Fatalf("LockoutStatus failed: %v", err)
	}
	if !st.Locked || st.RemainingMinutes != 5 {
		t.Fatalf("status after 10m = %+v", st)
	}

	env.clock.Advance(5 * time.Minute)
	res := env.login(t, "lock@acme.com", testPassword)
	if res.AccessToken == "" {
		t.Fatalf("expected tokens after lock expired")
	}
	st, err = env.engine.LockoutStatus(ctx, "lock@acme.com", "")
	if err != nil {
		t.Fatalf("LockoutStatus failed: %v", err)
	}
	if st.Locked || st.FailureCount != 0 {
		t.Fatalf("status after success = %+v", st)
	}
}

func TestLockoutIsScopedByTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "scope@acme.com", "RECRUITER")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.engine.Login(ctx, authcore.LoginRequest{Email: "scope@acme.com", Password: "wrong", TenantID: testTenant})
	}
	if _, err := env.engine.Login(ctx, authcore.LoginRequest{Email: "scope@acme.com", Password: testPassword, TenantID: testTenant}); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("expected tenant key locked, got %v", err)
	}
	env.login(t, "scope@acme.com", testPassword)

	if err := env.engine.ClearLockout(ctx, "scope@acme.com", testTenant); err != nil {
		t.Fatalf("ClearLockout failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, authcore.LoginRequest{Email: "scope@acme.com", Password: testPassword, TenantID: testTenant}); err != nil {
		t.Fatalf("Login after clear failed: %v", err)
	}
}

func TestLoginUnknownEmailIsGeneric(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Login(context.Background(), authcore.LoginRequest{Email: "ghost@acme.com", Password: "whatever"})
	if !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	attempts := env.store.LoginAttempts()
	if len(attempts) != 1 || attempts[0].Success || attempts[0].Email != "ghost@acme.com" {
		t.Fatalf("ledger = %+v", attempts)
	}
}

func TestLoginRejectsEmptyInput(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.engine.Login(context.Background(), authcore.LoginRequest{Email: " ", Password: "x"})
	if !errors.Is(err, authcore.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestLoginAccountStates(t *testing.T) {
	cases := []struct {
		name   string
		status authcore.AccountStatus
	}{
		{"pending", authcore.StatusPending},
		{"inactive", authcore.StatusInactive},
		{"suspended", authcore.StatusSuspended},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.store.PutAccount(authcore.Account{
				ID:           "u-" + tc.name,
				Email:        tc.name + "@acme.com",
				TenantID:     testTenant,
				PasswordHash: mustHash(t, testPassword),
				Role:         "RECRUITER",
				Status:       tc.status,
			})
			_, err := env.engine.Login(context.Background(), authcore.LoginRequest{Email: tc.name + "@acme.com", Password: testPassword})
			var notActive *authcore.AccountNotActiveError
			if !errors.As(err, &notActive) || notActive.Status != tc.status {
				t.Fatalf("expected AccountNotActiveError(%s), got %v", tc.status, err)
			}
		})
	}
}

func TestLoginRejectsInactiveTenant(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.PutTenant(authcore.Tenant{ID: "t-susp", Name: "Gone", Status: authcore.TenantSuspended})
	env.store.PutAccount(authcore.Account{
		ID:           "u-1",
		Email:        "x@gone.com",
		TenantID:     "t-susp",
		PasswordHash: mustHash(t, testPassword),
		Role:         "RECRUITER",
		Status:       authcore.StatusActive,
	})
	_, err := env.engine.Login(context.Background(), authcore.LoginRequest{Email: "x@gone.com", Password: testPassword})
	if !errors.Is(err, authcore.ErrTenantNotActive) {
		t.Fatalf("expected tenant not active, got %v", err)
	}
}

func TestLoginTemporaryPasswordExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	expired := env.clock.Now().Add(-time.Minute)
	env.store.PutAccount(authcore.Account{
		ID:                    "u-1",
		Email:                 "temp@acme.com",
		TenantID:              testTenant,
		PasswordHash:          mustHash(t, testPassword),
		Role:                  "INTERVIEWER",
		Status:                authcore.StatusActive,
		RequirePasswordChange: true,
		TempPasswordExpiresAt: &expired,
	})
	_, err := env.engine.Login(context.Background(), authcore.LoginRequest{Email: "temp@acme.com", Password: testPassword})
	if !errors.Is(err, authcore.ErrTemporaryPasswordExpired) {
		t.Fatalf("expected temporary password expired, got %v", err)
	}
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "rot@acme.com", "RECRUITER")
	ctx := context.Background()

	first := env.login(t, "rot@acme.com", testPassword)
	pair, err := env.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh token not rotated")
	}
	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, authcore.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, "not-a-token"); !errors.Is(err, authcore.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected unknown token rejected, got %v", err)
	}
}

func TestRefreshRejectsInactiveOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "owner@acme.com", "RECRUITER")
	ctx := context.Background()

	res := env.login(t, "owner@acme.com", testPassword)
	if err := env.store.SetAccountStatus(ctx, "u-1", authcore.StatusSuspended); err != nil {
		t.Fatalf("SetAccountStatus failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, authcore.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected refresh rejected, got %v", err)
	}
}

func TestLogoutRevokesEverything(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "bye@acme.com", "RECRUITER")
	ctx := context.Background()

	a := env.login(t, "bye@acme.com", testPassword)
	b := env.login(t, "bye@acme.com", testPassword)

	if err := env.engine.Logout(ctx, "u-1"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	for _, rt := range []string{a.RefreshToken, b.RefreshToken} {
		if _, err := env.engine.Refresh(ctx, rt); !errors.Is(err, authcore.ErrInvalidOrExpiredToken) {
			t.Fatalf("refresh after logout: %v", err)
		}
	}
	for _, st := range []string{a.SessionToken, b.SessionToken} {
		v, err := env.engine.ValidateSession(ctx, st)
		if err != nil {
			t.Fatalf("ValidateSession failed: %v", err)
		}
		if v.Valid {
			t.Fatalf("session survived logout")
		}
	}
	if err := env.engine.Logout(ctx, ""); !errors.Is(err, authcore.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, tok := range []string{"", "abc.def.ghi"} {
		if _, err := env.engine.Authenticate(context.Background(), tok); !errors.Is(err, authcore.ErrUnauthorized) {
			t.Fatalf("Authenticate(%q) = %v", tok, err)
		}
	}
}

func TestMeResolvesPermissions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-c", "cand@acme.com", "CANDIDATE")

	p, err := env.engine.Me(context.Background(), "u-c")
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	found := false
	for _, perm := range p.Permissions {
		if perm == "profile:read" {
			found = true
		}
	}
	if !found {
		t.Fatalf("candidate permissions = %v", p.Permissions)
	}
	if _, err := env.engine.Me(context.Background(), "missing"); !errors.Is(err, authcore.ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPasswordHashUpgradedOnLogin(t *testing.T) {
	env := newTestEnv(t, func(c *authcore.Config) { c.Password.BcryptCost = 5 })
	env.seedAccount(t, "u-1", "up@acme.com", "RECRUITER")
	before, _ := env.store.AccountByID(context.Background(), "u-1")

	env.login(t, "up@acme.com", testPassword)

	after, _ := env.store.AccountByID(context.Background(), "u-1")
	if after.PasswordHash == before.PasswordHash {
		t.Fatalf("hash not upgraded to the configured cost")
	}
	env.login(t, "up@acme.com", testPassword)
}

func TestClientContextFlowsIntoSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedAccount(t, "u-1", "ctx@acme.com", "RECRUITER")

	ctx := authcore.WithUserAgent(authcore.WithClientIP(context.Background(), "203.0.113.7"), "Firefox")
	res, err := env.engine.Login(ctx, authcore.LoginRequest{Email: "ctx@acme.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	list, err := env.engine.ListSessions(context.Background(), "u-1", res.SessionToken)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 1 || list[0].UserAgent != "Firefox" || list[0].IPAddress != "203.0.113.7" || !list[0].IsCurrent {
		t.Fatalf("sessions = %+v", list)
	}
	if ip := env.store.LoginAttempts()[0].IPAddress; ip != "203.0.113.7" {
		t.Fatalf("ledger ip = %q", ip)
	}
}
