package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talentx/authcore"
)

// newTestStore connects to AUTHCORE_TEST_DATABASE_URL and migrates. Each test
// uses its own tenant so runs do not collide.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	url := os.Getenv("AUTHCORE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AUTHCORE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := Open(ctx, url, DefaultPoolConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	tenantID := uuid.NewString()
	if _, err := s.CreateTenant(ctx, authcore.Tenant{
		ID:     tenantID,
		Name:   "Test Org",
		Slug:   "test-" + tenantID,
		Domain: tenantID[:8] + ".example",
		Status: authcore.TenantActive,
	}); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}
	return s, tenantID
}

func createAccount(t *testing.T, s *Store, tenantID, email string) *authcore.Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), authcore.NewAccount{
		Email:        email,
		TenantID:     tenantID,
		PasswordHash: "hash-0",
		FirstName:    "Ada",
		Role:         "RECRUITER",
		Status:       authcore.StatusActive,
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return a
}

func TestAccountLifecycle(t *testing.T) {
	s, tenantID := newTestStore(t)
	ctx := context.Background()
	email := uuid.NewString()[:8] + "@Example.com"

	a := createAccount(t, s, tenantID, email)
	if a.Email != strings.ToLower(email) || a.Status != authcore.StatusActive || a.Role != "RECRUITER" {
		t.Fatalf("created account = %+v", a)
	}

	if _, err := s.CreateAccount(ctx, authcore.NewAccount{Email: email, TenantID: tenantID, Role: "RECRUITER", Status: authcore.StatusActive}); !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	got, err := s.AccountByEmail(ctx, email, tenantID)
	if err != nil {
		t.Fatalf("AccountByEmail failed: %v", err)
	}
	if got.ID != a.ID {
		t.Fatalf("lookup returned %s, want %s", got.ID, a.ID)
	}

	if err := s.SetAccountStatus(ctx, a.ID, authcore.StatusSuspended); err != nil {
		t.Fatalf("SetAccountStatus failed: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.SetLastLogin(ctx, a.ID, now); err != nil {
		t.Fatalf("SetLastLogin failed: %v", err)
	}
	got, err = s.AccountByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if got.Status != authcore.StatusSuspended || got.LastLoginAt == nil || !got.LastLoginAt.Equal(now) {
		t.Fatalf("updated account = %+v", got)
	}

	if _, err := s.AccountByID(ctx, uuid.NewString()); !errors.Is(err, authcore.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := s.SetAccountStatus(ctx, uuid.NewString(), authcore.StatusActive); !errors.Is(err, authcore.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSetPasswordKeepsHistory(t *testing.T) {
	s, tenantID := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, tenantID, uuid.NewString()[:8]+"@example.com")

	for _, h := range []string{"hash-1", "hash-2", "hash-3"} {
		if err := s.SetPassword(ctx, a.ID, h); err != nil {
			t.Fatalf("SetPassword failed: %v", err)
		}
	}

	history, err := s.PasswordHistory(ctx, a.ID, 2)
	if err != nil {
		t.Fatalf("PasswordHistory failed: %v", err)
	}
	if len(history) != 2 || history[0] != "hash-2" || history[1] != "hash-1" {
		t.Fatalf("history = %v", history)
	}

	got, err := s.AccountByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if got.PasswordHash != "hash-3" || got.RequirePasswordChange || got.TempPasswordExpiresAt != nil {
		t.Fatalf("account after SetPassword = %+v", got)
	}
}

func TestBackupCodesAreConsumedOnce(t *testing.T) {
	s, tenantID := newTestStore(t)
	ctx := context.Background()
	a := createAccount(t, s, tenantID, uuid.NewString()[:8]+"@example.com")

	if err := s.SetMFASecret(ctx, a.ID, "JBSWY3DPEHPK3PXP"); err != nil {
		t.Fatalf("SetMFASecret failed: %v", err)
	}
	if err := s.EnableMFA(ctx, a.ID, []string{"c1", "c2", "c3"}); err != nil {
		t.Fatalf("EnableMFA failed: %v", err)
	}

	ok, err := s.ConsumeBackupCode(ctx, a.ID, "c2")
	if err != nil || !ok {
		t.Fatalf("first consume = %v, %v", ok, err)
	}
	ok, err = s.ConsumeBackupCode(ctx, a.ID, "c2")
	if err != nil || ok {
		t.Fatalf("second consume = %v, %v", ok, err)
	}
	n, err := s.RemainingBackupCodes(ctx, a.ID)
	if err != nil || n != 2 {
		t.Fatalf("remaining = %d, %v", n, err)
	}

	if err := s.DisableMFA(ctx, a.ID); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}
	got, err := s.AccountByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if got.MFAEnabled || got.MFASecret != "" {
		t.Fatalf("mfa still set: %+v", got)
	}
	if n, _ := s.RemainingBackupCodes(ctx, a.ID); n != 0 {
		t.Fatalf("codes left after disable: %d", n)
	}
}

func TestMFAEnforcedByTenantOrGlobal(t *testing.T) {
	s, tenantID := newTestStore(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = s.SetGlobalMFAEnforced(context.Background(), false) })

	if on, err := s.MFAEnforced(ctx, tenantID); err != nil || on {
		t.Fatalf("default = %v, %v", on, err)
	}
	if err := s.SetTenantMFAEnforced(ctx, tenantID, true); err != nil {
		t.Fatalf("SetTenantMFAEnforced failed: %v", err)
	}
	if on, _ := s.MFAEnforced(ctx, tenantID); !on {
		t.Fatalf("tenant flag ignored")
	}
	if err := s.SetTenantMFAEnforced(ctx, tenantID, false); err != nil {
		t.Fatalf("SetTenantMFAEnforced failed: %v", err)
	}
	if err := s.SetGlobalMFAEnforced(ctx, true); err != nil {
		t.Fatalf("SetGlobalMFAEnforced failed: %v", err)
	}
	if on, _ := s.MFAEnforced(ctx, tenantID); !on {
		t.Fatalf("global setting ignored")
	}
	if err := s.SetTenantMFAEnforced(ctx, uuid.NewString(), true); !errors.Is(err, authcore.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestTenantLookupsAndLedger(t *testing.T) {
	s, tenantID := newTestStore(t)
	ctx := context.Background()

	tenant, err := s.TenantByID(ctx, tenantID)
	if err != nil {
		t.Fatalf("TenantByID failed: %v", err)
	}
	byDomain, err := s.TenantByDomain(ctx, tenant.Domain)
	if err != nil || byDomain.ID != tenantID {
		t.Fatalf("TenantByDomain = %+v, %v", byDomain, err)
	}
	if _, err := s.TenantByDomain(ctx, "missing-"+tenantID+".example"); !errors.Is(err, authcore.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}

	email := uuid.NewString()[:8] + "@example.com"
	for _, ok := range []bool{false, true} {
		if err := s.RecordLoginAttempt(ctx, authcore.LoginAttempt{
			Email: email, TenantID: tenantID, IPAddress: "10.0.0.1", Success: ok, CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("RecordLoginAttempt failed: %v", err)
		}
	}
	attempts, err := s.RecentLoginAttempts(ctx, email, 10)
	if err != nil {
		t.Fatalf("RecentLoginAttempts failed: %v", err)
	}
	if len(attempts) != 2 || !attempts[0].Success {
		t.Fatalf("attempts = %+v", attempts)
	}
}
