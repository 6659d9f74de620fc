// Package memory is an in-process [authcore.AccountStore] for tests and local
// development. Data lives only as long as the Store value.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talentx/authcore"
)

type backupCode struct {
	hash string
	used bool
}

// Store implements authcore.AccountStore and authcore.MFAPolicy.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*authcore.Account
	tenants  map[string]*authcore.Tenant
	history  map[string][]string
	backup   map[string][]backupCode
	attempts []authcore.LoginAttempt

	enforced map[string]bool
	global   bool

	now func() time.Time
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*authcore.Account),
		tenants:  make(map[string]*authcore.Tenant),
		history:  make(map[string][]string),
		backup:   make(map[string][]backupCode),
		enforced: make(map[string]bool),
		now:      time.Now,
	}
}

// WithClock sets the clock used for CreatedAt stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func clone(a *authcore.Account) *authcore.Account {
	c := *a
	c.RolePermissions = append([]string(nil), a.RolePermissions...)
	c.CustomPermissions = append([]string(nil), a.CustomPermissions...)
	if a.TempPasswordExpiresAt != nil {
		t := *a.TempPasswordExpiresAt
		c.TempPasswordExpiresAt = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// PutAccount inserts or replaces a full account record.
func (s *Store) PutAccount(a authcore.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.Email = strings.ToLower(a.Email)
	s.accounts[a.ID] = clone(&a)
}

// PutTenant inserts or replaces a tenant.
func (s *Store) PutTenant(t authcore.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := t
	s.tenants[t.ID] = &c
}

// SetTenantMFAEnforced toggles MFA enforcement for one tenant.
func (s *Store) SetTenantMFAEnforced(tenantID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enforced[tenantID] = on
}

// SetGlobalMFAEnforced toggles MFA enforcement for every tenant.
func (s *Store) SetGlobalMFAEnforced(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = on
}

// LoginAttempts returns a copy of the ledger, oldest first.
func (s *Store) LoginAttempts() []authcore.LoginAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]authcore.LoginAttempt(nil), s.attempts...)
}

func (s *Store) AccountByID(_ context.Context, accountID string) (*authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	return clone(a), nil
}

func (s *Store) AccountByEmail(_ context.Context, email, tenantID string) (*authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, a := range s.accounts {
		if a.Email == email && a.TenantID == tenantID {
			return clone(a), nil
		}
	}
	return nil, authcore.ErrAccountNotFound
}

func (s *Store) AccountsByEmail(_ context.Context, email string) ([]authcore.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	var out []authcore.Account
	for _, a := range s.accounts {
		if a.Email == email {
			out = append(out, *clone(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateAccount(_ context.Context, in authcore.NewAccount) (*authcore.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(in.Email)
	for _, a := range s.accounts {
		if a.Email == email && a.TenantID == in.TenantID {
			return nil, authcore.ErrAccountExists
		}
	}
	a := &authcore.Account{
		ID:                    uuid.NewString(),
		Email:                 email,
		TenantID:              in.TenantID,
		PasswordHash:          in.PasswordHash,
		FirstName:             in.FirstName,
		LastName:              in.LastName,
		Role:                  in.Role,
		Status:                in.Status,
		RequirePasswordChange: in.RequirePasswordChange,
		TempPasswordExpiresAt: in.TempPasswordExpiresAt,
		CreatedAt:             s.now(),
	}
	s.accounts[a.ID] = a
	return clone(a), nil
}

func (s *Store) update(accountID string, fn func(a *authcore.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	fn(a)
	return nil
}

func (s *Store) SetAccountStatus(_ context.Context, accountID string, status authcore.AccountStatus) error {
	return s.update(accountID, func(a *authcore.Account) { a.Status = status })
}

func (s *Store) SetLastLogin(_ context.Context, accountID string, at time.Time) error {
	return s.update(accountID, func(a *authcore.Account) { a.LastLoginAt = &at })
}

func (s *Store) UpdatePasswordHash(_ context.Context, accountID, hash string) error {
	return s.update(accountID, func(a *authcore.Account) { a.PasswordHash = hash })
}

func (s *Store) SetPassword(_ context.Context, accountID, hash string) error {
	return s.update(accountID, func(a *authcore.Account) {
		if a.PasswordHash != "" {
			s.history[accountID] = append([]string{a.PasswordHash}, s.history[accountID]...)
		}
		a.PasswordHash = hash
		a.RequirePasswordChange = false
		a.TempPasswordExpiresAt = nil
	})
}

// PasswordHistory returns previous hashes, newest first. The current hash is
// not part of the history.
func (s *Store) PasswordHistory(_ context.Context, accountID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[accountID]
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}
	return append([]string(nil), h...), nil
}

func (s *Store) SetMFASecret(_ context.Context, accountID, secret string) error {
	return s.update(accountID, func(a *authcore.Account) { a.MFASecret = secret })
}

func (s *Store) EnableMFA(_ context.Context, accountID string, hashes []string) error {
	return s.update(accountID, func(a *authcore.Account) {
		a.MFAEnabled = true
		codes := make([]backupCode, len(hashes))
		for i, h := range hashes {
			codes[i] = backupCode{hash: h}
		}
		s.backup[accountID] = codes
	})
}

func (s *Store) DisableMFA(_ context.Context, accountID string) error {
	return s.update(accountID, func(a *authcore.Account) {
		a.MFAEnabled = false
		a.MFASecret = ""
		delete(s.backup, accountID)
	})
}

func (s *Store) ConsumeBackupCode(_ context.Context, accountID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backup[accountID]
	for i := range codes {
		if !codes[i].used && codes[i].hash == codeHash {
			codes[i].used = true
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) RemainingBackupCodes(_ context.Context, accountID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.backup[accountID] {
		if !c.used {
			n++
		}
	}
	return n, nil
}

func (s *Store) TenantByID(_ context.Context, tenantID string) (*authcore.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, authcore.ErrTenantNotFound
	}
	c := *t
	return &c, nil
}

func (s *Store) TenantByDomain(_ context.Context, domain string) (*authcore.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if strings.EqualFold(t.Domain, domain) {
			c := *t
			return &c, nil
		}
	}
	return nil, authcore.ErrTenantNotFound
}

func (s *Store) CreateTenant(_ context.Context, t authcore.Tenant) (*authcore.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	c := t
	s.tenants[t.ID] = &c
	return &t, nil
}

func (s *Store) RecordLoginAttempt(_ context.Context, a authcore.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

// MFAEnforced is true when enforcement is on globally or for tenantID.
func (s *Store) MFAEnforced(_ context.Context, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global || s.enforced[tenantID], nil
}

var (
	_ authcore.AccountStore = (*Store)(nil)
	_ authcore.MFAPolicy    = (*Store)(nil)
)
