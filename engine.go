package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	internalaudit "github.com/talentx/authcore/internal/audit"
	"github.com/talentx/authcore/internal/limiters"
	"github.com/talentx/authcore/internal/stores"
	"github.com/talentx/authcore/jwt"
	"github.com/talentx/authcore/password"
	"github.com/talentx/authcore/permission"
	"github.com/talentx/authcore/refresh"
	"github.com/talentx/authcore/session"
	"github.com/talentx/authcore/totp"
)

// Engine orchestrates credential checks, lockout, MFA, token issuance and
// sessions. It holds no per-request state; every coordination point lives in
// Redis or the AccountStore, so any number of instances may share them.
type Engine struct {
	config    Config
	logger    *slog.Logger
	now       func() time.Time
	accounts  AccountStore
	mfaPolicy MFAPolicy
	notifier  Notifier
	resolver  *permission.Resolver

	hasher    password.Hasher
	dummyHash string

	jwt      *jwt.Manager
	refresh  *refresh.Store
	sessions *session.Store

	guard        *limiters.AttemptGuard
	codeGuard    *limiters.CodeGuard
	otpLimiter   *limiters.RequestLimiter
	resetLimiter *limiters.RequestLimiter

	otps       *stores.OTPStore
	resets     *stores.PasswordResetStore
	challenges *stores.MFALoginChallengeStore
	totp       *totp.Generator

	audit   *internalaudit.Dispatcher
	metrics *Metrics

	notifyWG sync.WaitGroup
}

// Close waits for in-flight email dispatches and drains the audit queue.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifyWG.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events the dispatcher dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Ping reports the Redis round trip.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	d, err := e.sessions.Ping(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return d, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

/*
====================================
LOGIN
====================================
*/

// Login checks email and password. The guard is consulted first; a locked key
// is rejected without recording another failure. Every later rejection records
// a failure. Accounts with MFA enabled get a pending challenge instead of
// tokens; see CompleteMFALogin.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	email := normalizeEmail(req.Email)
	tenantID := strings.TrimSpace(req.TenantID)
	if email == "" || req.Password == "" {
		return nil, ErrInvalidRequest
	}

	status, err := e.guard.Status(ctx, email, tenantID)
	if err != nil {
		e.logger.Warn("login guard unavailable", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if status.Locked {
		lockErr := &LockedError{RemainingMinutes: status.RemainingMinutes}
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, "", tenantID, "", lockErr, func() map[string]string {
			return map[string]string{"email": email}
		})
		return nil, lockErr
	}

	acct, err := e.lookupLoginAccount(ctx, email, tenantID)
	if errors.Is(err, ErrAccountNotFound) {
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
		return nil, e.loginFailed(ctx, email, tenantID, "", ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if acct.PasswordHash == "" {
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
		return nil, e.loginFailed(ctx, email, tenantID, acct.ID, ErrInvalidCredentials)
	}
	ok, err := e.hasher.Verify(req.Password, acct.PasswordHash)
	if err != nil {
		e.logger.Warn("stored password hash unreadable",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
	}
	if !ok {
		return nil, e.loginFailed(ctx, email, tenantID, acct.ID, ErrInvalidCredentials)
	}

	if acct.TempPasswordExpiresAt != nil && !e.now().Before(*acct.TempPasswordExpiresAt) {
		return nil, e.loginFailed(ctx, email, tenantID, acct.ID, ErrTemporaryPasswordExpired)
	}

	if acct.TenantID != "" {
		tenant, err := e.accounts.TenantByID(ctx, acct.TenantID)
		switch {
		case errors.Is(err, ErrTenantNotFound):
		case err != nil:
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		case tenant.Status != TenantActive:
			return nil, e.loginFailed(ctx, email, tenantID, acct.ID, ErrTenantNotActive)
		}
	}

	if acct.Status != StatusActive {
		e.metricInc(MetricLoginNotActive)
		return nil, e.loginFailed(ctx, email, tenantID, acct.ID, &AccountNotActiveError{Status: acct.Status})
	}

	e.upgradeHash(ctx, acct, req.Password)

	return e.gateMFA(ctx, acct, email, tenantID)
}

func (e *Engine) lookupLoginAccount(ctx context.Context, email, tenantID string) (*Account, error) {
	if tenantID != "" {
		return e.accounts.AccountByEmail(ctx, email, tenantID)
	}
	accts, err := e.accounts.AccountsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(accts) == 0 {
		return nil, ErrAccountNotFound
	}
	return &accts[0], nil
}

// loginFailed records a failure against the guard key and the ledger, then
// returns cause.
func (e *Engine) loginFailed(ctx context.Context, email, guardTenant, accountID string, cause error) error {
	if err := e.guard.RecordFailure(ctx, email, guardTenant); err != nil {
		e.logger.Warn("login failure not recorded", slog.String("error", err.Error()))
	}
	e.recordAttempt(ctx, email, guardTenant, false)
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, guardTenant, "", cause, func() map[string]string {
		return map[string]string{"email": email}
	})
	return cause
}

func (e *Engine) recordAttempt(ctx context.Context, email, tenantID string, success bool) {
	err := e.accounts.RecordLoginAttempt(ctx, LoginAttempt{
		Email:     email,
		TenantID:  tenantID,
		IPAddress: clientIPFromContext(ctx),
		Success:   success,
		CreatedAt: e.now(),
	})
	if err != nil {
		e.logger.Warn("login ledger append failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) upgradeHash(ctx context.Context, acct *Account, pw string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(acct.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.Warn("password rehash failed", slog.String("account_id", acct.ID), slog.String("error", err.Error()))
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		e.logger.Warn("password rehash not stored", slog.String("account_id", acct.ID), slog.String("error", err.Error()))
		return
	}
	acct.PasswordHash = hash
}

// completeLogin clears the guard, stamps the login, mints tokens and opens a
// session.
func (e *Engine) completeLogin(ctx context.Context, acct *Account, email, guardTenant string) (*LoginResult, error) {
	if err := e.guard.RecordSuccess(ctx, email, guardTenant); err != nil {
		e.logger.Warn("login success not recorded", slog.String("error", err.Error()))
	}
	e.recordAttempt(ctx, email, guardTenant, true)

	now := e.now()
	if err := e.accounts.SetLastLogin(ctx, acct.ID, now); err != nil {
		e.logger.Warn("last login not stored", slog.String("account_id", acct.ID), slog.String("error", err.Error()))
	} else {
		acct.LastLoginAt = &now
	}

	result, err := e.issueLogin(ctx, acct)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, acct.TenantID, result.SessionID, nil, nil)
	return result, nil
}

// issueLogin mints a token pair and opens a session for acct.
func (e *Engine) issueLogin(ctx context.Context, acct *Account) (*LoginResult, error) {
	pair, perms, err := e.mint(ctx, acct)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Create(ctx, session.CreateParams{
		AccountID: acct.ID,
		TenantID:  acct.TenantID,
		Role:      acct.Role,
		UserAgent: userAgentFromContext(ctx),
		IPAddress: clientIPFromContext(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricSessionCreated)

	return &LoginResult{
		TokenPair:             pair,
		SessionID:             sess.ID,
		SessionToken:          sess.Token,
		SessionExpiresAt:      sess.ExpiresAt,
		WarningAt:             sess.ExpiresAt.Add(-session.WarningThreshold),
		RequirePasswordChange: acct.RequirePasswordChange,
		Profile:               profileOf(acct, perms),
	}, nil
}

/*
====================================
TOKENS
====================================
*/

func (e *Engine) permissionsFor(acct *Account) []string {
	return e.resolver.Resolve(permission.Subject{
		Role:              acct.Role,
		CustomPermissions: acct.CustomPermissions,
		RolePermissions:   acct.RolePermissions,
		HasRoleDefinition: acct.RoleID != "",
	})
}

func (e *Engine) identityOf(acct *Account, perms []string) jwt.Identity {
	return jwt.Identity{
		AccountID:   acct.ID,
		Email:       acct.Email,
		FirstName:   acct.FirstName,
		LastName:    acct.LastName,
		Role:        acct.Role,
		TenantID:    acct.TenantID,
		Permissions: perms,
	}
}

// mint signs an access token and stores a fresh refresh token.
func (e *Engine) mint(ctx context.Context, acct *Account) (TokenPair, []string, error) {
	perms := e.permissionsFor(acct)
	access, accessExp, err := e.jwt.Issue(e.identityOf(acct, perms))
	if err != nil {
		return TokenPair{}, nil, err
	}
	rt, err := e.refresh.Issue(ctx, acct.ID)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     rt.Value,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rt.ExpiresAt,
	}, perms, nil
}

// Refresh consumes a refresh token and returns a new pair. The old token is
// gone whether or not the call succeeds, so a replayed token always fails.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.refresh == nil {
		return nil, ErrEngineNotReady
	}

	next, err := e.refresh.Rotate(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, refresh.ErrInvalidToken) {
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrInvalidOrExpiredToken, nil)
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	acct, err := e.accounts.AccountByID(ctx, next.AccountID)
	if err != nil || acct.Status != StatusActive {
		if rerr := e.refresh.Revoke(ctx, next.Value); rerr != nil {
			e.logger.Warn("refresh successor not revoked", slog.String("error", rerr.Error()))
		}
		e.metricInc(MetricRefreshFailure)
		if err != nil && !errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, next.AccountID, "", "", ErrInvalidOrExpiredToken, nil)
		return nil, ErrInvalidOrExpiredToken
	}

	access, accessExp, err := e.jwt.Issue(e.identityOf(acct, e.permissionsFor(acct)))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, acct.ID, acct.TenantID, "", nil, nil)
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     next.Value,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Logout revokes every refresh token and terminates every session of the
// account.
func (e *Engine) Logout(ctx context.Context, accountID string) error {
	if accountID == "" {
		return ErrUnauthorized
	}
	if err := e.revokeEverything(ctx, accountID); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, accountID, "", "", nil, nil)
	return nil
}

func (e *Engine) revokeEverything(ctx context.Context, accountID string) error {
	if _, err := e.refresh.RevokeAll(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	n, err := e.sessions.TerminateAll(ctx, accountID, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metrics.Add(MetricSessionTerminated, uint64(n))
	return nil
}

// Authenticate verifies an access token and returns what it asserts.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	if accessToken == "" {
		return Identity{}, ErrUnauthorized
	}
	claims, err := e.jwt.Parse(accessToken)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}
	return claims.Identity(), nil
}

// Me returns the profile of accountID with resolved permissions.
func (e *Engine) Me(ctx context.Context, accountID string) (*Profile, error) {
	acct, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return profileOf(acct, e.permissionsFor(acct)), nil
}

// LockoutStatus reports the guard state of an (email, tenant) key.
func (e *Engine) LockoutStatus(ctx context.Context, email, tenantID string) (LockStatus, error) {
	st, err := e.guard.Status(ctx, normalizeEmail(email), strings.TrimSpace(tenantID))
	if err != nil {
		return LockStatus{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return st, nil
}

// ClearLockout forgets every failure recorded for an (email, tenant) key.
func (e *Engine) ClearLockout(ctx context.Context, email, tenantID string) error {
	if err := e.guard.Clear(ctx, normalizeEmail(email), strings.TrimSpace(tenantID)); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func profileOf(acct *Account, perms []string) *Profile {
	if perms == nil {
		perms = []string{}
	}
	return &Profile{
		ID:                    acct.ID,
		Email:                 acct.Email,
		FirstName:             acct.FirstName,
		LastName:              acct.LastName,
		Role:                  acct.Role,
		TenantID:              acct.TenantID,
		Status:                acct.Status,
		MFAEnabled:            acct.MFAEnabled,
		RequirePasswordChange: acct.RequirePasswordChange,
		Permissions:           perms,
		LastLoginAt:           acct.LastLoginAt,
	}
}

func newOpaqueToken() string {
	return uuid.NewString()
}
