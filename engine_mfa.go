package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talentx/authcore/internal/limiters"
	"github.com/talentx/authcore/totp"
)

func (e *Engine) loadAccount(ctx context.Context, accountID string) (*Account, error) {
	if accountID == "" {
		return nil, ErrUnauthorized
	}
	acct, err := e.accounts.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return acct, nil
}

// SetupMFA starts TOTP enrollment. A fresh secret replaces any pending one;
// MFA stays off until ConfirmMFA proves the authenticator works.
func (e *Engine) SetupMFA(ctx context.Context, accountID string) (*MFASetup, error) {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	_, secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.accounts.SetMFASecret(ctx, acct.ID, secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	cfg := e.totp.Config()
	uri := totp.KeyURI(e.config.TOTP.Issuer, acct.Email, secret, cfg)
	qr, err := totp.QRCodeDataURL(uri, e.config.TOTP.QRCodeSize)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventMFASetupRequested, true, acct.ID, acct.TenantID, "", nil, nil)

	return &MFASetup{
		Secret:  secret,
		URI:     uri,
		QRCode:  qr,
		Issuer:  e.config.TOTP.Issuer,
		Account: acct.Email,
		Digits:  cfg.Digits,
		Period:  cfg.Period,
	}, nil
}

// ConfirmMFA enables MFA once code matches the pending secret and returns the
// backup codes in clear. They are never retrievable again. A wrong code
// leaves the pending setup untouched so the user can retry.
func (e *Engine) ConfirmMFA(ctx context.Context, accountID, code string) ([]string, error) {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}
	if acct.MFASecret == "" {
		return nil, ErrMFASetupNotStarted
	}
	if !e.verifyTOTP(acct, code, e.now()) {
		e.emitAudit(ctx, auditEventMFAFailure, false, acct.ID, acct.TenantID, "", ErrInvalidMFACode, nil)
		return nil, ErrInvalidMFACode
	}

	codes, err := totp.GenerateBackupCodes(e.config.TOTP.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = totp.HashBackupCode(acct.ID, c)
	}
	if err := e.accounts.EnableMFA(ctx, acct.ID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, auditEventMFAEnabled, true, acct.ID, acct.TenantID, "", nil, nil)
	return codes, nil
}

// VerifyMFA checks a TOTP code, then falls back to consuming a backup code.
// A wrong code returns false; the one that exhausts the per-account budget
// returns ErrMFAAttemptsExceeded instead.
func (e *Engine) VerifyMFA(ctx context.Context, accountID, code string) (bool, error) {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !acct.MFAEnabled {
		return false, ErrMFANotEnabled
	}
	if err := e.checkCodeGuard(ctx, acct); err != nil {
		return false, err
	}
	ok, err := e.verifySecondFactor(ctx, acct, code)
	if err != nil {
		return false, err
	}
	if !ok {
		if err := e.codeFailed(ctx, acct); errors.Is(err, ErrMFAAttemptsExceeded) {
			return false, err
		}
		return false, nil
	}
	e.resetCodeGuard(ctx, acct)
	return true, nil
}

// DisableMFA needs both the password and a current second factor. Any lookup
// or verify failure keeps MFA on.
func (e *Engine) DisableMFA(ctx context.Context, accountID, pw, code string) error {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !acct.MFAEnabled {
		return ErrMFANotEnabled
	}
	if acct.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	ok, err := e.hasher.Verify(pw, acct.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventMFADisabled, false, acct.ID, acct.TenantID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if err := e.checkCodeGuard(ctx, acct); err != nil {
		return err
	}
	ok, err = e.verifySecondFactor(ctx, acct, code)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventMFADisabled, false, acct.ID, acct.TenantID, "", ErrInvalidMFACode, nil)
		return e.codeFailed(ctx, acct)
	}
	e.resetCodeGuard(ctx, acct)

	if err := e.accounts.DisableMFA(ctx, acct.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, acct.ID, acct.TenantID, "", nil, nil)
	return nil
}

// mfaRequiredFor is true when the account opted in, its role is in
// TOTP.RequiredRoles, or its tenant enforces MFA. A policy error comes back
// wrapped in ErrBackendUnavailable.
func (e *Engine) mfaRequiredFor(ctx context.Context, acct *Account) (bool, error) {
	if acct.MFAEnabled {
		return true, nil
	}
	for _, r := range e.config.TOTP.RequiredRoles {
		if r == acct.Role {
			return true, nil
		}
	}
	if e.mfaPolicy == nil || acct.TenantID == "" {
		return false, nil
	}
	enforced, err := e.mfaPolicy.MFAEnforced(ctx, acct.TenantID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return enforced, nil
}

func (e *Engine) IsMFARequired(ctx context.Context, accountID string) (bool, error) {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return e.mfaRequiredFor(ctx, acct)
}

// IsMFASetupRequired reports whether MFA is required but not yet enabled.
func (e *Engine) IsMFASetupRequired(ctx context.Context, accountID string) (bool, error) {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if acct.MFAEnabled {
		return false, nil
	}
	return e.mfaRequiredFor(ctx, acct)
}

func (e *Engine) MFAStatus(ctx context.Context, accountID string) (*MFAStatus, error) {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	required, err := e.mfaRequiredFor(ctx, acct)
	if err != nil {
		return nil, err
	}

	st := &MFAStatus{
		Enabled:       acct.MFAEnabled,
		Required:      required,
		SetupRequired: required && !acct.MFAEnabled,
		SetupPending:  !acct.MFAEnabled && acct.MFASecret != "",
	}
	if acct.MFAEnabled {
		n, err := e.accounts.RemainingBackupCodes(ctx, acct.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		st.BackupCodesRemaining = n
	}
	return st, nil
}

/*
====================================
WRONG CODE GUARD
====================================
*/

func (e *Engine) checkCodeGuard(ctx context.Context, acct *Account) error {
	err := e.codeGuard.Check(ctx, acct.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrCodeAttemptsExceeded):
		return ErrMFAAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// codeFailed records a wrong code and returns the error the caller reports.
func (e *Engine) codeFailed(ctx context.Context, acct *Account) error {
	err := e.codeGuard.RecordFailure(ctx, acct.ID)
	switch {
	case errors.Is(err, limiters.ErrCodeAttemptsExceeded):
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, acct.ID, acct.TenantID, "", ErrMFAAttemptsExceeded, nil)
		return ErrMFAAttemptsExceeded
	case err != nil:
		e.logger.Warn("mfa code failure not recorded",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
	}
	e.emitAudit(ctx, auditEventMFAFailure, false, acct.ID, acct.TenantID, "", ErrInvalidMFACode, nil)
	return ErrInvalidMFACode
}

func (e *Engine) resetCodeGuard(ctx context.Context, acct *Account) {
	if err := e.codeGuard.Reset(ctx, acct.ID); err != nil {
		e.logger.Warn("mfa code guard not reset",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
	}
}
