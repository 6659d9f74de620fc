package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/talentx/authcore/internal/stores"
	"github.com/talentx/authcore/password"
)

/*
====================================
PASSWORD RESET
====================================
*/

// ForgotPassword emails a reset link when the account exists and may log in.
// It returns nil whether or not an account matched; only throttling and
// backend failures surface.
func (e *Engine) ForgotPassword(ctx context.Context, email, tenantID string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidRequest
	}
	if err := e.throttle(ctx, e.resetLimiter, "password_reset", email); err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetRequest)
	acct, err := e.lookupLoginAccount(ctx, email, strings.TrimSpace(tenantID))
	if errors.Is(err, ErrAccountNotFound) {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", tenantID, "", err, func() map[string]string {
			return map[string]string{"email": email}
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if acct.Status == StatusInactive || acct.Status == StatusSuspended {
		return nil
	}

	token, _, err := e.issueResetToken(ctx, acct.ID)
	if err != nil {
		return err
	}
	e.sendPasswordReset(email, e.link(e.config.PasswordReset.LinkPath, url.Values{"token": {token}}))
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, acct.ID, acct.TenantID, "", nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	return nil
}

// issueResetToken replaces the account's live reset token with a new one.
func (e *Engine) issueResetToken(ctx context.Context, accountID string) (string, time.Time, error) {
	token := newOpaqueToken()
	expiresAt, err := e.resets.Save(ctx, accountID, token, e.config.PasswordReset.TokenTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return token, expiresAt, nil
}

// ResetPassword sets a new password with a reset token. Policy rejections
// leave the token usable; a successful reset consumes it and signs the
// account out everywhere.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrInvalidOrExpiredToken
	}

	rec, err := e.resets.Lookup(ctx, token)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		if errors.Is(err, stores.ErrResetNotFound) || errors.Is(err, stores.ErrResetExpired) {
			e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", "", ErrInvalidOrExpiredToken, nil)
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	acct, err := e.loadAccount(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	hash, err := e.checkNewPassword(ctx, acct, newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, acct.ID, acct.TenantID, "", err, nil)
		return err
	}

	if _, err := e.resets.Consume(ctx, token); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		if errors.Is(err, stores.ErrResetNotFound) || errors.Is(err, stores.ErrResetExpired) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.applyPassword(ctx, acct, hash); err != nil {
		return err
	}
	for _, scope := range []string{acct.TenantID, ""} {
		if err := e.guard.Clear(ctx, acct.Email, scope); err != nil {
			e.logger.Warn("lockout not cleared after reset", slog.String("error", err.Error()))
		}
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, acct.ID, acct.TenantID, "", nil, nil)
	return nil
}

/*
====================================
PASSWORD CHANGE
====================================
*/

// ChangePassword replaces the password of a signed-in account after checking
// the current one. Every session and refresh token of the account ends.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	ok, err := e.hasher.Verify(current, acct.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChange, false, acct.ID, acct.TenantID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.checkNewPassword(ctx, acct, next)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChange, false, acct.ID, acct.TenantID, "", err, nil)
		return err
	}
	if err := e.applyPassword(ctx, acct, hash); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, acct.ID, acct.TenantID, "", nil, nil)
	return nil
}

// checkNewPassword applies the strength rules and the reuse check, then
// returns the hash to store. A history lookup failure rejects the password.
func (e *Engine) checkNewPassword(ctx context.Context, acct *Account, pw string) (string, error) {
	if st := password.CheckStrength(pw); !st.Valid {
		return "", &WeakPasswordError{Violations: st.Errors}
	}

	history, err := e.accounts.PasswordHistory(ctx, acct.ID, password.HistoryDepth)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if password.IsReused(e.hasher, pw, acct.PasswordHash, history) {
		e.metricInc(MetricPasswordReuseRejected)
		return "", ErrPasswordReuse
	}

	return e.hasher.Hash(pw)
}

func (e *Engine) applyPassword(ctx context.Context, acct *Account, hash string) error {
	if err := e.accounts.SetPassword(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	// A reset code mailed before the change must not start another reset.
	if err := e.otps.Invalidate(ctx, string(OTPPasswordReset), acct.TenantID, acct.Email); err != nil {
		e.logger.Warn("pending reset code not invalidated",
			slog.String("account_id", acct.ID),
			slog.String("error", err.Error()),
		)
	}
	return e.revokeEverything(ctx, acct.ID)
}
