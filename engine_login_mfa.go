package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/talentx/authcore/internal/stores"
	"github.com/talentx/authcore/totp"
)

// gateMFA routes a verified login. An enrolled account owes a code; an account
// that must have MFA but never enrolled owes an enrollment; anyone else gets
// tokens and a session. A failed policy lookup fails the login.
func (e *Engine) gateMFA(ctx context.Context, acct *Account, email, guardTenant string) (*LoginResult, error) {
	if acct.MFAEnabled {
		return e.beginMFALogin(ctx, acct, email, guardTenant, false)
	}
	required, err := e.mfaRequiredFor(ctx, acct)
	if err != nil {
		e.logger.Warn("mfa policy lookup failed",
			slog.String("tenant_id", acct.TenantID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if required {
		return e.beginMFALogin(ctx, acct, email, guardTenant, true)
	}
	return e.completeLogin(ctx, acct, email, guardTenant)
}

// beginMFALogin parks a password-verified login behind a challenge. Nothing is
// minted until CompleteMFALogin or ConfirmMFAEnrollment succeeds.
func (e *Engine) beginMFALogin(ctx context.Context, acct *Account, email, guardTenant string, enroll bool) (*LoginResult, error) {
	challengeID := newOpaqueToken()
	expiresAt := e.now().Add(e.config.TOTP.LoginChallengeTTL)

	err := e.challenges.Save(ctx, challengeID, &stores.MFALoginChallenge{
		AccountID: acct.ID,
		TenantID:  guardTenant,
		Email:     email,
		UserAgent: userAgentFromContext(ctx),
		IPAddress: clientIPFromContext(ctx),
		ExpiresAt: expiresAt.UnixMilli(),
		Enroll:    enroll,
	}, e.config.TOTP.LoginChallengeTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricMFALoginRequired)
	e.emitAudit(ctx, auditEventMFARequired, true, acct.ID, acct.TenantID, "", nil, nil)

	return &LoginResult{
		RequiresMFA:           true,
		MFAToken:              challengeID,
		MFAExpiresAt:          expiresAt,
		RequirePasswordChange: acct.RequirePasswordChange,
		MFASetupRequired:      enroll,
	}, nil
}

// CompleteMFALogin finishes a login that returned RequiresMFA. code may be a
// TOTP code or an unused backup code. Each wrong code counts against both the
// challenge and the login guard; the challenge dies after
// TOTP.LoginChallengeMaxAttempts failures.
func (e *Engine) CompleteMFALogin(ctx context.Context, mfaToken, code string) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if mfaToken == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	ch, err := e.challenges.Get(ctx, mfaToken)
	if err != nil {
		if errors.Is(err, stores.ErrMFALoginChallengeNotFound) || errors.Is(err, stores.ErrMFALoginChallengeExpired) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if ch.Enroll {
		return nil, ErrMFARequired
	}

	acct, err := e.accounts.AccountByID(ctx, ch.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			_, _ = e.challenges.Delete(ctx, mfaToken)
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if acct.Status != StatusActive {
		_, _ = e.challenges.Delete(ctx, mfaToken)
		return nil, &AccountNotActiveError{Status: acct.Status}
	}
	if !acct.MFAEnabled {
		_, _ = e.challenges.Delete(ctx, mfaToken)
		return nil, ErrInvalidOrExpiredToken
	}

	ok, err := e.verifySecondFactor(ctx, acct, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.mfaLoginFailed(ctx, mfaToken, ch, acct)
	}

	owned, err := e.challenges.Delete(ctx, mfaToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !owned {
		return nil, ErrInvalidOrExpiredToken
	}

	ctx = challengeContext(ctx, ch)
	result, err := e.completeLogin(ctx, acct, ch.Email, ch.TenantID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricMFALoginSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, acct.ID, acct.TenantID, result.SessionID, nil, nil)
	return result, nil
}

// challengeContext fills in the client details captured with the password
// step when the completing request lacks them.
func challengeContext(ctx context.Context, ch *stores.MFALoginChallenge) context.Context {
	if userAgentFromContext(ctx) == "" && ch.UserAgent != "" {
		ctx = WithUserAgent(ctx, ch.UserAgent)
	}
	if clientIPFromContext(ctx) == "" && ch.IPAddress != "" {
		ctx = WithClientIP(ctx, ch.IPAddress)
	}
	return ctx
}

/*
====================================
ENROLLMENT DURING LOGIN
====================================
*/

// enrollmentChallenge loads an enrollment challenge and its account. Plain
// second-factor challenges are refused.
func (e *Engine) enrollmentChallenge(ctx context.Context, mfaToken string) (*stores.MFALoginChallenge, *Account, error) {
	if e == nil || e.challenges == nil {
		return nil, nil, ErrEngineNotReady
	}
	if mfaToken == "" {
		return nil, nil, ErrInvalidOrExpiredToken
	}
	ch, err := e.challenges.Get(ctx, mfaToken)
	if err != nil {
		if errors.Is(err, stores.ErrMFALoginChallengeNotFound) || errors.Is(err, stores.ErrMFALoginChallengeExpired) {
			return nil, nil, ErrInvalidOrExpiredToken
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !ch.Enroll {
		return nil, nil, ErrInvalidOrExpiredToken
	}

	acct, err := e.accounts.AccountByID(ctx, ch.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			_, _ = e.challenges.Delete(ctx, mfaToken)
			return nil, nil, ErrInvalidOrExpiredToken
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if acct.Status != StatusActive {
		_, _ = e.challenges.Delete(ctx, mfaToken)
		return nil, nil, &AccountNotActiveError{Status: acct.Status}
	}
	return ch, acct, nil
}

// SetupMFAEnrollment starts TOTP enrollment for a login that returned
// RequiresMFA with MFASetupRequired. The challenge stays valid for
// ConfirmMFAEnrollment.
func (e *Engine) SetupMFAEnrollment(ctx context.Context, mfaToken string) (*MFASetup, error) {
	_, acct, err := e.enrollmentChallenge(ctx, mfaToken)
	if err != nil {
		return nil, err
	}
	return e.SetupMFA(ctx, acct.ID)
}

// ConfirmMFAEnrollment enables MFA with the first authenticator code and
// finishes the parked login. Wrong codes count against the challenge.
func (e *Engine) ConfirmMFAEnrollment(ctx context.Context, mfaToken, code string) (*MFAEnrollment, error) {
	ch, acct, err := e.enrollmentChallenge(ctx, mfaToken)
	if err != nil {
		return nil, err
	}

	codes, err := e.ConfirmMFA(ctx, acct.ID, code)
	if errors.Is(err, ErrInvalidMFACode) {
		exceeded, ferr := e.challenges.RecordFailure(ctx, mfaToken, e.config.TOTP.LoginChallengeMaxAttempts)
		switch {
		case errors.Is(ferr, stores.ErrMFALoginChallengeNotFound), errors.Is(ferr, stores.ErrMFALoginChallengeExpired):
			return nil, ErrInvalidOrExpiredToken
		case ferr != nil:
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, ferr)
		case exceeded:
			e.metricInc(MetricMFALoginAttemptsExceeded)
			return nil, ErrMFAAttemptsExceeded
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	owned, err := e.challenges.Delete(ctx, mfaToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !owned {
		return nil, ErrInvalidOrExpiredToken
	}

	acct.MFAEnabled = true
	result, err := e.completeLogin(challengeContext(ctx, ch), acct, ch.Email, ch.TenantID)
	if err != nil {
		return nil, err
	}
	return &MFAEnrollment{LoginResult: *result, BackupCodes: codes}, nil
}

func (e *Engine) mfaLoginFailed(ctx context.Context, mfaToken string, ch *stores.MFALoginChallenge, acct *Account) error {
	if err := e.guard.RecordFailure(ctx, ch.Email, ch.TenantID); err != nil {
		e.logger.Warn("mfa failure not recorded", slog.String("error", err.Error()))
	}
	e.recordAttempt(ctx, ch.Email, ch.TenantID, false)
	e.metricInc(MetricMFALoginFailure)

	exceeded, err := e.challenges.RecordFailure(ctx, mfaToken, e.config.TOTP.LoginChallengeMaxAttempts)
	switch {
	case errors.Is(err, stores.ErrMFALoginChallengeNotFound), errors.Is(err, stores.ErrMFALoginChallengeExpired):
		return ErrInvalidOrExpiredToken
	case err != nil:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	case exceeded:
		e.metricInc(MetricMFALoginAttemptsExceeded)
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, acct.ID, acct.TenantID, "", ErrMFAAttemptsExceeded, nil)
		return ErrMFAAttemptsExceeded
	}

	e.emitAudit(ctx, auditEventMFAFailure, false, acct.ID, acct.TenantID, "", ErrInvalidMFACode, nil)
	return ErrInvalidMFACode
}

// verifySecondFactor accepts a TOTP code for the current window or consumes
// one backup code. A consumed backup code can never be used again.
func (e *Engine) verifySecondFactor(ctx context.Context, acct *Account, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	if e.verifyTOTP(acct, code, e.now()) {
		return true, nil
	}

	if !totp.IsBackupCodeShape(code) {
		return false, nil
	}
	used, err := e.accounts.ConsumeBackupCode(ctx, acct.ID, totp.HashBackupCode(acct.ID, code))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if used {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, acct.ID, acct.TenantID, "", nil, nil)
	}
	return used, nil
}

func (e *Engine) verifyTOTP(acct *Account, code string, now time.Time) bool {
	if acct.MFASecret == "" {
		return false
	}
	ok, err := e.totp.VerifyBase32(acct.MFASecret, code, now)
	return err == nil && ok
}
