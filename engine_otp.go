package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentx/authcore/internal/limiters"
	"github.com/talentx/authcore/internal/stores"
)

/*
====================================
EMAIL CODES
====================================
*/

// RequestOTP issues a fresh code for (type, tenant, email) and emails it. Any
// earlier unused code for the same key stops working. Without a TenantID the
// tenant of the oldest account for the email is used.
func (e *Engine) RequestOTP(ctx context.Context, req OTPRequest) (*OTPRequestResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || !req.Type.Valid() {
		return nil, ErrInvalidRequest
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		accts, err := e.accounts.AccountsByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if len(accts) == 0 {
			return nil, ErrTenantUnresolved
		}
		tenantID = accts[0].TenantID
	}

	if err := e.throttle(ctx, e.otpLimiter, "otp", email); err != nil {
		return nil, err
	}

	code, err := numericCode(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}
	rec, err := e.otps.Issue(ctx, string(req.Type), tenantID, email, code, e.config.OTP.TTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.sendOTP(email, code)
	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, auditEventOTPRequest, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{"email": email, "type": string(req.Type)}
	})

	out := &OTPRequestResult{
		TenantID:  tenantID,
		ExpiresAt: time.UnixMilli(rec.ExpiresAt),
	}
	if !e.config.IsProduction() {
		out.Code = code
	}
	return out, nil
}

// VerifyOTP checks a code and performs what its type proves. Without a
// TenantID the most recently issued code for (type, email) is checked.
func (e *Engine) VerifyOTP(ctx context.Context, req OTPVerification) (*OTPVerifyResult, error) {
	email := normalizeEmail(req.Email)
	code := strings.TrimSpace(req.Code)
	if email == "" || code == "" || !req.Type.Valid() {
		return nil, ErrInvalidRequest
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		latest, err := e.otps.Latest(ctx, string(req.Type), email)
		if err != nil {
			if errors.Is(err, stores.ErrOTPNotFound) {
				return nil, e.otpFailed(ctx, email, req.Type, ErrOTPInvalid)
			}
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		tenantID = latest
	}

	err := e.otps.Verify(ctx, string(req.Type), tenantID, email, code, e.config.OTP.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrOTPExpired):
		return nil, e.otpFailed(ctx, email, req.Type, ErrOTPExpired)
	case errors.Is(err, stores.ErrOTPAttemptsExceeded):
		return nil, e.otpFailed(ctx, email, req.Type, ErrTooManyOTPAttempts)
	case errors.Is(err, stores.ErrOTPMismatch), errors.Is(err, stores.ErrOTPNotFound):
		return nil, e.otpFailed(ctx, email, req.Type, ErrOTPInvalid)
	default:
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricOTPVerified)
	e.emitAudit(ctx, auditEventOTPVerify, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{"email": email, "type": string(req.Type)}
	})

	out := &OTPVerifyResult{Verified: true, Type: req.Type}
	switch req.Type {
	case OTPLogin:
		acct, created, err := e.provisionOTPAccount(ctx, email, tenantID)
		if err != nil {
			return nil, err
		}
		out.AccountCreated = created
		login, err := e.otpLogin(ctx, acct, email, tenantID)
		if err != nil {
			return nil, err
		}
		out.Login = login

	case OTPEmailVerify:
		acct, err := e.accountByEmail(ctx, email, tenantID)
		if err != nil {
			return nil, err
		}
		if err := e.activatePending(ctx, acct); err != nil {
			return nil, err
		}

	case OTPPasswordReset:
		acct, err := e.accountByEmail(ctx, email, tenantID)
		if err != nil {
			return nil, err
		}
		token, expiresAt, err := e.issueResetToken(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		out.ResetToken = token
		out.ResetExpiresAt = expiresAt
	}
	return out, nil
}

func (e *Engine) otpFailed(ctx context.Context, email string, typ OTPType, cause error) error {
	e.metricInc(MetricOTPFailed)
	e.emitAudit(ctx, auditEventOTPVerify, false, "", "", "", cause, func() map[string]string {
		return map[string]string{"email": email, "type": string(typ)}
	})
	return cause
}

// otpLogin applies the account state checks of a password login. The MFA
// gate is the same as for passwords.
func (e *Engine) otpLogin(ctx context.Context, acct *Account, email, tenantID string) (*LoginResult, error) {
	switch acct.Status {
	case StatusActive:
	case StatusPending:
		// Receiving the code proves the mailbox.
		if err := e.activatePending(ctx, acct); err != nil {
			return nil, err
		}
	default:
		e.metricInc(MetricLoginNotActive)
		return nil, &AccountNotActiveError{Status: acct.Status}
	}

	return e.gateMFA(ctx, acct, email, tenantID)
}

// provisionOTPAccount finds the account for (email, tenant) or creates an
// external one. A tenant that no longer exists is recreated under a new id
// derived from the email domain.
func (e *Engine) provisionOTPAccount(ctx context.Context, email, tenantID string) (*Account, bool, error) {
	acct, err := e.accounts.AccountByEmail(ctx, email, tenantID)
	if err == nil {
		return acct, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	tenant, err := e.accounts.TenantByID(ctx, tenantID)
	switch {
	case errors.Is(err, ErrTenantNotFound):
		domain := emailDomain(email)
		tenant, err = e.createTenant(ctx, Tenant{
			ID:     uuid.NewString(),
			Name:   "New Organization",
			Slug:   slugify(domain) + "-" + uuid.NewString()[:8],
			Domain: domain,
			Status: TenantActive,
		})
		if err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	case tenant.Status != TenantActive:
		return nil, false, ErrTenantNotActive
	}

	acct, err = e.accounts.CreateAccount(ctx, NewAccount{
		Email:     email,
		TenantID:  tenant.ID,
		FirstName: emailLocalPart(email),
		Role:      e.config.Registration.ExternalRole,
		Status:    StatusActive,
	})
	if errors.Is(err, ErrAccountExists) {
		// Lost a race with a concurrent verify for the same email.
		acct, err = e.accounts.AccountByEmail(ctx, email, tenant.ID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return acct, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricOTPAccountProvisioned)
	e.emitAudit(ctx, auditEventAccountRegistered, true, acct.ID, acct.TenantID, "", nil, func() map[string]string {
		return map[string]string{"email": email, "source": "otp_login"}
	})
	return acct, true, nil
}

func (e *Engine) accountByEmail(ctx context.Context, email, tenantID string) (*Account, error) {
	acct, err := e.accounts.AccountByEmail(ctx, email, tenantID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return acct, nil
}

// activatePending moves a PENDING account to ACTIVE. Deactivated and
// suspended accounts are left alone.
func (e *Engine) activatePending(ctx context.Context, acct *Account) error {
	if acct.Status != StatusPending {
		return nil
	}
	if err := e.accounts.SetAccountStatus(ctx, acct.ID, StatusActive); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	acct.Status = StatusActive
	e.emitAudit(ctx, auditEventAccountActivated, true, acct.ID, acct.TenantID, "", nil, nil)
	return nil
}

// throttle spends one unit of the per-email and per-IP request budgets.
func (e *Engine) throttle(ctx context.Context, l *limiters.RequestLimiter, scope, email string) error {
	err := l.Allow(ctx, email, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRequestThrottled):
		e.emitRateLimit(ctx, scope, email)
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// numericCode draws each digit independently from crypto/rand.
func numericCode(digits int) (string, error) {
	ten := big.NewInt(10)
	var b strings.Builder
	b.Grow(digits)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
