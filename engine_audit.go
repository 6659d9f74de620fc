package authcore

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginLocked           = "login_locked"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventLogout                = "logout"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFAAttemptsExceeded   = "mfa_attempts_exceeded"
	auditEventMFASetupRequested     = "mfa_setup_requested"
	auditEventMFAEnabled            = "mfa_enabled"
	auditEventMFADisabled           = "mfa_disabled"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventOTPRequest            = "otp_request"
	auditEventOTPVerify             = "otp_verify"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventPasswordChange        = "password_change"
	auditEventAccountRegistered     = "account_registered"
	auditEventAccountInvited        = "account_invited"
	auditEventAccountActivated      = "account_activated"
	auditEventTenantProvisioned     = "tenant_provisioned"
	auditEventSessionTerminated     = "session_terminated"
	auditEventSessionsTerminatedAll = "sessions_terminated_all"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountNotActive   AuditErrorCode = "account_not_active"
	auditErrTenantNotActive    AuditErrorCode = "tenant_not_active"
	auditErrTempPassword       AuditErrorCode = "temporary_password_expired"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrMFAState           AuditErrorCode = "mfa_state"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrInvalidRequest     AuditErrorCode = "invalid_request"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	tenantID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if email, ok := metadata["email"]; ok {
		event.Email = email
		delete(metadata, "email")
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, email string) {
	e.metricInc(MetricRateLimited)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope": scope,
			"email": email,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountNotActive):
		return auditErrAccountNotActive
	case errors.Is(err, ErrTenantNotActive):
		return auditErrTenantNotActive
	case errors.Is(err, ErrTemporaryPasswordExpired):
		return auditErrTempPassword
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTooManyOTPAttempts),
		errors.Is(err, ErrMFAAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidMFACode):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFAAlreadyEnabled),
		errors.Is(err, ErrMFANotEnabled),
		errors.Is(err, ErrMFASetupNotStarted),
		errors.Is(err, ErrMFARequired):
		return auditErrMFAState
	case errors.Is(err, ErrWeakPassword):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrTenantNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrTenantUnresolved):
		return auditErrNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidRole),
		errors.Is(err, ErrRegistrationClosed):
		return auditErrInvalidRequest
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
