package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/talentx/authcore"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{authcore.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{authcore.ErrInvalidRole, http.StatusBadRequest, "INVALID_ROLE"},

	{authcore.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{authcore.ErrTemporaryPasswordExpired, http.StatusUnauthorized, "TEMPORARY_PASSWORD_EXPIRED"},
	{authcore.ErrOTPExpired, http.StatusUnauthorized, "OTP_EXPIRED"},
	{authcore.ErrOTPInvalid, http.StatusUnauthorized, "OTP_INVALID"},
	{authcore.ErrInvalidOrExpiredToken, http.StatusUnauthorized, "INVALID_OR_EXPIRED_TOKEN"},
	{authcore.ErrTooManyOTPAttempts, http.StatusUnauthorized, "TOO_MANY_OTP_ATTEMPTS"},
	{authcore.ErrInvalidMFACode, http.StatusUnauthorized, "INVALID_MFA_CODE"},
	{authcore.ErrMFAAttemptsExceeded, http.StatusUnauthorized, "MFA_ATTEMPTS_EXCEEDED"},
	{authcore.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},

	{authcore.ErrAccountNotActive, http.StatusForbidden, "ACCOUNT_NOT_ACTIVE"},
	{authcore.ErrTenantNotActive, http.StatusForbidden, "TENANT_NOT_ACTIVE"},
	{authcore.ErrRegistrationClosed, http.StatusForbidden, "REGISTRATION_CLOSED"},
	{authcore.ErrMFARequired, http.StatusForbidden, "MFA_REQUIRED"},

	{authcore.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
	{authcore.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
	{authcore.ErrTenantNotFound, http.StatusNotFound, "TENANT_NOT_FOUND"},
	{authcore.ErrTenantUnresolved, http.StatusNotFound, "TENANT_UNRESOLVED"},

	{authcore.ErrAccountExists, http.StatusConflict, "ACCOUNT_EXISTS"},
	{authcore.ErrMFAAlreadyEnabled, http.StatusConflict, "MFA_ALREADY_ENABLED"},
	{authcore.ErrMFANotEnabled, http.StatusConflict, "MFA_NOT_ENABLED"},
	{authcore.ErrMFASetupNotStarted, http.StatusConflict, "MFA_SETUP_NOT_STARTED"},

	{authcore.ErrWeakPassword, http.StatusUnprocessableEntity, "WEAK_PASSWORD"},
	{authcore.ErrPasswordReuse, http.StatusUnprocessableEntity, "PASSWORD_REUSE"},

	{authcore.ErrAccountLocked, http.StatusLocked, "ACCOUNT_LOCKED"},
	{authcore.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},

	{authcore.ErrBackendUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	{authcore.ErrEngineNotReady, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
}

// StatusOf returns the HTTP status and error code for err.
func StatusOf(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// WriteError aborts the request with the JSON form of err. Backend details are
// logged, never returned.
func WriteError(c *gin.Context, err error) {
	status, code := StatusOf(err)
	body := gin.H{"error": code, "message": err.Error()}

	var locked *authcore.LockedError
	if errors.As(err, &locked) {
		body["remainingMinutes"] = locked.RemainingMinutes
	}
	var weak *authcore.WeakPasswordError
	if errors.As(err, &weak) {
		body["violations"] = weak.Violations
	}
	var inactive *authcore.AccountNotActiveError
	if errors.As(err, &inactive) {
		body["status"] = inactive.Status
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		body["message"] = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
}
