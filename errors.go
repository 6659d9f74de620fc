package authcore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized is returned for missing or invalid bearer credentials and
	// for sessions that no longer exist.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is the generic login failure. It never says which
	// of email or password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is wrapped by [*LockedError].
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountNotActive is wrapped by [*AccountNotActiveError].
	ErrAccountNotActive = errors.New("account not active")
	ErrTenantNotActive  = errors.New("tenant not active")
	// ErrTemporaryPasswordExpired is returned when an invited account logs in
	// after its temporary password lapsed.
	ErrTemporaryPasswordExpired = errors.New("temporary password expired")

	// ErrInvalidOrExpiredToken covers refresh tokens, reset tokens, MFA
	// challenges and OTP codes.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrOTPExpired            = fmt.Errorf("%w: otp expired", ErrInvalidOrExpiredToken)
	ErrOTPInvalid            = fmt.Errorf("%w: invalid otp", ErrInvalidOrExpiredToken)
	ErrTooManyOTPAttempts    = errors.New("too many otp attempts")

	ErrMFARequired         = errors.New("mfa required")
	ErrInvalidMFACode      = errors.New("invalid mfa code")
	ErrMFAAlreadyEnabled   = errors.New("mfa already enabled")
	ErrMFANotEnabled       = errors.New("mfa not enabled")
	ErrMFASetupNotStarted  = errors.New("mfa setup not started")
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")

	// ErrWeakPassword is wrapped by [*WeakPasswordError].
	ErrWeakPassword  = errors.New("weak password")
	ErrPasswordReuse = errors.New("password was used recently")

	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrTenantUnresolved   = errors.New("tenant could not be resolved")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRegistrationClosed = errors.New("registration disabled")
	ErrSessionNotFound    = errors.New("session not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrBackendUnavailable = errors.New("auth backend unavailable")
	ErrEngineNotReady     = errors.New("engine not initialized")
)

// LockedError is returned while a login key is locked out.
type LockedError struct {
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %d minute(s)", e.RemainingMinutes)
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// AccountNotActiveError carries the status that blocked the login.
type AccountNotActiveError struct {
	Status AccountStatus
}

func (e *AccountNotActiveError) Error() string {
	switch e.Status {
	case StatusPending:
		return "account not active: email not verified"
	case StatusInactive:
		return "account not active: deactivated"
	case StatusSuspended:
		return "account not active: suspended"
	default:
		return "account not active: " + strings.ToLower(string(e.Status))
	}
}

func (e *AccountNotActiveError) Unwrap() error { return ErrAccountNotActive }

// WeakPasswordError lists every strength rule the password broke.
type WeakPasswordError struct {
	Violations []string
}

func (e *WeakPasswordError) Error() string {
	return "weak password: " + strings.Join(e.Violations, "; ")
}

func (e *WeakPasswordError) Unwrap() error { return ErrWeakPassword }
