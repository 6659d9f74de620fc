package internaldefs

import (
	"github.com/talentx/authcore"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed logins."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins rejected by the lockout guard."},
	{ID: authcore.MetricLoginNotActive, Name: "authcore_login_not_active_total", Help: "Logins rejected for a non-active account or tenant."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh tokens."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout operations."},
	{ID: authcore.MetricMFALoginRequired, Name: "authcore_mfa_login_required_total", Help: "Logins that issued an MFA challenge."},
	{ID: authcore.MetricMFALoginSuccess, Name: "authcore_mfa_login_success_total", Help: "Completed MFA challenges."},
	{ID: authcore.MetricMFALoginFailure, Name: "authcore_mfa_login_failure_total", Help: "Invalid MFA challenge codes."},
	{ID: authcore.MetricMFALoginAttemptsExceeded, Name: "authcore_mfa_login_attempts_exceeded_total", Help: "MFA challenges discarded at the attempt cap."},
	{ID: authcore.MetricMFAEnabled, Name: "authcore_mfa_enabled_total", Help: "MFA enrollments."},
	{ID: authcore.MetricMFADisabled, Name: "authcore_mfa_disabled_total", Help: "MFA removals."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: authcore.MetricOTPRequested, Name: "authcore_otp_requested_total", Help: "Issued email codes."},
	{ID: authcore.MetricOTPVerified, Name: "authcore_otp_verified_total", Help: "Verified email codes."},
	{ID: authcore.MetricOTPFailed, Name: "authcore_otp_failed_total", Help: "Rejected email codes."},
	{ID: authcore.MetricOTPAccountProvisioned, Name: "authcore_otp_account_provisioned_total", Help: "Candidate accounts created by email code login."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Rejected password resets."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Password changes."},
	{ID: authcore.MetricPasswordReuseRejected, Name: "authcore_password_reuse_rejected_total", Help: "New passwords rejected by history."},
	{ID: authcore.MetricAccountRegistered, Name: "authcore_account_registered_total", Help: "Self-service registrations."},
	{ID: authcore.MetricAccountInvited, Name: "authcore_account_invited_total", Help: "Invited accounts."},
	{ID: authcore.MetricTenantProvisioned, Name: "authcore_tenant_provisioned_total", Help: "Tenants created on demand."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionRefreshed, Name: "authcore_session_refreshed_total", Help: "Sliding session refreshes."},
	{ID: authcore.MetricSessionTerminated, Name: "authcore_session_terminated_total", Help: "Terminated sessions."},
	{ID: authcore.MetricSessionsReaped, Name: "authcore_sessions_reaped_total", Help: "Expired sessions removed by the reaper."},
	{ID: authcore.MetricRateLimited, Name: "authcore_rate_limited_total", Help: "Requests denied by a throttle."},
	{ID: authcore.MetricNotifyFailure, Name: "authcore_notify_failure_total", Help: "Emails the notifier failed to deliver."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Password login latency."},
}

// HistogramBounds are the Prometheus le labels of the engine buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names the per-bucket OTel gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
