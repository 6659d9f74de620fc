package session

import "time"

// WarningThreshold is how long before expiry a session enters its warning
// period.
const WarningThreshold = 2 * time.Minute

// DefaultTimeout applies to roles missing from the table.
const DefaultTimeout = 60 * time.Minute

// Timeouts maps a role to its idle timeout.
type Timeouts struct {
	ByRole  map[string]time.Duration
	Default time.Duration
}

// DefaultTimeouts gives privileged and vendor roles 30 minutes, hiring staff
// 60 minutes and candidates 7 days.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		ByRole: map[string]time.Duration{
			"SUPER_ADMIN":    30 * time.Minute,
			"ADMIN":          30 * time.Minute,
			"VENDOR":         30 * time.Minute,
			"RECRUITER":      60 * time.Minute,
			"HIRING_MANAGER": 60 * time.Minute,
			"INTERVIEWER":    60 * time.Minute,
			"CANDIDATE":      10080 * time.Minute,
		},
		Default: DefaultTimeout,
	}
}

// For returns the idle timeout for role.
func (t Timeouts) For(role string) time.Duration {
	if d, ok := t.ByRole[role]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultTimeout
}
