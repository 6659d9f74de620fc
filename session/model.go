package session

import "time"

// Session is an idle-timeout login session. Token is the opaque value the client
// presents; ID is a stable public handle used for listing and termination.
type Session struct {
	ID        string
	Token     string
	AccountID string
	TenantID  string
	Role      string
	UserAgent string
	IPAddress string

	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// Expired reports whether s has reached its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Info is the listing view of a session. Tokens are never exposed.
type Info struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"userAgent,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsCurrent    bool      `json:"isCurrent"`
}

// Validation is the result of Store.Validate. WarningAt is the moment clients
// should prompt the user that the session is about to expire.
type Validation struct {
	Valid     bool
	SessionID string
	AccountID string
	TenantID  string
	Role      string
	ExpiresAt time.Time
	WarningAt time.Time
}

// CreateParams describes a session to open.
type CreateParams struct {
	AccountID string
	TenantID  string
	Role      string
	UserAgent string
	IPAddress string
}
