package authcore

import (
	"context"
	"log/slog"
	"time"

	internalaudit "github.com/talentx/authcore/internal/audit"
	"github.com/talentx/authcore/internal/limiters"
	"github.com/talentx/authcore/jwt"
	"github.com/talentx/authcore/session"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusPending   AccountStatus = "PENDING"
	StatusActive    AccountStatus = "ACTIVE"
	StatusInactive  AccountStatus = "INACTIVE"
	StatusSuspended AccountStatus = "SUSPENDED"
)

// TenantStatus is the lifecycle state of a tenant organization.
type TenantStatus string

const (
	TenantActive    TenantStatus = "ACTIVE"
	TenantSuspended TenantStatus = "SUSPENDED"
	TenantInactive  TenantStatus = "INACTIVE"
)

// OTPType selects what an email code proves.
type OTPType string

const (
	OTPLogin         OTPType = "LOGIN"
	OTPPasswordReset OTPType = "PASSWORD_RESET"
	OTPEmailVerify   OTPType = "EMAIL_VERIFY"
)

// Valid reports whether t is a known OTP type.
func (t OTPType) Valid() bool {
	switch t {
	case OTPLogin, OTPPasswordReset, OTPEmailVerify:
		return true
	}
	return false
}

// Account is the credential record of one user in one tenant. (Email,
// TenantID) is unique.
type Account struct {
	ID           string
	Email        string
	TenantID     string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	Status       AccountStatus

	// RoleID names a tenant-defined role; RolePermissions is its permission
	// set, loaded with the account.
	RoleID            string
	RolePermissions   []string
	CustomPermissions []string

	MFAEnabled bool
	// MFASecret is base32. A secret with MFAEnabled false is a pending setup.
	MFASecret string

	RequirePasswordChange bool
	TempPasswordExpiresAt *time.Time
	LastLoginAt           *time.Time
	CreatedAt             time.Time
}

// Tenant is an isolated customer organization.
type Tenant struct {
	ID        string
	Name      string
	Slug      string
	Domain    string
	Status    TenantStatus
	CreatedAt time.Time
}

// NewAccount is the input for [AccountStore.CreateAccount].
type NewAccount struct {
	Email                 string
	TenantID              string
	PasswordHash          string
	FirstName             string
	LastName              string
	Role                  string
	Status                AccountStatus
	RequirePasswordChange bool
	TempPasswordExpiresAt *time.Time
}

// LoginAttempt is one row of the persistent login ledger.
type LoginAttempt struct {
	Email     string
	TenantID  string
	IPAddress string
	Success   bool
	CreatedAt time.Time
}

// AccountStore is the relational side of the engine. Lookups return
// ErrAccountNotFound or ErrTenantNotFound when nothing matches, and
// CreateAccount returns ErrAccountExists on an (email, tenant) conflict.
//
// SetPassword must persist the hash, append the history row and clear
// RequirePasswordChange/TempPasswordExpiresAt in one transaction.
type AccountStore interface {
	AccountByID(ctx context.Context, accountID string) (*Account, error)
	AccountByEmail(ctx context.Context, email, tenantID string) (*Account, error)
	// AccountsByEmail returns every account for email across tenants, oldest
	// first.
	AccountsByEmail(ctx context.Context, email string) ([]Account, error)
	CreateAccount(ctx context.Context, in NewAccount) (*Account, error)
	SetAccountStatus(ctx context.Context, accountID string, status AccountStatus) error
	SetLastLogin(ctx context.Context, accountID string, at time.Time) error

	// UpdatePasswordHash replaces the hash without touching history. It is
	// used for algorithm upgrades of the same password.
	UpdatePasswordHash(ctx context.Context, accountID, hash string) error
	SetPassword(ctx context.Context, accountID, hash string) error
	// PasswordHistory returns up to limit previous hashes, newest first.
	PasswordHistory(ctx context.Context, accountID string, limit int) ([]string, error)

	SetMFASecret(ctx context.Context, accountID, secret string) error
	// EnableMFA turns MFA on and replaces the backup code set.
	EnableMFA(ctx context.Context, accountID string, backupCodeHashes []string) error
	// DisableMFA clears the secret, the flag and every backup code.
	DisableMFA(ctx context.Context, accountID string) error
	// ConsumeBackupCode marks an unused code as used and reports whether one
	// matched.
	ConsumeBackupCode(ctx context.Context, accountID, codeHash string) (bool, error)
	RemainingBackupCodes(ctx context.Context, accountID string) (int, error)

	TenantByID(ctx context.Context, tenantID string) (*Tenant, error)
	TenantByDomain(ctx context.Context, domain string) (*Tenant, error)
	CreateTenant(ctx context.Context, t Tenant) (*Tenant, error)

	RecordLoginAttempt(ctx context.Context, a LoginAttempt) error
}

// MFAPolicy answers whether MFA is enforced for every account of a tenant.
type MFAPolicy interface {
	MFAEnforced(ctx context.Context, tenantID string) (bool, error)
}

// MFAPolicyFunc adapts a function to MFAPolicy.
type MFAPolicyFunc func(ctx context.Context, tenantID string) (bool, error)

func (f MFAPolicyFunc) MFAEnforced(ctx context.Context, tenantID string) (bool, error) {
	return f(ctx, tenantID)
}

// Notifier delivers account emails. The engine calls it from a background
// goroutine and only logs failures.
type Notifier interface {
	SendOTPEmail(ctx context.Context, to, code string) error
	SendPasswordResetEmail(ctx context.Context, to, link string) error
	SendInvitationEmail(ctx context.Context, to, inviter, tempPassword, link string) error
}

// Profile is the public view of an account.
type Profile struct {
	ID                    string        `json:"id"`
	Email                 string        `json:"email"`
	FirstName             string        `json:"firstName"`
	LastName              string        `json:"lastName"`
	Role                  string        `json:"role"`
	TenantID              string        `json:"tenantId"`
	Status                AccountStatus `json:"status"`
	MFAEnabled            bool          `json:"mfaEnabled"`
	RequirePasswordChange bool          `json:"requirePasswordChange"`
	Permissions           []string      `json:"permissions"`
	LastLoginAt           *time.Time    `json:"lastLoginAt,omitempty"`
}

// TokenPair is an access token with its refresh token.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// LoginRequest is the input for [Engine.Login]. TenantID is optional.
type LoginRequest struct {
	Email    string
	Password string
	TenantID string
}

// LoginResult is either a full login (tokens and session) or, when
// RequiresMFA is set, a pending challenge identified by MFAToken.
type LoginResult struct {
	TokenPair

	SessionID        string    `json:"sessionId,omitempty"`
	SessionToken     string    `json:"sessionToken,omitempty"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt,omitempty"`
	WarningAt        time.Time `json:"warningAt,omitempty"`

	RequiresMFA  bool      `json:"requiresMfa"`
	MFAToken     string    `json:"mfaToken,omitempty"`
	MFAExpiresAt time.Time `json:"mfaExpiresAt,omitempty"`

	RequirePasswordChange bool     `json:"requirePasswordChange"`
	MFASetupRequired      bool     `json:"mfaSetupRequired"`
	Profile               *Profile `json:"user,omitempty"`
}

// MFAEnrollment is a completed login that enrolled MFA on the way. The backup
// codes are shown once.
type MFAEnrollment struct {
	LoginResult
	BackupCodes []string `json:"backupCodes"`
}

// MFASetup is returned by [Engine.SetupMFA]. QRCode is a PNG data URL.
type MFASetup struct {
	Secret  string `json:"secret"`
	URI     string `json:"otpauthUrl"`
	QRCode  string `json:"qrCode"`
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
	Digits  int    `json:"digits"`
	Period  int    `json:"period"`
}

// MFAStatus summarizes an account's second factor.
type MFAStatus struct {
	Enabled              bool `json:"enabled"`
	Required             bool `json:"required"`
	SetupRequired        bool `json:"setupRequired"`
	SetupPending         bool `json:"setupPending"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}

// OTPRequest is the input for [Engine.RequestOTP].
type OTPRequest struct {
	Email    string
	TenantID string
	Type     OTPType
}

// OTPRequestResult reports where a code was issued. Code is only set outside
// production.
type OTPRequestResult struct {
	TenantID  string    `json:"tenantId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Code      string    `json:"code,omitempty"`
}

// OTPVerification is the input for [Engine.VerifyOTP].
type OTPVerification struct {
	Email    string
	TenantID string
	Code     string
	Type     OTPType
}

// OTPVerifyResult depends on the code type: LOGIN fills Login, PASSWORD_RESET
// fills ResetToken, EMAIL_VERIFY only sets Verified.
type OTPVerifyResult struct {
	Verified       bool         `json:"verified"`
	Type           OTPType      `json:"type"`
	AccountCreated bool         `json:"accountCreated,omitempty"`
	Login          *LoginResult `json:"login,omitempty"`
	ResetToken     string       `json:"resetToken,omitempty"`
	ResetExpiresAt time.Time    `json:"resetExpiresAt,omitempty"`
}

// RegisterRequest is the input for [Engine.Register]. Without a TenantID the
// tenant is derived from the email domain.
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	TenantID  string
	Role      string
}

// RegisterResult describes the account created by [Engine.Register].
type RegisterResult struct {
	AccountID         string        `json:"accountId"`
	TenantID          string        `json:"tenantId"`
	Role              string        `json:"role"`
	Status            AccountStatus `json:"status"`
	TenantCreated     bool          `json:"tenantCreated"`
	VerificationSent  bool          `json:"verificationSent"`
	VerificationCode  string        `json:"verificationCode,omitempty"`
	VerificationUntil time.Time     `json:"verificationExpiresAt,omitempty"`
}

// InviteRequest is the input for [Engine.InviteAccount].
type InviteRequest struct {
	Email       string
	FirstName   string
	LastName    string
	Role        string
	TenantID    string
	InviterName string
}

// InviteResult carries the temporary password so the caller may show it when
// email delivery is not configured. Invited accounts are ACTIVE and must
// change the password on first login.
type InviteResult struct {
	AccountID         string    `json:"accountId"`
	TemporaryPassword string    `json:"temporaryPassword"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// SessionState is the refreshed expiry of a session.
type SessionState struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	WarningAt time.Time `json:"warningAt"`
}

// SessionTimeout describes the idle timeout of a role.
type SessionTimeout struct {
	Role           string `json:"role"`
	TimeoutMinutes int    `json:"timeoutMinutes"`
	WarningMinutes int    `json:"warningMinutes"`
}

// SessionInfo is the listing view of a session.
type SessionInfo = session.Info

// SessionValidation is the result of [Engine.ValidateSession].
type SessionValidation = session.Validation

// LockStatus is the result of [Engine.LockoutStatus].
type LockStatus = limiters.LockStatus

// Identity is what a verified access token asserts.
type Identity = jwt.Identity

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// SlogSink is an [AuditSink] that writes events through a slog.Logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewSlogSink creates a [SlogSink]; a nil logger means slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
