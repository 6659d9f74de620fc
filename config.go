package authcore

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/talentx/authcore/jwt"
	"github.com/talentx/authcore/password"
	"github.com/talentx/authcore/permission"
	"github.com/talentx/authcore/session"
)

// Environment names accepted by Config.Environment.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config holds every tunable of the engine. Build clones it; later changes to
// the caller's copy have no effect.
type Config struct {
	// Environment switches production hardening. Outside production OTP
	// codes are echoed back and the bcrypt cost defaults to 10.
	Environment string
	// WebURL is the frontend origin used to build reset and invitation links.
	WebURL string

	JWT           JWTConfig
	Refresh       RefreshConfig
	Session       SessionConfig
	Password      PasswordConfig
	Lockout       LockoutConfig
	TOTP          TOTPConfig
	OTP           OTPConfig
	PasswordReset PasswordResetConfig
	Registration  RegistrationConfig
	Invitation    InvitationConfig
	Throttle      ThrottleConfig
	Notify        NotifyConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
REFRESH / SESSION CONFIG
====================================
*/

// RefreshConfig controls refresh tokens.
type RefreshConfig struct {
	TTL         time.Duration
	RedisPrefix string
}

// SessionConfig controls idle sessions. Timeouts overrides the per-role table
// entry by entry; roles left out keep their default.
type SessionConfig struct {
	RedisPrefix    string
	DefaultTimeout time.Duration
	Timeouts       map[string]time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the password hash. BcryptCost zero means 12 in
// production and 10 elsewhere.
type PasswordConfig struct {
	Algorithm      string // "bcrypt" (default) or "argon2id"
	BcryptCost     int
	Argon2         password.Argon2Config
	UpgradeOnLogin bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the login attempt guard.
type LockoutConfig struct {
	MaxFailures int
	Window      time.Duration
	RedisPrefix string
}

/*
====================================
MFA CONFIG
====================================
*/

// TOTPConfig controls TOTP enrollment and the login step-up.
type TOTPConfig struct {
	Issuer string
	Digits int
	Period int
	// Window is the number of periods accepted on each side of now.
	Window          int
	BackupCodeCount int
	QRCodeSize      int
	// RequiredRoles must enroll regardless of tenant policy.
	RequiredRoles []string

	LoginChallengeTTL         time.Duration
	LoginChallengeMaxAttempts int
	ChallengeRedisPrefix      string

	// CodeMaxFailures wrong codes on VerifyMFA or DisableMFA lock both for
	// CodeCooldown. Enrollment confirmation is not counted.
	CodeMaxFailures int
	CodeCooldown    time.Duration
	CodeRedisPrefix string
}

/*
====================================
EMAIL CODE / RESET CONFIG
====================================
*/

// OTPConfig controls emailed one-time codes.
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	Digits      int
	RedisPrefix string
}

// PasswordResetConfig controls reset links.
type PasswordResetConfig struct {
	TokenTTL    time.Duration
	RedisPrefix string
	// LinkPath is appended to WebURL; the token goes in the query string.
	LinkPath string
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// RegistrationConfig controls self-service sign-up.
type RegistrationConfig struct {
	Enabled bool
	// DefaultRole applies when joining an existing tenant without a role.
	DefaultRole string
	// OwnerRole is given to the first account of a new tenant.
	OwnerRole string
	// PublicDomains never map to a shared tenant.
	PublicDomains []string
	// ExternalRole is the role of accounts auto-provisioned by code login.
	ExternalRole string
}

// InvitationConfig controls admin-created accounts.
type InvitationConfig struct {
	TempPasswordTTL time.Duration
	LinkPath        string
}

/*
====================================
THROTTLE / NOTIFY CONFIG
====================================
*/

// ThrottleConfig limits how often codes and reset links are sent.
type ThrottleConfig struct {
	Enabled     bool
	RedisPrefix string
	PerEmail    int
	PerIP       int
	Window      time.Duration
}

// NotifyConfig bounds background email dispatch.
type NotifyConfig struct {
	Timeout time.Duration
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
// DrainTimeout bounds how long Engine.Close keeps flushing queued events.
type AuditConfig struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	DrainTimeout time.Duration
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultPublicDomains are webmail providers whose users each get their own
// tenant.
var DefaultPublicDomains = []string{
	"gmail.com",
	"yahoo.com",
	"hotmail.com",
	"outlook.com",
	"icloud.com",
	"aol.com",
	"protonmail.com",
}

// DefaultConfig returns development defaults. Callers must still supply
// JWT.PrivateKey.
func DefaultConfig() Config {
	return Config{
		Environment: EnvDevelopment,
		WebURL:      "http://localhost:3000",
		JWT: JWTConfig{
			AccessTTL:     jwt.DefaultAccessTTL,
			SigningMethod: string(jwt.MethodHS256),
			Leeway:        30 * time.Second,
		},
		Refresh: RefreshConfig{
			TTL:         30 * 24 * time.Hour,
			RedisPrefix: "rt",
		},
		Session: SessionConfig{
			RedisPrefix:    "sess",
			DefaultTimeout: session.DefaultTimeout,
		},
		Password: PasswordConfig{
			Algorithm:      password.AlgorithmBcrypt,
			Argon2:         password.DefaultArgon2Config(),
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			MaxFailures: 5,
			Window:      15 * time.Minute,
			RedisPrefix: "la",
		},
		TOTP: TOTPConfig{
			Issuer:                    "TalentX",
			Digits:                    6,
			Period:                    30,
			Window:                    1,
			BackupCodeCount:           10,
			QRCodeSize:                256,
			RequiredRoles:             []string{permission.RoleVendor},
			LoginChallengeTTL:         5 * time.Minute,
			LoginChallengeMaxAttempts: 5,
			ChallengeRedisPrefix:      "mfac",
			CodeMaxFailures:           5,
			CodeCooldown:              15 * time.Minute,
			CodeRedisPrefix:           "mfaf",
		},
		OTP: OTPConfig{
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			Digits:      6,
			RedisPrefix: "otp",
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:    time.Hour,
			RedisPrefix: "prt",
			LinkPath:    "/auth/reset-password",
		},
		Registration: RegistrationConfig{
			Enabled:       true,
			DefaultRole:   permission.RoleRecruiter,
			OwnerRole:     permission.RoleAdmin,
			PublicDomains: append([]string(nil), DefaultPublicDomains...),
			ExternalRole:  permission.RoleCandidate,
		},
		Invitation: InvitationConfig{
			TempPasswordTTL: 7 * 24 * time.Hour,
			LinkPath:        "/auth/login",
		},
		Throttle: ThrottleConfig{
			Enabled:     true,
			RedisPrefix: "rl",
			PerEmail:    5,
			PerIP:       20,
			Window:      time.Hour,
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			DrainTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.TOTP.RequiredRoles = append([]string(nil), cfg.TOTP.RequiredRoles...)
	out.Registration.PublicDomains = append([]string(nil), cfg.Registration.PublicDomains...)
	if cfg.Session.Timeouts != nil {
		out.Session.Timeouts = make(map[string]time.Duration, len(cfg.Session.Timeouts))
		for k, v := range cfg.Session.Timeouts {
			out.Session.Timeouts[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// IsProduction reports whether production hardening applies.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

func (c *Config) bcryptCost() int {
	if c.Password.BcryptCost > 0 {
		return c.Password.BcryptCost
	}
	if c.IsProduction() {
		return password.DefaultBcryptCost
	}
	return 10
}

// HasherOptions returns the password hasher settings with the
// environment-dependent bcrypt cost applied.
func (c *Config) HasherOptions() password.Options {
	return password.Options{
		Algorithm:  c.Password.Algorithm,
		BcryptCost: c.bcryptCost(),
		Argon2:     c.Password.Argon2,
	}
}

func (c *Config) sessionTimeouts() session.Timeouts {
	t := session.DefaultTimeouts()
	for role, d := range c.Session.Timeouts {
		t.ByRole[role] = d
	}
	if c.Session.DefaultTimeout > 0 {
		t.Default = c.Session.DefaultTimeout
	}
	return t
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks internal consistency and, in production, hardening floors.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return errors.New("Environment must be production, development or test")
	}

	if c.WebURL != "" {
		u, err := url.Parse(c.WebURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("WebURL must be an absolute URL")
		}
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Refresh / Session
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Session.DefaultTimeout < 0 {
		return errors.New("Session DefaultTimeout must be >= 0")
	}
	for role, d := range c.Session.Timeouts {
		if d <= 0 {
			return errors.New("Session timeout for " + role + " must be > 0")
		}
	}

	// Password
	switch c.Password.Algorithm {
	case "", password.AlgorithmBcrypt, password.AlgorithmArgon2:
	default:
		return errors.New("Password Algorithm must be bcrypt or argon2id")
	}
	if c.Password.BcryptCost != 0 && (c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31) {
		return errors.New("Password BcryptCost must be between 4 and 31")
	}

	// Lockout
	if c.Lockout.MaxFailures <= 0 {
		return errors.New("Lockout MaxFailures must be > 0")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Window < 0 {
		return errors.New("TOTP Window must be >= 0")
	}
	if c.TOTP.BackupCodeCount <= 0 {
		return errors.New("TOTP BackupCodeCount must be > 0")
	}
	if c.TOTP.LoginChallengeTTL <= 0 {
		return errors.New("TOTP LoginChallengeTTL must be > 0")
	}
	if c.TOTP.LoginChallengeMaxAttempts <= 0 {
		return errors.New("TOTP LoginChallengeMaxAttempts must be > 0")
	}
	if c.TOTP.CodeMaxFailures <= 0 || c.TOTP.CodeCooldown <= 0 {
		return errors.New("TOTP CodeMaxFailures and CodeCooldown must be > 0")
	}
	for _, role := range c.TOTP.RequiredRoles {
		if !permission.IsRole(role) {
			return errors.New("TOTP RequiredRoles contains unknown role " + role)
		}
	}

	// OTP
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 4 and 10")
	}

	// Password reset / invitations
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.Invitation.TempPasswordTTL <= 0 {
		return errors.New("Invitation TempPasswordTTL must be > 0")
	}

	// Registration
	if c.Registration.Enabled {
		for _, role := range []string{c.Registration.DefaultRole, c.Registration.OwnerRole} {
			if !permission.IsRole(role) {
				return errors.New("Registration roles must be known roles")
			}
		}
	}
	if !permission.IsRole(c.Registration.ExternalRole) {
		return errors.New("Registration ExternalRole must be a known role")
	}

	// Throttle
	if c.Throttle.Enabled {
		if c.Throttle.PerEmail <= 0 || c.Throttle.PerIP <= 0 {
			return errors.New("Throttle PerEmail and PerIP must be > 0 when enabled")
		}
		if c.Throttle.Window <= 0 {
			return errors.New("Throttle Window must be > 0 when enabled")
		}
	}

	if c.Notify.Timeout <= 0 {
		return errors.New("Notify Timeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.DrainTimeout < 0 {
		return errors.New("Audit DrainTimeout must be >= 0")
	}

	if c.IsProduction() {
		if c.bcryptCost() < password.DefaultBcryptCost {
			return errors.New("production requires Password BcryptCost >= 12")
		}
		if c.Lockout.MaxFailures > 10 {
			return errors.New("production requires Lockout MaxFailures <= 10")
		}
		if c.OTP.MaxAttempts > 5 {
			return errors.New("production requires OTP MaxAttempts <= 5")
		}
		if c.OTP.TTL > 15*time.Minute {
			return errors.New("production requires OTP TTL <= 15m")
		}
		if !c.Throttle.Enabled {
			return errors.New("production requires Throttle Enabled")
		}
		if u, err := url.Parse(c.WebURL); err != nil || u.Scheme != "https" {
			return errors.New("production requires an https WebURL")
		}
	}

	return nil
}
