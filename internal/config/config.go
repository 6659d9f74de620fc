// Package config loads the authcore service configuration from a YAML file
// and AUTHCORE_* environment variables, and maps it onto the engine,
// storage, mail and HTTP settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/talentx/authcore"
	"github.com/talentx/authcore/httpapi"
	"github.com/talentx/authcore/internal/logging"
	"github.com/talentx/authcore/notify"
	"github.com/talentx/authcore/store/postgres"
)

// EnvPrefix prefixes every environment override, e.g. AUTHCORE_REDIS_ADDRS.
const EnvPrefix = "AUTHCORE"

// File is the on-disk configuration.
type File struct {
	Environment string         `mapstructure:"environment" yaml:"environment"`
	WebURL      string         `mapstructure:"web_url" yaml:"web_url"`
	Logging     logging.Config `mapstructure:"logging" yaml:"logging"`
	Redis       RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Postgres    PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	SMTP        SMTPConfig     `mapstructure:"smtp" yaml:"smtp"`
	HTTP        HTTPConfig     `mapstructure:"http" yaml:"http"`
	JWT         JWTConfig      `mapstructure:"jwt" yaml:"jwt"`
	Session     SessionConfig  `mapstructure:"session" yaml:"session"`
	Password    PasswordConfig `mapstructure:"password" yaml:"password"`
	Lockout     LockoutConfig  `mapstructure:"lockout" yaml:"lockout"`
	MFA         MFAConfig      `mapstructure:"mfa" yaml:"mfa"`
	OTP         OTPConfig      `mapstructure:"otp" yaml:"otp"`
	Register    RegisterConfig `mapstructure:"registration" yaml:"registration"`
	Throttle    ThrottleConfig `mapstructure:"throttle" yaml:"throttle"`
	Audit       AuditConfig    `mapstructure:"audit" yaml:"audit"`
	Metrics     MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs" yaml:"addrs"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	DB       int      `mapstructure:"db" yaml:"db"`
}

type PostgresConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// SMTPConfig selects mail delivery. With Enabled false emails are only
// logged.
type SMTPConfig struct {
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled"`
	Product            string        `mapstructure:"product" yaml:"product"`
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"password"`
	From               string        `mapstructure:"from" yaml:"from"`
	ReplyTo            string        `mapstructure:"reply_to" yaml:"reply_to"`
	Connections        int           `mapstructure:"connections" yaml:"connections"`
	SendTimeout        time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	AllowOrigins      []string      `mapstructure:"allow_origins" yaml:"allow_origins"`
	RatePerSecond     float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	RateBurst         int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// ReapInterval is how often serve sweeps expired sessions. Zero disables
	// the sweep.
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
}

// JWTConfig takes keys inline or from files. Files win when both are set.
type JWTConfig struct {
	SigningMethod  string        `mapstructure:"signing_method" yaml:"signing_method"`
	Secret         string        `mapstructure:"secret" yaml:"secret"`
	PrivateKeyFile string        `mapstructure:"private_key_file" yaml:"private_key_file"`
	PublicKeyFile  string        `mapstructure:"public_key_file" yaml:"public_key_file"`
	Issuer         string        `mapstructure:"issuer" yaml:"issuer"`
	Audience       string        `mapstructure:"audience" yaml:"audience"`
	KeyID          string        `mapstructure:"key_id" yaml:"key_id"`
	AccessTTL      time.Duration `mapstructure:"access_ttl" yaml:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl" yaml:"refresh_ttl"`
}

type SessionConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// Timeouts is keyed by role; keys are case-insensitive.
	Timeouts map[string]time.Duration `mapstructure:"timeouts" yaml:"timeouts"`
}

type PasswordConfig struct {
	Algorithm  string `mapstructure:"algorithm" yaml:"algorithm"`
	BcryptCost int    `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost"`
}

type LockoutConfig struct {
	MaxFailures int           `mapstructure:"max_failures" yaml:"max_failures"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
}

type MFAConfig struct {
	Issuer        string   `mapstructure:"issuer" yaml:"issuer"`
	RequiredRoles []string `mapstructure:"required_roles" yaml:"required_roles"`
}

type OTPConfig struct {
	TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

type RegisterConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DefaultRole string `mapstructure:"default_role" yaml:"default_role"`
}

type ThrottleConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	PerEmail int           `mapstructure:"per_email" yaml:"per_email"`
	PerIP    int           `mapstructure:"per_ip" yaml:"per_ip"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
}

type AuditConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	BufferSize   int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

type MetricsConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	LatencyHistograms bool `mapstructure:"latency_histograms" yaml:"latency_histograms"`
}

/*
====================================
LOADING
====================================
*/

// SetDefaults registers every key with its default. Environment overrides
// only apply to registered keys.
func SetDefaults(v *viper.Viper) {
	def := authcore.DefaultConfig()
	pool := postgres.DefaultPoolConfig()
	web := httpapi.DefaultConfig()

	v.SetDefault("environment", def.Environment)
	v.SetDefault("web_url", def.WebURL)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.include_src", false)
	v.SetDefault("logging.to_file", false)
	v.SetDefault("logging.filename", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.compress", true)

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.max_conns", pool.MaxConns)
	v.SetDefault("postgres.min_conns", pool.MinConns)
	v.SetDefault("postgres.max_conn_lifetime", pool.MaxConnLifetime)
	v.SetDefault("postgres.max_conn_idle_time", pool.MaxConnIdleTime)
	v.SetDefault("postgres.connect_timeout", pool.ConnectTimeout)
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.product", def.TOTP.Issuer)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.reply_to", "")
	v.SetDefault("smtp.connections", 2)
	v.SetDefault("smtp.send_timeout", def.Notify.Timeout)
	v.SetDefault("smtp.insecure_skip_verify", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allow_origins", web.AllowOrigins)
	v.SetDefault("http.rate_per_second", web.RatePerSecond)
	v.SetDefault("http.rate_burst", web.RateBurst)
	v.SetDefault("http.read_header_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.reap_interval", 5*time.Minute)

	v.SetDefault("jwt.signing_method", def.JWT.SigningMethod)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", def.Refresh.TTL)

	v.SetDefault("session.default_timeout", def.Session.DefaultTimeout)

	v.SetDefault("password.algorithm", def.Password.Algorithm)
	v.SetDefault("password.bcrypt_cost", 0)

	v.SetDefault("lockout.max_failures", def.Lockout.MaxFailures)
	v.SetDefault("lockout.window", def.Lockout.Window)

	v.SetDefault("mfa.issuer", def.TOTP.Issuer)
	v.SetDefault("mfa.required_roles", def.TOTP.RequiredRoles)

	v.SetDefault("otp.ttl", def.OTP.TTL)
	v.SetDefault("otp.max_attempts", def.OTP.MaxAttempts)

	v.SetDefault("registration.enabled", def.Registration.Enabled)
	v.SetDefault("registration.default_role", def.Registration.DefaultRole)

	v.SetDefault("throttle.enabled", def.Throttle.Enabled)
	v.SetDefault("throttle.per_email", def.Throttle.PerEmail)
	v.SetDefault("throttle.per_ip", def.Throttle.PerIP)
	v.SetDefault("throttle.window", def.Throttle.Window)

	v.SetDefault("audit.enabled", def.Audit.Enabled)
	v.SetDefault("audit.buffer_size", def.Audit.BufferSize)
	v.SetDefault("audit.drain_timeout", def.Audit.DrainTimeout)

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.latency_histograms", def.Metrics.EnableLatencyHistograms)
}

// Load reads path (optional) and the environment into a File. A missing file
// at an explicit path is an error; with no path only defaults and the
// environment apply.
func Load(path string) (*File, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config file: %w", err)
		}
	}

	f := &File{}
	if err := v.Unmarshal(f); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	// Lists from the environment arrive as one space- or comma-separated
	// string.
	f.Redis.Addrs = splitList(f.Redis.Addrs)
	f.HTTP.AllowOrigins = splitList(f.HTTP.AllowOrigins)
	f.MFA.RequiredRoles = splitList(f.MFA.RequiredRoles)
	return f, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}

/*
====================================
MAPPING
====================================
*/

// Engine maps the file onto an engine config, reading key files from disk.
// It does not validate; Build does.
func (f *File) Engine() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	cfg.Environment = f.Environment
	cfg.WebURL = f.WebURL

	cfg.JWT.SigningMethod = strings.ToLower(f.JWT.SigningMethod)
	cfg.JWT.Issuer = f.JWT.Issuer
	cfg.JWT.Audience = f.JWT.Audience
	cfg.JWT.KeyID = f.JWT.KeyID
	if f.JWT.AccessTTL > 0 {
		cfg.JWT.AccessTTL = f.JWT.AccessTTL
	}
	if f.JWT.RefreshTTL > 0 {
		cfg.Refresh.TTL = f.JWT.RefreshTTL
	}
	cfg.JWT.PrivateKey = []byte(f.JWT.Secret)
	if f.JWT.PrivateKeyFile != "" {
		b, err := os.ReadFile(f.JWT.PrivateKeyFile)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("read jwt private key: %w", err)
		}
		cfg.JWT.PrivateKey = b
	}
	if f.JWT.PublicKeyFile != "" {
		b, err := os.ReadFile(f.JWT.PublicKeyFile)
		if err != nil {
			return authcore.Config{}, fmt.Errorf("read jwt public key: %w", err)
		}
		cfg.JWT.PublicKey = b
	}

	if f.Session.DefaultTimeout > 0 {
		cfg.Session.DefaultTimeout = f.Session.DefaultTimeout
	}
	if len(f.Session.Timeouts) > 0 {
		cfg.Session.Timeouts = make(map[string]time.Duration, len(f.Session.Timeouts))
		for role, d := range f.Session.Timeouts {
			cfg.Session.Timeouts[strings.ToUpper(role)] = d
		}
	}

	if f.Password.Algorithm != "" {
		cfg.Password.Algorithm = strings.ToLower(f.Password.Algorithm)
	}
	cfg.Password.BcryptCost = f.Password.BcryptCost

	cfg.Lockout.MaxFailures = f.Lockout.MaxFailures
	cfg.Lockout.Window = f.Lockout.Window

	if f.MFA.Issuer != "" {
		cfg.TOTP.Issuer = f.MFA.Issuer
	}
	cfg.TOTP.RequiredRoles = upper(f.MFA.RequiredRoles)

	cfg.OTP.TTL = f.OTP.TTL
	cfg.OTP.MaxAttempts = f.OTP.MaxAttempts

	cfg.Registration.Enabled = f.Register.Enabled
	if f.Register.DefaultRole != "" {
		cfg.Registration.DefaultRole = strings.ToUpper(f.Register.DefaultRole)
	}

	cfg.Throttle.Enabled = f.Throttle.Enabled
	cfg.Throttle.PerEmail = f.Throttle.PerEmail
	cfg.Throttle.PerIP = f.Throttle.PerIP
	cfg.Throttle.Window = f.Throttle.Window

	if f.SMTP.SendTimeout > 0 {
		cfg.Notify.Timeout = f.SMTP.SendTimeout
	}
	cfg.Audit.Enabled = f.Audit.Enabled
	cfg.Audit.BufferSize = f.Audit.BufferSize
	cfg.Audit.DrainTimeout = f.Audit.DrainTimeout
	cfg.Metrics.Enabled = f.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = f.Metrics.LatencyHistograms
	return cfg, nil
}

func upper(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(s))
	}
	return out
}

// Pool maps the postgres section onto pool settings.
func (f *File) Pool() postgres.PoolConfig {
	return postgres.PoolConfig{
		MaxConns:        f.Postgres.MaxConns,
		MinConns:        f.Postgres.MinConns,
		MaxConnLifetime: f.Postgres.MaxConnLifetime,
		MaxConnIdleTime: f.Postgres.MaxConnIdleTime,
		ConnectTimeout:  f.Postgres.ConnectTimeout,
	}
}

// Mail returns the SMTP settings and the templates sized to the engine TTLs.
func (f *File) Mail(cfg authcore.Config) (notify.SMTPConfig, notify.Templates) {
	smtp := notify.SMTPConfig{
		Host:               f.SMTP.Host,
		Port:               f.SMTP.Port,
		Username:           f.SMTP.Username,
		Password:           f.SMTP.Password,
		From:               f.SMTP.From,
		ReplyTo:            f.SMTP.ReplyTo,
		Connections:        f.SMTP.Connections,
		SendTimeout:        f.SMTP.SendTimeout,
		InsecureSkipVerify: f.SMTP.InsecureSkipVerify,
	}
	tpl := notify.Templates{
		Product:      f.SMTP.Product,
		OTPTTL:       cfg.OTP.TTL,
		ResetTTL:     cfg.PasswordReset.TokenTTL,
		TempPassword: cfg.Invitation.TempPasswordTTL,
	}
	return smtp, tpl
}

// Router maps the http section onto the router settings.
func (f *File) Router() httpapi.Config {
	return httpapi.Config{
		AllowOrigins:   f.HTTP.AllowOrigins,
		RatePerSecond:  f.HTTP.RatePerSecond,
		RateBurst:      f.HTTP.RateBurst,
		MetricsEnabled: f.Metrics.Enabled,
	}
}

// ErrNoDatabase is returned by commands that need postgres when no URL is set.
var ErrNoDatabase = errors.New("postgres.url is not configured")

const redacted = "********"

// Redacted returns a copy with secrets masked, for printing.
func (f *File) Redacted() File {
	out := *f
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	out.Redis.Password = mask(f.Redis.Password)
	out.SMTP.Password = mask(f.SMTP.Password)
	out.JWT.Secret = mask(f.JWT.Secret)
	out.Postgres.URL = maskURL(f.Postgres.URL)
	return out
}

func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
