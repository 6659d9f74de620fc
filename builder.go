package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	internalaudit "github.com/talentx/authcore/internal/audit"
	"github.com/talentx/authcore/internal/limiters"
	"github.com/talentx/authcore/internal/rate"
	"github.com/talentx/authcore/internal/stores"
	"github.com/talentx/authcore/jwt"
	"github.com/talentx/authcore/password"
	"github.com/talentx/authcore/permission"
	"github.com/talentx/authcore/refresh"
	"github.com/talentx/authcore/session"
	"github.com/talentx/authcore/totp"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts  AccountStore
	mfaPolicy MFAPolicy
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	auditSink AuditSink
	resolver  *permission.Resolver

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared Redis client. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the relational store. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithMFAPolicy sets the tenant MFA enforcement lookup. Without one, MFA is
// required only by role or opt-in.
func (b *Builder) WithMFAPolicy(policy MFAPolicy) *Builder {
	b.mfaPolicy = policy
	return b
}

// WithNotifier sets the email sender. Without one, codes and links are only
// logged at debug level.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every time-based decision the engine and
// its stores make.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithPermissionResolver replaces the default custom, dynamic-role and static
// table resolution order.
func (b *Builder) WithPermissionResolver(r *permission.Resolver) *Builder {
	b.resolver = r
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every store.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := b.resolver
	if resolver == nil {
		resolver = permission.NewResolver()
	}

	engine := &Engine{
		config:    cfg,
		logger:    logger.With(slog.String("component", "authcore")),
		now:       now,
		accounts:  b.accounts,
		mfaPolicy: b.mfaPolicy,
		notifier:  b.notifier,
		resolver:  resolver,
	}

	// -------- PASSWORDS --------
	hasher, err := password.New(cfg.HasherOptions())
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	// Unknown emails still pay for one verify against this hash.
	engine.dummyHash, err = hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		KeyID:         cfg.JWT.KeyID,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	engine.jwt = jm

	engine.refresh = refresh.NewStore(b.redis, refresh.Options{
		Prefix: cfg.Refresh.RedisPrefix,
		TTL:    cfg.Refresh.TTL,
		Now:    now,
	})

	// -------- SESSIONS --------
	engine.sessions = session.NewStore(b.redis, session.Options{
		Prefix:   cfg.Session.RedisPrefix,
		Timeouts: cfg.sessionTimeouts(),
		Now:      now,
	})

	// -------- LOCKOUT / THROTTLE --------
	engine.guard = limiters.NewAttemptGuard(b.redis, limiters.AttemptConfig{
		MaxFailures: cfg.Lockout.MaxFailures,
		Window:      cfg.Lockout.Window,
		Prefix:      cfg.Lockout.RedisPrefix,
		Now:         now,
	})

	engine.codeGuard = limiters.NewCodeGuard(b.redis, limiters.CodeGuardConfig{
		MaxFailures: cfg.TOTP.CodeMaxFailures,
		Cooldown:    cfg.TOTP.CodeCooldown,
		Prefix:      cfg.TOTP.CodeRedisPrefix,
	})

	if cfg.Throttle.Enabled {
		rl := rate.New(b.redis, cfg.Throttle.RedisPrefix)
		rc := limiters.RequestConfig{
			PerEmail: rate.Rule{Limit: cfg.Throttle.PerEmail, Window: cfg.Throttle.Window},
			PerIP:    rate.Rule{Limit: cfg.Throttle.PerIP, Window: cfg.Throttle.Window},
		}
		engine.otpLimiter = limiters.NewRequestLimiter(rl, "otp", rc)
		engine.resetLimiter = limiters.NewRequestLimiter(rl, "reset", rc)
	}

	// -------- CODES / CHALLENGES --------
	engine.otps = stores.NewOTPStore(b.redis, cfg.OTP.RedisPrefix, now)
	engine.resets = stores.NewPasswordResetStore(b.redis, cfg.PasswordReset.RedisPrefix, now)
	engine.challenges = stores.NewMFALoginChallengeStore(b.redis, cfg.TOTP.ChallengeRedisPrefix, now)
	engine.totp = totp.NewGenerator(totp.Config{
		Digits: cfg.TOTP.Digits,
		Period: cfg.TOTP.Period,
		Window: cfg.TOTP.Window,
	})

	// -------- OBSERVABILITY --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		DrainTimeout: cfg.Audit.DrainTimeout,
		Logger:       engine.logger.With(slog.String("subsystem", "audit")),
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
