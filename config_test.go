package authcore

import (
	"testing"
	"time"

	"github.com/talentx/authcore/password"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func productionConfig() Config {
	cfg := validTestConfig()
	cfg.Environment = EnvProduction
	cfg.WebURL = "https://app.talentx.example"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with key", mutate: func(c *Config) {}, wantValid: true},
		{name: "unknown environment", mutate: func(c *Config) { c.Environment = "staging" }, wantValid: false},
		{name: "relative web url", mutate: func(c *Config) { c.WebURL = "/app" }, wantValid: false},
		{name: "short hs256 key", mutate: func(c *Config) { c.JWT.PrivateKey = []byte("short") }, wantValid: false},
		{name: "unknown signing method", mutate: func(c *Config) { c.JWT.SigningMethod = "rs256" }, wantValid: false},
		{name: "ed25519 without public key", mutate: func(c *Config) { c.JWT.SigningMethod = "ed25519" }, wantValid: false},
		{name: "zero access ttl", mutate: func(c *Config) { c.JWT.AccessTTL = 0 }, wantValid: false},
		{name: "negative session timeout", mutate: func(c *Config) { c.Session.Timeouts = map[string]time.Duration{"ADMIN": -time.Minute} }, wantValid: false},
		{name: "session override", mutate: func(c *Config) { c.Session.Timeouts = map[string]time.Duration{"ADMIN": 15 * time.Minute} }, wantValid: true},
		{name: "argon2", mutate: func(c *Config) { c.Password.Algorithm = password.AlgorithmArgon2 }, wantValid: true},
		{name: "scrypt", mutate: func(c *Config) { c.Password.Algorithm = "scrypt" }, wantValid: false},
		{name: "bcrypt cost too low", mutate: func(c *Config) { c.Password.BcryptCost = 3 }, wantValid: false},
		{name: "lockout zero failures", mutate: func(c *Config) { c.Lockout.MaxFailures = 0 }, wantValid: false},
		{name: "totp seven digits", mutate: func(c *Config) { c.TOTP.Digits = 7 }, wantValid: false},
		{name: "totp unknown required role", mutate: func(c *Config) { c.TOTP.RequiredRoles = []string{"OWNER"} }, wantValid: false},
		{name: "otp three digits", mutate: func(c *Config) { c.OTP.Digits = 3 }, wantValid: false},
		{name: "unknown owner role", mutate: func(c *Config) { c.Registration.OwnerRole = "OWNER" }, wantValid: false},
		{name: "unknown owner role with registration off", mutate: func(c *Config) {
			c.Registration.Enabled = false
			c.Registration.OwnerRole = "OWNER"
		}, wantValid: true},
		{name: "throttle without limits", mutate: func(c *Config) { c.Throttle.PerEmail = 0 }, wantValid: false},
		{name: "throttle disabled", mutate: func(c *Config) {
			c.Throttle.Enabled = false
			c.Throttle.PerEmail = 0
		}, wantValid: true},
		{name: "zero notify timeout", mutate: func(c *Config) { c.Notify.Timeout = 0 }, wantValid: false},
		{name: "audit without buffer", mutate: func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatalf("expected invalid config")
			}
		})
	}
}

func TestConfigProductionHardening(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "hardened", mutate: func(c *Config) {}, wantValid: true},
		{name: "http web url", mutate: func(c *Config) { c.WebURL = "http://app.talentx.example" }, wantValid: false},
		{name: "weak bcrypt cost", mutate: func(c *Config) { c.Password.BcryptCost = 10 }, wantValid: false},
		{name: "loose lockout", mutate: func(c *Config) { c.Lockout.MaxFailures = 20 }, wantValid: false},
		{name: "many otp attempts", mutate: func(c *Config) { c.OTP.MaxAttempts = 10 }, wantValid: false},
		{name: "long otp ttl", mutate: func(c *Config) { c.OTP.TTL = time.Hour }, wantValid: false},
		{name: "throttle off", mutate: func(c *Config) { c.Throttle.Enabled = false }, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := productionConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatalf("expected invalid config")
			}
		})
	}
}

func TestBcryptCostByEnvironment(t *testing.T) {
	dev := validTestConfig()
	if got := dev.bcryptCost(); got != 10 {
		t.Fatalf("development cost = %d, want 10", got)
	}
	prod := productionConfig()
	if got := prod.bcryptCost(); got != 12 {
		t.Fatalf("production cost = %d, want 12", got)
	}
	prod.Password.BcryptCost = 14
	if got := prod.bcryptCost(); got != 14 {
		t.Fatalf("explicit cost = %d, want 14", got)
	}
}

func TestSessionTimeoutOverrides(t *testing.T) {
	cfg := validTestConfig()
	cfg.Session.Timeouts = map[string]time.Duration{"RECRUITER": 90 * time.Minute}
	cfg.Session.DefaultTimeout = 45 * time.Minute

	to := cfg.sessionTimeouts()
	if got := to.For("RECRUITER"); got != 90*time.Minute {
		t.Fatalf("override = %v", got)
	}
	if got := to.For("CANDIDATE"); got != 10080*time.Minute {
		t.Fatalf("candidate = %v", got)
	}
	if got := to.For("GUEST"); got != 45*time.Minute {
		t.Fatalf("default = %v", got)
	}
}

func TestCloneConfigIsDeep(t *testing.T) {
	cfg := validTestConfig()
	cfg.Session.Timeouts = map[string]time.Duration{"ADMIN": time.Minute}
	out := cloneConfig(cfg)

	out.JWT.PrivateKey[0] = 'X'
	out.TOTP.RequiredRoles[0] = "ADMIN"
	out.Session.Timeouts["ADMIN"] = time.Hour

	if cfg.JWT.PrivateKey[0] == 'X' || cfg.TOTP.RequiredRoles[0] == "ADMIN" || cfg.Session.Timeouts["ADMIN"] != time.Minute {
		t.Fatalf("clone shares state with the original")
	}
}
