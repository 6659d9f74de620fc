package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// SecretSize is the number of random bytes in a generated shared secret.
	SecretSize = 20
	// DefaultDigits is the code length used by authenticator apps.
	DefaultDigits = 6
	// DefaultPeriod is the time step in seconds.
	DefaultPeriod = 30
	// DefaultWindow is the number of steps accepted on either side of now.
	DefaultWindow = 1
)

// ErrEmptySecret is returned when verification is attempted without a secret.
var ErrEmptySecret = errors.New("empty totp secret")

// Config tunes code generation and verification.
type Config struct {
	Digits int
	Period int
	Window int
}

// DefaultConfig returns 6 digits, 30 second steps and a ±1 step window.
func DefaultConfig() Config {
	return Config{
		Digits: DefaultDigits,
		Period: DefaultPeriod,
		Window: DefaultWindow,
	}
}

// Generator computes and verifies time-based codes for a fixed configuration.
type Generator struct {
	config Config
}

// NewGenerator returns a Generator, filling zero fields from DefaultConfig.
func NewGenerator(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Digits <= 0 {
		cfg.Digits = def.Digits
	}
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.Window < 0 {
		cfg.Window = 0
	}
	return &Generator{config: cfg}
}

// Config returns the effective configuration.
func (g *Generator) Config() Config {
	return g.config
}

// GenerateSecret returns SecretSize random bytes and their Base32 form.
func GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, EncodeBase32(raw), nil
}

// HOTP computes the RFC 4226 code for counter: HMAC-SHA1 over the 8-byte
// big-endian counter, dynamic truncation, then modulo 10^digits with zero
// left-padding.
func HOTP(secret []byte, counter uint64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod)
}

// Counter returns the time step index containing t.
func (g *Generator) Counter(t time.Time) uint64 {
	unix := t.Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(g.config.Period)
}

// Code returns the code valid at t.
func (g *Generator) Code(secret []byte, t time.Time) string {
	return HOTP(secret, g.Counter(t), g.config.Digits)
}

// Verify reports whether code matches any step in [now-window, now+window].
// Malformed codes are a mismatch, not an error.
func (g *Generator) Verify(secret []byte, code string, now time.Time) (bool, error) {
	if len(secret) == 0 {
		return false, ErrEmptySecret
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != g.config.Digits || !isNumeric(trimmed) {
		return false, nil
	}

	base := int64(g.Counter(now))
	matched := false
	for step := -g.config.Window; step <= g.config.Window; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated := HOTP(secret, uint64(counter), g.config.Digits)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			matched = true
		}
	}

	return matched, nil
}

// VerifyBase32 decodes secret with DecodeBase32 before verifying.
func (g *Generator) VerifyBase32(secret, code string, now time.Time) (bool, error) {
	return g.Verify(DecodeBase32(secret), code, now)
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
