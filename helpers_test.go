package authcore_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/talentx/authcore"
	"github.com/talentx/authcore/password"
	"github.com/talentx/authcore/store/memory"
	"github.com/talentx/authcore/totp"
)

const (
	testTenant   = "tenant-acme"
	testPassword = "Str0ng!Pass"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentEmail struct {
	Kind, To, Body string
}

// recordingNotifier forwards every email to a channel so tests can wait for
// the background dispatch.
type recordingNotifier struct {
	sent chan sentEmail
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(chan sentEmail, 64)}
}

func (n *recordingNotifier) SendOTPEmail(_ context.Context, to, code string) error {
	n.sent <- sentEmail{Kind: "otp", To: to, Body: code}
	return nil
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, to, link string) error {
	n.sent <- sentEmail{Kind: "reset", To: to, Body: link}
	return nil
}

func (n *recordingNotifier) SendInvitationEmail(_ context.Context, to, _, tempPassword, link string) error {
	n.sent <- sentEmail{Kind: "invite", To: to, Body: tempPassword + " " + link}
	return nil
}

func (n *recordingNotifier) wait(t *testing.T, kind string) sentEmail {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-n.sent:
			if m.Kind == kind {
				return m
			}
		case <-deadline:
			t.Fatalf("no %s email dispatched", kind)
		}
	}
}

type testEnv struct {
	engine   *authcore.Engine
	store    *memory.Store
	clock    *testClock
	notifier *recordingNotifier
	redis    *redis.Client
	mr       *miniredis.Miniredis
}

func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.Environment = authcore.EnvTest
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = 4
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*authcore.Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := memory.New().WithClock(clock.Now)
	store.PutTenant(authcore.Tenant{ID: testTenant, Name: "Acme", Slug: "acme", Domain: "acme.com", Status: authcore.TenantActive})
	notifier := newRecordingNotifier()

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithMFAPolicy(store).
		WithNotifier(notifier).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})

	return &testEnv{engine: engine, store: store, clock: clock, notifier: notifier, redis: rdb, mr: mr}
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := password.NewBcrypt(4)
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}
	out, err := h.Hash(pw)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	return out
}

// seedAccount stores an ACTIVE account in testTenant with testPassword.
func (env *testEnv) seedAccount(t *testing.T, id, email, role string) {
	t.Helper()
	env.store.PutAccount(authcore.Account{
		ID:           id,
		Email:        email,
		TenantID:     testTenant,
		PasswordHash: mustHash(t, testPassword),
		FirstName:    strings.Split(email, "@")[0],
		Role:         role,
		Status:       authcore.StatusActive,
		CreatedAt:    env.clock.Now(),
	})
}

func (env *testEnv) login(t *testing.T, email, pw string) *authcore.LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), authcore.LoginRequest{Email: email, Password: pw})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	return totp.NewGenerator(totp.DefaultConfig()).Code(totp.DecodeBase32(secret), at)
}

// wrongTOTP returns a well-formed code that no step in the ±1 window accepts.
func wrongTOTP(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	g := totp.NewGenerator(totp.DefaultConfig())
	key := totp.DecodeBase32(secret)
	valid := map[string]bool{}
	for _, off := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[g.Code(key, at.Add(off))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatalf("could not pick a wrong code")
	return ""
}

// enableMFA enrolls accountID and returns the secret and backup codes.
func (env *testEnv) enableMFA(t *testing.T, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := env.engine.SetupMFA(ctx, accountID)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	codes, err := env.engine.ConfirmMFA(ctx, accountID, totpCode(t, setup.Secret, env.clock.Now()))
	if err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	return setup.Secret, codes
}
