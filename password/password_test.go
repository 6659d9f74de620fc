package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func fastMulti(t *testing.T, algorithm string) *Multi {
	t.Helper()
	m, err := New(Options{Algorithm: algorithm, BcryptCost: bcrypt.MinCost, Argon2: fastArgon2Config()})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return m
}

func TestArgon2HashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(fastArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("Sh0rt!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("Sh0rt!", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail, ok=%v err=%v", ok, err)
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak, err := NewArgon2(fastArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2(weak) error: %v", err)
	}
	hash, err := weak.Hash("upgrade-me")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastArgon2Config()
	stronger.Time = 2
	strong, err := NewArgon2(stronger)
	if err != nil {
		t.Fatalf("NewArgon2(strong) error: %v", err)
	}

	if up, err := strong.NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("expected upgrade for weaker params, up=%v err=%v", up, err)
	}
	if up, err := weak.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("expected no upgrade for same params, up=%v err=%v", up, err)
	}
}

func TestArgon2RejectsMalformedAndWrongVersion(t *testing.T) {
	hasher, err := NewArgon2(fastArgon2Config())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	if _, err := hasher.Verify("password", "not-a-phc-hash"); err == nil {
		t.Fatal("expected malformed hash verification to fail")
	}

	hash, err := hasher.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	wrongVersion := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := hasher.Verify("version-test", wrongVersion); err == nil {
		t.Fatal("expected unsupported version verification to fail")
	}
}

func TestArgon2ConfigFloors(t *testing.T) {
	cfg := fastArgon2Config()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected memory floor to be enforced")
	}
}

func TestMultiDefaultsToBcrypt(t *testing.T) {
	m := fastMulti(t, "")

	hash, err := m.Hash("Passw0rd!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Fatalf("expected bcrypt hash, got %s", hash)
	}

	ok, err := m.Verify("Passw0rd!", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = m.Verify("passw0rd!", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestMultiVerifiesOtherAlgorithmAndFlagsUpgrade(t *testing.T) {
	argonFirst := fastMulti(t, AlgorithmArgon2)
	hash, err := argonFirst.Hash("Migrat3!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	bcryptFirst := fastMulti(t, AlgorithmBcrypt)
	ok, err := bcryptFirst.Verify("Migrat3!", hash)
	if err != nil || !ok {
		t.Fatalf("expected cross-algorithm verification, ok=%v err=%v", ok, err)
	}

	up, err := bcryptFirst.NeedsUpgrade(hash)
	if err != nil || !up {
		t.Fatalf("expected argon2 hash to need upgrade under bcrypt, up=%v err=%v", up, err)
	}
}

func TestMultiBcryptCostUpgrade(t *testing.T) {
	low := fastMulti(t, AlgorithmBcrypt)
	hash, err := low.Hash("C0st-up!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	high, err := New(Options{BcryptCost: bcrypt.MinCost + 1, Argon2: fastArgon2Config()})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if up, err := high.NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("expected higher cost to require upgrade, up=%v err=%v", up, err)
	}
}

func TestMultiUnknownFormat(t *testing.T) {
	m := fastMulti(t, "")
	if _, err := m.Verify("x", "plain-text"); err != ErrUnknownHashFormat {
		t.Fatalf("expected ErrUnknownHashFormat, got %v", err)
	}
	if _, err := New(Options{Algorithm: "md5"}); err == nil {
		t.Fatal("expected unsupported algorithm to be rejected")
	}
}

func TestCheckStrength(t *testing.T) {
	cases := []struct {
		pw   string
		want []string
	}{
		{"Passw0rd!", nil},
		{"Aa1!", []string{"Password must be at least 8 characters long"}},
		{"PASSWORD1!", []string{"Password must contain at least one lowercase letter"}},
		{"password1!", []string{"Password must contain at least one uppercase letter"}},
		{"Password!!", []string{"Password must contain at least one number"}},
		{"Password12", []string{"Password must contain at least one special character (@$!%*?&)"}},
		{"Password1#", []string{"Password must contain at least one special character (@$!%*?&)"}},
		{"Aa1!" + strings.Repeat("x", 68), nil},
		{"Aa1!" + strings.Repeat("x", 80), []string{"Password must be at most 72 bytes long"}},
		{"Aa1!" + strings.Repeat("é", 35), []string{"Password must be at most 72 bytes long"}},
		{"", []string{
			"Password must be at least 8 characters long",
			"Password must contain at least one lowercase letter",
			"Password must contain at least one uppercase letter",
			"Password must contain at least one number",
			"Password must contain at least one special character (@$!%*?&)",
		}},
	}

	for _, tc := range cases {
		got := CheckStrength(tc.pw)
		if got.Valid != (len(tc.want) == 0) {
			t.Fatalf("CheckStrength(%q).Valid = %v", tc.pw, got.Valid)
		}
		if strings.Join(got.Errors, "|") != strings.Join(tc.want, "|") {
			t.Fatalf("CheckStrength(%q) errors = %v, want %v", tc.pw, got.Errors, tc.want)
		}
	}
}

func TestIsReused(t *testing.T) {
	m := fastMulti(t, "")
	hash := func(pw string) string {
		h, err := m.Hash(pw)
		if err != nil {
			t.Fatalf("Hash error: %v", err)
		}
		return h
	}

	current := hash("Current1!")
	history := []string{hash("Older1!x"), hash("Oldest1!x")}

	if !IsReused(m, "Current1!", current, history) {
		t.Fatal("expected current password to count as reused")
	}
	if !IsReused(m, "Oldest1!x", current, history) {
		t.Fatal("expected history match to count as reused")
	}
	if IsReused(m, "Brand-New1!", current, history) {
		t.Fatal("expected fresh password to pass")
	}
	if !IsReused(m, "Brand-New1!", current, []string{"corrupted"}) {
		t.Fatal("expected unverifiable history entry to fail closed")
	}
}
