package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// BackupCodeCount is the number of backup codes issued on enrollment.
	BackupCodeCount = 10
	backupCodeBytes = 4
)

// GenerateBackupCodes returns n codes of the form XXXX-XXXX, each built from
// 4 random bytes rendered as uppercase hex.
func GenerateBackupCodes(n int) ([]string, error) {
	if n <= 0 {
		n = BackupCodeCount
	}

	codes := make([]string, 0, n)
	raw := make([]byte, backupCodeBytes)
	for i := 0; i < n; i++ {
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		h := strings.ToUpper(hex.EncodeToString(raw))
		codes = append(codes, h[:4]+"-"+h[4:])
	}
	return codes, nil
}

// CanonicalBackupCode uppercases code and strips separators and whitespace.
func CanonicalBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			continue
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsBackupCodeShape reports whether code canonicalizes to 8 hex characters.
func IsBackupCodeShape(code string) bool {
	c := CanonicalBackupCode(code)
	if len(c) != backupCodeBytes*2 {
		return false
	}
	_, err := hex.DecodeString(c)
	return err == nil
}

// HashBackupCode binds a code to its owner: hex(SHA-256(accountID || 0x00 || canonical)).
func HashBackupCode(accountID, code string) string {
	h := sha256.New()
	_, _ = h.Write([]byte(accountID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(CanonicalBackupCode(code)))
	return hex.EncodeToString(h.Sum(nil))
}
