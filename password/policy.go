package password

import "strings"

// SpecialCharacters is the set a strong password must draw from.
const SpecialCharacters = "@$!%*?&"

// MinLength is the shortest accepted password.
const MinLength = 8

// MaxBytes is the longest accepted password in bytes. bcrypt refuses longer
// input.
const MaxBytes = 72

// Strength is the outcome of a policy check. Errors lists every violated rule
// in a stable order.
type Strength struct {
	Valid  bool
	Errors []string
}

// CheckStrength applies the password rules: at least MinLength characters and
// at most MaxBytes bytes, a lowercase letter, an uppercase letter, a digit and
// one of SpecialCharacters.
func CheckStrength(pw string) Strength {
	var lower, upper, digit, special bool
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}

	var errs []string
	if len([]rune(pw)) < MinLength {
		errs = append(errs, "Password must be at least 8 characters long")
	}
	if len(pw) > MaxBytes {
		errs = append(errs, "Password must be at most 72 bytes long")
	}
	if !lower {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if !upper {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if !digit {
		errs = append(errs, "Password must contain at least one number")
	}
	if !special {
		errs = append(errs, "Password must contain at least one special character (@$!%*?&)")
	}

	return Strength{Valid: len(errs) == 0, Errors: errs}
}
