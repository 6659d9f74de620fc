package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Algorithm names accepted by New.
const (
	AlgorithmBcrypt = "bcrypt"
	AlgorithmArgon2 = "argon2id"
)

// DefaultBcryptCost matches the production work factor.
const DefaultBcryptCost = 12

// ErrUnknownHashFormat is returned by Verify for a stored hash no configured
// algorithm recognizes.
var ErrUnknownHashFormat = errors.New("unknown password hash format")

// Hasher produces and checks password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Options selects and tunes the active algorithm.
type Options struct {
	Algorithm  string
	BcryptCost int
	Argon2     Argon2Config
}

// Bcrypt hashes with golang.org/x/crypto/bcrypt.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a Bcrypt hasher. Cost must lie within bcrypt's bounds.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *Bcrypt) Verify(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

func (b *Bcrypt) NeedsUpgrade(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, err
	}
	return cost < b.cost, nil
}

// Multi hashes with a primary algorithm and verifies any supported format,
// so stored hashes can migrate between algorithms on login.
type Multi struct {
	primary Hasher
	bcrypt  *Bcrypt
	argon2  *Argon2
}

// New builds a Multi from opts. Zero values select bcrypt at DefaultBcryptCost.
func New(opts Options) (*Multi, error) {
	cost := opts.BcryptCost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	bc, err := NewBcrypt(cost)
	if err != nil {
		return nil, err
	}

	a2cfg := opts.Argon2
	if a2cfg == (Argon2Config{}) {
		a2cfg = DefaultArgon2Config()
	}
	a2, err := NewArgon2(a2cfg)
	if err != nil {
		return nil, err
	}

	m := &Multi{bcrypt: bc, argon2: a2}
	switch strings.ToLower(opts.Algorithm) {
	case "", AlgorithmBcrypt:
		m.primary = bc
	case AlgorithmArgon2, "argon2":
		m.primary = a2
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", opts.Algorithm)
	}
	return m, nil
}

func (m *Multi) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	h := m.forHash(encodedHash)
	if h == nil {
		return false, ErrUnknownHashFormat
	}
	return h.Verify(password, encodedHash)
}

// NeedsUpgrade is true when encodedHash uses a different algorithm than the
// primary or weaker parameters.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	h := m.forHash(encodedHash)
	if h == nil {
		return false, ErrUnknownHashFormat
	}
	if h != m.primary {
		return true, nil
	}
	return h.NeedsUpgrade(encodedHash)
}

func (m *Multi) forHash(encodedHash string) Hasher {
	switch {
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		return m.bcrypt
	case strings.HasPrefix(encodedHash, "$"+algorithmID+"$"):
		return m.argon2
	default:
		return nil
	}
}
