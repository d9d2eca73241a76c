package password

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrTooShort is returned by Hash for passwords under the minimum length.
	ErrTooShort = errors.New("password must be at least 10 bytes")
	// ErrTooLong is returned for passwords over Config.MaxPasswordBytes.
	ErrTooLong = errors.New("password too long")
	// ErrMalformedHash is returned for stored hashes in no recognized format.
	ErrMalformedHash = errors.New("invalid password hash format")
)

// Hasher hashes with Argon2id and verifies both Argon2id and legacy bcrypt hashes.
// Accounts migrated from the old system carry bcrypt hashes until their next login.
type Hasher struct {
	argon *Argon2

	dummyOnce sync.Once
	dummy     string
}

// NewHasher builds a Hasher with the given Argon2id parameters.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash produces an Argon2id PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify checks password against either hash family.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$"+algorithmID+"$"):
		return h.argon.Verify(password, encoded)
	case isBcrypt(encoded):
		if len(password) > h.argon.cfg.MaxPasswordBytes {
			return false, ErrTooLong
		}
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, ErrMalformedHash
		}
		return true, nil
	default:
		return false, ErrMalformedHash
	}
}

// NeedsRehash is true for bcrypt hashes and for Argon2id hashes with weaker
// parameters than the current configuration.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encoded)
	return err == nil && upgrade
}

// DummyVerify spends the same work as a real Argon2id verification. Login calls it
// for unknown identifiers so response time does not reveal whether an account exists.
func (h *Hasher) DummyVerify(password string) {
	h.dummyOnce.Do(func() {
		d, err := h.argon.Hash("dummy-password-for-timing")
		if err == nil {
			h.dummy = d
		}
	})
	if h.dummy != "" {
		_, _ = h.argon.Verify(password, h.dummy)
	}
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}
