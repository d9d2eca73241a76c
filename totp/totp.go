package totp

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/stayAuth/cryptoutil"
	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

// SecretSize is the raw entropy of generated secrets in bytes.
const SecretSize = 20

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	ErrInvalidConfig = errors.New("invalid totp configuration")
	ErrInvalidSecret = errors.New("invalid totp secret")
)

// Config controls code shape and verification tolerance.
type Config struct {
	Issuer    string
	Period    time.Duration
	Digits    int
	Algorithm cryptoutil.Algorithm
	// Window is the number of time steps accepted on each side of the current one.
	Window int

	BackupCodeCount  int
	BackupCodeLength int
}

// DefaultConfig returns 6-digit SHA1 codes with a 30s step and one step of skew.
func DefaultConfig() Config {
	return Config{
		Issuer:           "stayAuth",
		Period:           30 * time.Second,
		Digits:           6,
		Algorithm:        cryptoutil.SHA1,
		Window:           1,
		BackupCodeCount:  10,
		BackupCodeLength: 10,
	}
}

// Validate reports configuration errors. They are programming errors and should stop
// the process at startup.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer must be set", ErrInvalidConfig)
	}
	if c.Period < time.Second || c.Period%time.Second != 0 {
		return fmt.Errorf("%w: period must be a whole number of seconds", ErrInvalidConfig)
	}
	if c.Digits < 6 || c.Digits > 8 {
		return fmt.Errorf("%w: digits must be between 6 and 8", ErrInvalidConfig)
	}
	if _, err := cryptoutil.HashFunc(c.Algorithm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Window < 0 || c.Window > 5 {
		return fmt.Errorf("%w: window must be between 0 and 5", ErrInvalidConfig)
	}
	if c.BackupCodeCount < 1 || c.BackupCodeCount > 32 {
		return fmt.Errorf("%w: backup code count must be between 1 and 32", ErrInvalidConfig)
	}
	if c.BackupCodeLength < 8 || c.BackupCodeLength > 32 {
		return fmt.Errorf("%w: backup code length must be between 8 and 32", ErrInvalidConfig)
	}
	return nil
}

// Engine generates and verifies codes for one configuration.
type Engine struct {
	config Config
	mod    uint32
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mod := uint32(1)
	for i := 0; i < cfg.Digits; i++ {
		mod *= 10
	}
	return &Engine{config: cfg, mod: mod}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// GenerateSecret returns a new base32 secret without padding.
func (e *Engine) GenerateSecret() (string, error) {
	raw, err := cryptoutil.RandomRaw(SecretSize)
	if err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// ProvisioningURI returns the otpauth:// URL an authenticator app scans.
func (e *Engine) ProvisioningURI(secret, account string) (string, error) {
	raw, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: account,
		Period:      uint(e.config.Period / time.Second),
		Secret:      raw,
		Digits:      otp.Digits(e.config.Digits),
		Algorithm:   otpAlgorithm(e.config.Algorithm),
	})
	if err != nil {
		return "", fmt.Errorf("build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// Counter returns the time step containing t.
func (e *Engine) Counter(t time.Time) int64 {
	return t.Unix() / int64(e.config.Period/time.Second)
}

// GenerateCode returns the code for the time step containing t.
func (e *Engine) GenerateCode(secret string, t time.Time) (string, error) {
	return e.CodeAt(secret, e.Counter(t))
}

// CodeAt returns the code for an explicit counter.
func (e *Engine) CodeAt(secret string, counter int64) (string, error) {
	raw, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	return e.hotp(raw, counter)
}

// VerifyCode checks code against the step containing t using the configured window.
func (e *Engine) VerifyCode(secret, code string, t time.Time) bool {
	ok, _ := e.VerifyCounter(secret, code, e.Counter(t), e.config.Window)
	return ok
}

// VerifyCounter checks code against counter-window..counter+window and returns the
// matching counter. The whole window is always evaluated.
func (e *Engine) VerifyCounter(secret, code string, counter int64, window int) (bool, int64) {
	code = normalizeCode(code)
	if len(code) != e.config.Digits || !isDigits(code) || window < 0 {
		return false, 0
	}
	raw, err := DecodeSecret(secret)
	if err != nil {
		return false, 0
	}

	var (
		matched    bool
		matchedCtr int64
	)
	for step := -window; step <= window; step++ {
		c := counter + int64(step)
		if c < 0 {
			continue
		}
		candidate, err := e.hotp(raw, c)
		if err != nil {
			return false, 0
		}
		if cryptoutil.EqualBytes([]byte(candidate), []byte(code)) && !matched {
			matched = true
			matchedCtr = c
		}
	}
	return matched, matchedCtr
}

func (e *Engine) hotp(secret []byte, counter int64) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	sum, err := cryptoutil.HMACRaw(e.config.Algorithm, secret, msg[:])
	if err != nil {
		return "", err
	}

	offset := sum[len(sum)-1] & 0x0f
	bin := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	return fmt.Sprintf("%0*d", e.config.Digits, bin%e.mod), nil
}

// DecodeSecret parses a base32 secret, tolerating lower case, spaces and padding.
func DecodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrInvalidSecret
	}
	raw, err := b32.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

func otpAlgorithm(alg cryptoutil.Algorithm) otp.Algorithm {
	switch cryptoutil.Algorithm(strings.ToUpper(string(alg))) {
	case cryptoutil.SHA256:
		return otp.AlgorithmSHA256
	case cryptoutil.SHA512:
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
