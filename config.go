package stayAuth

import (
	"errors"
	"strings"
	"time"
)

// Config is the engine configuration. It is read once by [Builder.Build] and treated as
// immutable afterwards.
type Config struct {
	JWT            JWTConfig
	Session        SessionConfig
	Breaker        BreakerConfig
	TOTP           TOTPConfig
	Password       PasswordConfig
	Lockout        LockoutConfig
	DeviceBinding  DeviceBindingConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	Security       SecurityConfig
	MultiTenant    MultiTenantConfig
	ValidationMode ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix string
	// TTL is the idle timeout; every authenticated request slides expiry to now+TTL.
	TTL time.Duration
	// AbsoluteLifetime caps a session regardless of activity. Zero means JWT.RefreshTTL.
	AbsoluteLifetime time.Duration
	// SingleSession revokes every other session of the user on login.
	SingleSession bool
}

/*
====================================
BREAKER CONFIG
====================================
*/

// BreakerConfig guards the Redis primary.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	MonitoringWindow time.Duration
	CallTimeout      time.Duration
}

/*
====================================
TOTP CONFIG
====================================
*/

type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  time.Duration
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
	BackupCodeCount         int
	BackupCodeLength        int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Memory           uint32 // KiB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

// LockoutConfig drives the failed-attempt tracker.
type LockoutConfig struct {
	MaxAttempts  int
	ResetWindow  time.Duration
	LockDuration time.Duration
}

// DeviceBindingConfig controls the session fingerprint check. The fingerprint always
// covers the user agent; BindIP adds the client IP. With Enforce unset a mismatch is
// only audited.
type DeviceBindingConfig struct {
	Enabled bool
	Enforce bool
	BindIP  bool
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// DeliveryTimeout bounds one sink write; zero means two seconds.
	DeliveryTimeout time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

type SecurityConfig struct {
	ProductionMode bool
	// EncryptionKey seals session blobs and TOTP secrets (AES-GCM, 16/24/32 bytes).
	EncryptionKey []byte
}

type MultiTenantConfig struct {
	Enabled bool
	// EnforceIsolation makes Authorize reject a scope outside the identity's tenant.
	EnforceIsolation bool
}

// ValidationMode selects how much server state a bearer token must be backed by.
type ValidationMode int

const (
	// ModeJWTOnly trusts a valid, non-blacklisted access token alone.
	ModeJWTOnly ValidationMode = iota
	// ModeHybrid validates the token and touches its session when present.
	ModeHybrid
	// ModeStrict additionally requires a live session record.
	ModeStrict
)

func (m ValidationMode) String() string {
	switch m {
	case ModeJWTOnly:
		return "jwt_only"
	case ModeHybrid:
		return "hybrid"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ParseValidationMode accepts the String forms.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jwt_only", "jwt-only", "jwtonly":
		return ModeJWTOnly, nil
	case "", "hybrid":
		return ModeHybrid, nil
	case "strict":
		return ModeStrict, nil
	default:
		return 0, errors.New("unknown validation mode: " + s)
	}
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the engine defaults. Keys must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "stayauth",
			Audience:      "stay-api",
			Leeway:        5 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:   "",
			TTL:           30 * time.Minute,
			SingleSession: false,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      30 * time.Second,
			MonitoringWindow: time.Minute,
			CallTimeout:      2 * time.Second,
		},
		TOTP: TOTPConfig{
			Issuer:                  "stayAuth",
			Digits:                  6,
			Period:                  30 * time.Second,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			BackupCodeCount:         10,
			BackupCodeLength:        10,
		},
		Password: PasswordConfig{
			Memory:           64 * 1024,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		Lockout: LockoutConfig{
			MaxAttempts:  5,
			ResetWindow:  15 * time.Minute,
			LockDuration: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		MultiTenant: MultiTenantConfig{
			Enabled:          true,
			EnforceIsolation: true,
		},
		ValidationMode: ModeHybrid,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Security.EncryptionKey = cloneBytes(cfg.Security.EncryptionKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) absoluteLifetime() time.Duration {
	if c.Session.AbsoluteLifetime > 0 {
		return c.Session.AbsoluteLifetime
	}
	return c.JWT.RefreshTTL
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error. Errors are fatal at startup.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" || strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Issuer and Audience are required")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.AbsoluteLifetime < 0 {
		return errors.New("Session AbsoluteLifetime must be >= 0")
	}
	if c.absoluteLifetime() < c.Session.TTL {
		return errors.New("Session AbsoluteLifetime must be >= TTL")
	}

	// Breaker
	if c.Breaker.FailureThreshold < 1 || c.Breaker.SuccessThreshold < 1 {
		return errors.New("Breaker thresholds must be >= 1")
	}
	if c.Breaker.OpenTimeout <= 0 || c.Breaker.MonitoringWindow <= 0 || c.Breaker.CallTimeout <= 0 {
		return errors.New("Breaker timeouts must be > 0")
	}

	// TOTP
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("TOTP Digits must be between 6 and 8")
	}
	if c.TOTP.Period < 15*time.Second {
		return errors.New("TOTP Period must be >= 15s")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}
	if c.TOTP.BackupCodeCount <= 0 || c.TOTP.BackupCodeLength <= 0 {
		return errors.New("TOTP backup code count and length must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// Lockout
	if c.Lockout.MaxAttempts <= 0 {
		return errors.New("Lockout MaxAttempts must be > 0")
	}
	if c.Lockout.ResetWindow <= 0 || c.Lockout.LockDuration <= 0 {
		return errors.New("Lockout durations must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.DeliveryTimeout < 0 {
		return errors.New("Audit DeliveryTimeout must be >= 0")
	}

	// Security
	switch len(c.Security.EncryptionKey) {
	case 16, 24, 32:
	default:
		return errors.New("Security EncryptionKey must be 16, 24 or 32 bytes")
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeHybrid, ModeStrict:
	default:
		return errors.New("invalid ValidationMode")
	}
	if c.ValidationMode == ModeJWTOnly && c.DeviceBinding.Enforce {
		return errors.New("JWTOnly mode cannot enforce device binding")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if len(c.Security.EncryptionKey) != 32 {
			return errors.New("ProductionMode requires a 256-bit EncryptionKey")
		}
		if c.Password.Memory < 64*1024 || c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB and Time >= 2")
		}
		if !c.TOTP.EnforceReplayProtection {
			return errors.New("ProductionMode requires TOTP EnforceReplayProtection")
		}
		if c.TOTP.Skew > 2 {
			return errors.New("ProductionMode requires TOTP Skew <= 2")
		}
		if c.TOTP.BackupCodeCount < 8 || c.TOTP.BackupCodeLength < 8 {
			return errors.New("ProductionMode requires at least 8 backup codes of length >= 8")
		}
	}

	return nil
}
