// Package config loads process configuration from the environment for stayauthctl.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	stayAuth "github.com/MrEthical07/stayAuth"
)

// Config contains process configuration parameters.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	HTTP     HTTP     `envPrefix:"HTTP_"`
	GRPC     GRPC     `envPrefix:"GRPC_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Postgres Postgres `envPrefix:"POSTGRES_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`

	JWT      JWT      `envPrefix:"JWT_"`
	Session  Session  `envPrefix:"SESSION_"`
	Security Security `envPrefix:"SECURITY_"`
	TOTP     TOTP     `envPrefix:"TOTP_"`
	Lockout  Lockout  `envPrefix:"LOCKOUT_"`
	Password Password `envPrefix:"PASSWORD_"`
	Device   Device   `envPrefix:"DEVICE_BINDING_"`
}

// HTTP contains HTTP listener parameters.
type HTTP struct {
	Addr         string        `env:"ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"true"`
}

// GRPC contains gRPC listener parameters. An empty Addr disables the listener.
type GRPC struct {
	Addr string `env:"ADDR"`
}

// Redis contains primary session store connection parameters.
type Redis struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Postgres contains durable store parameters. An empty DSN disables the mirror.
type Postgres struct {
	DSN     string `env:"DSN"`
	Migrate bool   `env:"MIGRATE" envDefault:"false"`
}

// Kafka contains audit feed parameters. No brokers means no Kafka sink.
type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"stayauth.audit"`
}

// JWT contains token signing parameters. Keys are base64 (raw bytes) or PEM.
type JWT struct {
	SigningMethod string        `env:"SIGNING_METHOD" envDefault:"ed25519"`
	PrivateKey    string        `env:"PRIVATE_KEY"`
	PublicKey     string        `env:"PUBLIC_KEY"`
	KeyID         string        `env:"KEY_ID"`
	Issuer        string        `env:"ISSUER" envDefault:"stayauth"`
	Audience      string        `env:"AUDIENCE" envDefault:"stay-api"`
	AccessTTL     time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	Leeway        time.Duration `env:"LEEWAY" envDefault:"5s"`
}

// Session contains session lifetime parameters.
type Session struct {
	RedisPrefix      string        `env:"REDIS_PREFIX"`
	TTL              time.Duration `env:"TTL" envDefault:"30m"`
	AbsoluteLifetime time.Duration `env:"ABSOLUTE_LIFETIME"`
	SingleSession    bool          `env:"SINGLE" envDefault:"false"`
	ValidationMode   string        `env:"VALIDATION_MODE" envDefault:"hybrid"`
}

// Security contains the sealing key and production switches.
type Security struct {
	EncryptionKey  string `env:"ENCRYPTION_KEY"`
	ProductionMode bool   `env:"PRODUCTION" envDefault:"false"`
}

// TOTP contains second factor parameters.
type TOTP struct {
	Issuer string `env:"ISSUER" envDefault:"stayAuth"`
	Skew   int    `env:"SKEW" envDefault:"1"`
}

// Lockout contains failed-attempt parameters.
type Lockout struct {
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	ResetWindow  time.Duration `env:"RESET_WINDOW" envDefault:"15m"`
	LockDuration time.Duration `env:"DURATION" envDefault:"15m"`
}

// Password contains Argon2id cost parameters.
type Password struct {
	MemoryKiB   uint32 `env:"MEMORY_KIB" envDefault:"65536"`
	Time        uint32 `env:"TIME" envDefault:"3"`
	Parallelism uint8  `env:"PARALLELISM" envDefault:"2"`
}

// Device contains device binding switches.
type Device struct {
	Enabled bool `env:"ENABLED" envDefault:"false"`
	Enforce bool `env:"ENFORCE" envDefault:"false"`
	BindIP  bool `env:"BIND_IP" envDefault:"false"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Load reads the given dotenv files (".env" when none are given) into the process
// environment and then parses it. Missing files are skipped; variables already set in
// the environment win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}
	return NewConfig()
}

// Engine maps c onto the engine configuration, decoding keys. The result has not been
// validated; Builder.Build does that.
func (c *Config) Engine() (stayAuth.Config, error) {
	out := stayAuth.DefaultConfig()

	mode, err := stayAuth.ParseValidationMode(c.Session.ValidationMode)
	if err != nil {
		return out, err
	}
	out.ValidationMode = mode

	out.JWT.SigningMethod = strings.ToLower(c.JWT.SigningMethod)
	out.JWT.KeyID = c.JWT.KeyID
	out.JWT.Issuer = c.JWT.Issuer
	out.JWT.Audience = c.JWT.Audience
	out.JWT.AccessTTL = c.JWT.AccessTTL
	out.JWT.RefreshTTL = c.JWT.RefreshTTL
	out.JWT.Leeway = c.JWT.Leeway
	if out.JWT.PrivateKey, err = decodeKey("JWT_PRIVATE_KEY", c.JWT.PrivateKey); err != nil {
		return out, err
	}
	if out.JWT.PublicKey, err = decodeKey("JWT_PUBLIC_KEY", c.JWT.PublicKey); err != nil {
		return out, err
	}
	if out.JWT.SigningMethod == "ed25519" && len(out.JWT.PublicKey) == 0 && len(out.JWT.PrivateKey) == ed25519.PrivateKeySize {
		out.JWT.PublicKey = ed25519.PrivateKey(out.JWT.PrivateKey).Public().(ed25519.PublicKey)
	}

	out.Session.RedisPrefix = c.Session.RedisPrefix
	out.Session.TTL = c.Session.TTL
	out.Session.AbsoluteLifetime = c.Session.AbsoluteLifetime
	out.Session.SingleSession = c.Session.SingleSession

	if out.Security.EncryptionKey, err = decodeKey("SECURITY_ENCRYPTION_KEY", c.Security.EncryptionKey); err != nil {
		return out, err
	}
	out.Security.ProductionMode = c.Security.ProductionMode

	out.TOTP.Issuer = c.TOTP.Issuer
	out.TOTP.Skew = c.TOTP.Skew

	out.Lockout.MaxAttempts = c.Lockout.MaxAttempts
	out.Lockout.ResetWindow = c.Lockout.ResetWindow
	out.Lockout.LockDuration = c.Lockout.LockDuration

	out.Password.Memory = c.Password.MemoryKiB
	out.Password.Time = c.Password.Time
	out.Password.Parallelism = c.Password.Parallelism

	out.DeviceBinding.Enabled = c.Device.Enabled
	out.DeviceBinding.Enforce = c.Device.Enforce
	out.DeviceBinding.BindIP = c.Device.BindIP

	out.Metrics.Enabled = true
	out.Metrics.EnableLatencyHistograms = true
	return out, nil
}

// decodeKey accepts PEM text as-is and otherwise expects standard base64.
func decodeKey(name, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base64: %w", name, err)
	}
	return b, nil
}
