package stayAuth

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with keys", mutate: func(c *Config) {}, wantValid: true},
		{
			name:      "refresh not longer than access",
			mutate:    func(c *Config) { c.JWT.RefreshTTL = c.JWT.AccessTTL },
			wantValid: false,
		},
		{
			name:      "unsupported signing method",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name: "hs256 with short secret",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "hs256"
				c.JWT.PrivateKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "hs256 with long secret",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "hs256"
				c.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
			},
			wantValid: true,
		},
		{
			name:      "blank audience",
			mutate:    func(c *Config) { c.JWT.Audience = "   " },
			wantValid: false,
		},
		{
			name: "absolute lifetime below idle ttl",
			mutate: func(c *Config) {
				c.Session.TTL = time.Hour
				c.Session.AbsoluteLifetime = 30 * time.Minute
			},
			wantValid: false,
		},
		{
			name:      "totp digits out of range",
			mutate:    func(c *Config) { c.TOTP.Digits = 9 },
			wantValid: false,
		},
		{
			name:      "totp algorithm unknown",
			mutate:    func(c *Config) { c.TOTP.Algorithm = "MD5" },
			wantValid: false,
		},
		{
			name:      "totp sha256 accepted",
			mutate:    func(c *Config) { c.TOTP.Algorithm = "sha256" },
			wantValid: true,
		},
		{
			name:      "argon2 memory too low",
			mutate:    func(c *Config) { c.Password.Memory = 1024 },
			wantValid: false,
		},
		{
			name:      "lockout attempts zero",
			mutate:    func(c *Config) { c.Lockout.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "encryption key wrong size",
			mutate:    func(c *Config) { c.Security.EncryptionKey = []byte("short") },
			wantValid: false,
		},
		{
			name:      "audit enabled without buffer",
			mutate:    func(c *Config) { c.Audit.BufferSize = 0 },
			wantValid: false,
		},
		{
			name:      "audit disabled without buffer",
			mutate:    func(c *Config) { c.Audit.Enabled, c.Audit.BufferSize = false, 0 },
			wantValid: true,
		},
		{
			name: "jwt only with enforced device binding",
			mutate: func(c *Config) {
				c.ValidationMode = ModeJWTOnly
				c.DeviceBinding.Enabled = true
				c.DeviceBinding.Enforce = true
			},
			wantValid: false,
		},
		{
			name:      "unknown validation mode",
			mutate:    func(c *Config) { c.ValidationMode = ValidationMode(42) },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Password.Memory = 64 * 1024
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigValidateProduction(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "long access ttl", mutate: func(c *Config) { c.JWT.AccessTTL = time.Hour }},
		{name: "128-bit encryption key", mutate: func(c *Config) { c.Security.EncryptionKey = []byte("0123456789abcdef") }},
		{name: "weak argon2", mutate: func(c *Config) { c.Password.Time = 1 }},
		{name: "replay protection off", mutate: func(c *Config) { c.TOTP.EnforceReplayProtection = false }},
		{name: "wide totp skew", mutate: func(c *Config) { c.TOTP.Skew = 3 }},
		{name: "few backup codes", mutate: func(c *Config) { c.TOTP.BackupCodeCount = 4 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Password.Memory = 64 * 1024
			cfg.Password.Time = 3
			cfg.Security.ProductionMode = true
			if err := cfg.Validate(); err != nil {
				t.Fatalf("baseline production config rejected: %v", err)
			}
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected production validation error")
			}
		})
	}
}

func TestParseValidationMode(t *testing.T) {
	for _, mode := range []ValidationMode{ModeJWTOnly, ModeHybrid, ModeStrict} {
		got, err := ParseValidationMode(mode.String())
		if err != nil || got != mode {
			t.Fatalf("round trip %v: got %v %v", mode, got, err)
		}
	}
	if _, err := ParseValidationMode("paranoid"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := testConfig(t)
	out := cloneConfig(cfg)
	cfg.Security.EncryptionKey[0] ^= 0xff
	cfg.JWT.PrivateKey[0] ^= 0xff
	if out.Security.EncryptionKey[0] == cfg.Security.EncryptionKey[0] {
		t.Fatal("cloneConfig must not share encryption key bytes")
	}
	if out.JWT.PrivateKey[0] == cfg.JWT.PrivateKey[0] {
		t.Fatal("cloneConfig must not share signing key bytes")
	}
}
