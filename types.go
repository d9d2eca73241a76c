package stayAuth

import (
	"context"
	"time"

	"github.com/MrEthical07/stayAuth/lockout"
)

// AuthSource reports which credential proved an identity.
type AuthSource uint8

const (
	SourceBearer AuthSource = iota + 1
	SourceSession
	// SourceSessionDurable means the session was confirmed by the durable mirror while
	// the primary store was unavailable.
	SourceSessionDurable
)

func (s AuthSource) String() string {
	switch s {
	case SourceBearer:
		return "bearer"
	case SourceSession:
		return "session"
	case SourceSessionDurable:
		return "session_durable"
	default:
		return "unknown"
	}
}

// Identity is the answer to "who is making this request".
type Identity struct {
	UserID     string
	Role       string
	AdminLevel int
	TenantID   string
	SessionID  string
	Source     AuthSource
}

// Request carries the inbound credentials for Authenticate. Either field may be empty.
type Request struct {
	BearerToken string
	SessionID   string
	IP          string
	UserAgent   string
}

// Credentials is a login attempt. At most one of TOTPCode and BackupCode is used;
// TOTPCode wins when both are set.
type Credentials struct {
	TenantID   string
	Identifier string
	Password   string
	TOTPCode   string
	BackupCode string
}

// Device describes the client performing a login.
type Device struct {
	IP        string
	UserAgent string
	// DeviceID is an optional client-chosen identifier bound into the refresh token.
	DeviceID string
}

// Tokens identifies the caller on logout. AccessToken is preferred; SessionID is the
// cookie-continuity fallback.
type Tokens struct {
	AccessToken string
	SessionID   string
}

// TokenPair is handed to the client after login or refresh. CSRFToken must be echoed
// on refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	CSRFToken        string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult is either a completed login or a request for the second factor.
type LoginResult struct {
	TwoFactorRequired bool

	Tokens   *TokenPair
	Identity *Identity
}

// LogoutAllResult counts what a logout-everywhere removed. Both are zero when nothing
// was left to revoke.
type LogoutAllResult struct {
	Sessions      int
	RefreshTokens int
}

// TwoFactorSetup is returned once; the plaintext secret and backup codes are never
// retrievable again.
type TwoFactorSetup struct {
	Secret      string
	QRURL       string
	BackupCodes []string
}

// TwoFactorCredential lives on the account. Secret is sealed with the engine's
// encryption key; BackupCodeHashes are SHA-256 hex of normalized codes.
type TwoFactorCredential struct {
	Secret           string
	BackupCodeHashes []string
	Enabled          bool
	LastCounter      int64
}

// Account is the engine's view of an application user.
type Account struct {
	UserID       string
	Identifier   string
	TenantID     string
	PasswordHash string
	Role         string
	AdminLevel   int
	Disabled     bool

	Lockout   lockout.Record
	TwoFactor TwoFactorCredential
}

// AccountStore is implemented by the application (see store/postgres for one
// implementation). Lookups return ErrAccountNotFound for unknown accounts.
type AccountStore interface {
	GetByIdentifier(ctx context.Context, tenantID, identifier string) (*Account, error)
	GetByID(ctx context.Context, userID string) (*Account, error)
	// RecordLockoutFailure applies t.RecordFailure to the stored record atomically and
	// returns the result. Concurrent calls must each see the others' increments.
	RecordLockoutFailure(ctx context.Context, userID string, t lockout.Tracker, now time.Time) (lockout.Record, error)
	UpdateLockout(ctx context.Context, userID string, rec lockout.Record) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	SaveTwoFactor(ctx context.Context, userID string, cred TwoFactorCredential) error
	// AdvanceTOTPCounter stores counter only if it is greater than the stored one and
	// reports whether it did.
	AdvanceTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error)
	// ConsumeBackupCode atomically removes hash and reports whether it was present.
	ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error)
}
