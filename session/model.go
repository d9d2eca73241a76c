package session

import "time"

// Source reports which backend answered a read.
type Source uint8

const (
	SourcePrimary Source = iota
	SourceDurable
)

// Session is one logged-in device.
type Session struct {
	SessionID  string
	UserID     string
	TenantID   string
	Role       string
	AdminLevel int

	IPAddress         string
	UserAgent         string
	DeviceFingerprint string

	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time

	// Source is set on reads and never persisted.
	Source Source
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DurableSession is the audit-log view of a session. It can answer existence and role
// questions while the primary is down, nothing more.
type DurableSession struct {
	SessionID   string
	UserID      string
	TenantID    string
	Role        string
	AdminLevel  int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LoggedOutAt time.Time
}

// RefreshRecord tracks one refresh token in a rotation chain.
type RefreshRecord struct {
	TokenID    string
	UserID     string
	SessionID  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	IsRevoked  bool
	RevokedAt  time.Time
	ReplacedBy string
}
