package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no live record exists.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable is returned when neither backend could answer.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrCorrupt is returned when a primary blob cannot be opened or decoded.
	ErrCorrupt = errors.New("session record corrupt")
)

// Durable is the relational audit mirror. Implementations return ErrNotFound for
// unknown IDs.
type Durable interface {
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, sessionID string) (*DurableSession, error)
	MarkLoggedOut(ctx context.Context, sessionID string, at time.Time) error
	MarkUserLoggedOut(ctx context.Context, userID string, at time.Time) (int64, error)

	SaveRefresh(ctx context.Context, r *RefreshRecord) error
	MarkRefreshRotated(ctx context.Context, tokenID, replacedBy string, at time.Time) error
	RevokeRefreshForSession(ctx context.Context, sessionID string, at time.Time) (int64, error)
	RevokeRefreshForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}
