package token

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken covers malformed, mis-signed, expired and wrong-type tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevoked is returned for blacklisted access tokens and revoked or unknown
	// refresh records.
	ErrRevoked = errors.New("token revoked")
	// ErrReused is returned when a refresh token that was already rotated is presented.
	ErrReused = errors.New("refresh token reuse detected")
	// ErrCSRFMismatch is returned when the double-submit value does not match the claim.
	ErrCSRFMismatch = errors.New("csrf mismatch")
	// ErrUnavailable is returned when the blacklist or refresh store cannot answer.
	ErrUnavailable = errors.New("token store unavailable")
)

// ReuseError identifies the chain whose token was replayed.
type ReuseError struct {
	UserID    string
	SessionID string
	TokenID   string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%v: session %s", ErrReused, e.SessionID)
}

func (e *ReuseError) Unwrap() error { return ErrReused }
