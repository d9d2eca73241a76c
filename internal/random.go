package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Both identifiers carry 256 bits and encode to 43 URL-safe characters.
const (
	sessionIDBytes = 32
	csrfBytes      = 32
)

var tokenEncoding = base64.RawURLEncoding

// ErrInvalidSessionID is returned by ParseSessionID for anything NewSessionID could
// not have produced.
var ErrInvalidSessionID = errors.New("invalid session id")

// SessionID is the raw form of a session identifier.
type SessionID [sessionIDBytes]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	if err := fill(sid[:]); err != nil {
		return SessionID{}, err
	}
	return sid, nil
}

func (s SessionID) String() string {
	return tokenEncoding.EncodeToString(s[:])
}

// ParseSessionID checks the encoded length before decoding so oversized cookies are
// rejected without allocation.
func ParseSessionID(s string) (SessionID, error) {
	var sid SessionID
	if len(s) != tokenEncoding.EncodedLen(sessionIDBytes) {
		return sid, ErrInvalidSessionID
	}
	n, err := tokenEncoding.Decode(sid[:], []byte(s))
	if err != nil || n != sessionIDBytes {
		return SessionID{}, ErrInvalidSessionID
	}
	return sid, nil
}

// NewSessionIDString is NewSessionID followed by String.
func NewSessionIDString() (string, error) {
	sid, err := NewSessionID()
	if err != nil {
		return "", err
	}
	return sid.String(), nil
}

// NewCSRFToken returns the value bound into a refresh token and echoed by the client
// on refresh.
func NewCSRFToken() (string, error) {
	b := make([]byte, csrfBytes)
	if err := fill(b); err != nil {
		return "", err
	}
	return tokenEncoding.EncodeToString(b), nil
}

func fill(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("read random: %w", err)
	}
	return nil
}
