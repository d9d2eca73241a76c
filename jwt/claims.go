package jwt

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is carried in the `typ` claim.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrWrongTokenType is returned when an access token is presented as a refresh token
	// or the other way around.
	ErrWrongTokenType = errors.New("wrong token type")
	// ErrMissingTokenID is returned for tokens without a jti.
	ErrMissingTokenID = errors.New("token has no jti")
)

// Subject is the identity a token pair is minted for.
type Subject struct {
	UserID     string
	Role       string
	AdminLevel int
	TenantID   string
	SessionID  string
}

// Claims are the fields shared by both token types.
type Claims struct {
	UserID     string    `json:"uid"`
	Role       string    `json:"role,omitempty"`
	AdminLevel int       `json:"adm,omitempty"`
	TenantID   string    `json:"tid,omitempty"`
	SessionID  string    `json:"sid"`
	Type       TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Identity returns the subject fields of the claims.
func (c Claims) Identity() Subject {
	return Subject{
		UserID:     c.UserID,
		Role:       c.Role,
		AdminLevel: c.AdminLevel,
		TenantID:   c.TenantID,
		SessionID:  c.SessionID,
	}
}

func (c Claims) validate(want TokenType) error {
	if c.Type != want {
		return ErrWrongTokenType
	}
	if c.ID == "" {
		return ErrMissingTokenID
	}
	if c.UserID == "" {
		return errors.New("token has no uid")
	}
	return nil
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Claims
}

// Validate is called by the parser after the registered claims pass.
func (c AccessClaims) Validate() error {
	return c.validate(TypeAccess)
}

// RefreshClaims is the payload of a refresh token. CSRF binds the token to a value the
// client must echo back on refresh.
type RefreshClaims struct {
	Claims
	CSRF     string `json:"csrf"`
	DeviceID string `json:"did,omitempty"`
}

// Validate is called by the parser after the registered claims pass.
func (c RefreshClaims) Validate() error {
	if err := c.validate(TypeRefresh); err != nil {
		return err
	}
	if c.CSRF == "" {
		return errors.New("refresh token has no csrf binding")
	}
	return nil
}
