package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/stayAuth/cryptoutil"
	"github.com/MrEthical07/stayAuth/internal"
	"github.com/MrEthical07/stayAuth/jwt"
	"github.com/MrEthical07/stayAuth/session"
	gojwt "github.com/golang-jwt/jwt/v5"
)

// Pair is the credential set handed to a client after login or rotation.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	CSRFToken        string
	AccessID         string
	RefreshID        string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Service binds the JWT manager to the refresh store and blacklist.
type Service struct {
	jwt       *jwt.Manager
	refresh   *session.RefreshStore
	blacklist *Blacklist
	crypto    cryptoutil.Provider
}

// NewService wires the token service.
func NewService(manager *jwt.Manager, refresh *session.RefreshStore, blacklist *Blacklist) (*Service, error) {
	if manager == nil || refresh == nil || blacklist == nil {
		return nil, errors.New("token: manager, refresh store and blacklist are required")
	}
	return &Service{
		jwt:       manager,
		refresh:   refresh,
		blacklist: blacklist,
		crypto:    cryptoutil.Std,
	}, nil
}

// Issue mints an access/refresh pair for subject and stores the refresh record.
// subject.SessionID must be set.
func (s *Service) Issue(ctx context.Context, subject jwt.Subject, deviceID string) (*Pair, error) {
	if subject.UserID == "" || subject.SessionID == "" {
		return nil, errors.New("token: subject needs user and session")
	}
	pair, rec, err := s.mint(subject, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return pair, nil
}

func (s *Service) mint(subject jwt.Subject, deviceID string) (*Pair, *session.RefreshRecord, error) {
	csrf, err := internal.NewCSRFToken()
	if err != nil {
		return nil, nil, err
	}
	access, ac, err := s.jwt.SignAccess(subject)
	if err != nil {
		return nil, nil, err
	}
	refresh, rc, err := s.jwt.SignRefresh(subject, csrf, deviceID)
	if err != nil {
		return nil, nil, err
	}
	pair := &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		CSRFToken:        csrf,
		AccessID:         ac.ID,
		RefreshID:        rc.ID,
		SessionID:        subject.SessionID,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
	}
	rec := &session.RefreshRecord{
		TokenID:   rc.ID,
		UserID:    subject.UserID,
		SessionID: subject.SessionID,
		CreatedAt: rc.IssuedAt.Time,
		ExpiresAt: rc.ExpiresAt.Time,
	}
	return pair, rec, nil
}

// ValidateAccess checks the blacklist, then signature, issuer, audience, expiry and
// type. A blacklist that cannot be read rejects the token.
func (s *Service) ValidateAccess(ctx context.Context, token string) (*jwt.AccessClaims, error) {
	jti, err := s.jwt.PeekID(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	listed, err := s.blacklist.Contains(ctx, jti)
	if err != nil {
		return nil, err
	}
	if listed {
		return nil, ErrRevoked
	}
	claims, err := s.jwt.ParseAccess(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Inspect verifies an access token without consulting the blacklist. Logout uses it so
// a second logout with the same token still resolves its session.
func (s *Service) Inspect(token string) (*jwt.AccessClaims, error) {
	claims, err := s.jwt.ParseAccess(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// ValidateRefresh verifies a refresh token and its record. csrf is compared in
// constant time when supplied. A record already rotated away yields a *ReuseError;
// one revoked by logout yields ErrRevoked.
func (s *Service) ValidateRefresh(ctx context.Context, token, csrf string) (*jwt.RefreshClaims, *session.RefreshRecord, error) {
	claims, err := s.jwt.ParseRefresh(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if csrf != "" && !s.crypto.ConstantTimeEqual(csrf, claims.CSRF) {
		return nil, nil, ErrCSRFMismatch
	}
	rec, err := s.refresh.Get(ctx, claims.ID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil, ErrRevoked
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rec.UserID != claims.UserID || rec.SessionID != claims.SessionID {
		return nil, nil, ErrInvalidToken
	}
	if rec.IsRevoked && rec.ReplacedBy == "" {
		return nil, nil, ErrRevoked
	}
	if rec.IsRevoked {
		return nil, nil, &ReuseError{UserID: rec.UserID, SessionID: rec.SessionID, TokenID: rec.TokenID}
	}
	return claims, rec, nil
}

// Rotate exchanges a refresh token for a new pair on the same session. Concurrent
// rotations of one token have exactly one winner; the rest get a *ReuseError.
func (s *Service) Rotate(ctx context.Context, token, csrf string) (*Pair, *jwt.RefreshClaims, error) {
	claims, _, err := s.ValidateRefresh(ctx, token, csrf)
	if err != nil {
		return nil, nil, err
	}
	pair, next, err := s.mint(claims.Identity(), claims.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	switch err := s.refresh.Rotate(ctx, claims.ID, next); {
	case err == nil:
		return pair, claims, nil
	case errors.Is(err, session.ErrRefreshReused):
		return nil, nil, &ReuseError{UserID: claims.UserID, SessionID: claims.SessionID, TokenID: claims.ID}
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrRefreshExpired):
		return nil, nil, ErrRevoked
	case errors.Is(err, session.ErrRefreshMismatch):
		return nil, nil, ErrInvalidToken
	default:
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// Revoke blacklists an access token for the rest of its lifetime. Expired tokens need
// no entry and return nil.
func (s *Service) Revoke(ctx context.Context, accessToken, reason string) error {
	claims, err := s.jwt.ParseAccess(accessToken)
	if errors.Is(err, gojwt.ErrTokenExpired) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return s.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time, reason)
}

// RevokeSession revokes one session's refresh chain.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	return s.refresh.RevokeSession(ctx, sessionID)
}

// RevokeAll revokes every refresh record of userID and blacklists currentAccess when
// given. Returns the number of refresh records newly revoked.
func (s *Service) RevokeAll(ctx context.Context, userID, currentAccess string) (int, error) {
	n, err := s.refresh.RevokeAllForUser(ctx, userID)
	if currentAccess != "" {
		if rerr := s.Revoke(ctx, currentAccess, "logout_all"); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return n, err
}
