package stayAuth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/stayAuth/internal/audit"
	"github.com/MrEthical07/stayAuth/session"
)

// caller is the subject resolved from a Tokens value on logout.
type caller struct {
	userID   string
	tenantID string
	session  string
	access   string
}

// resolveCaller accepts a signed, unexpired access token even when it is already
// blacklisted, so repeating a logout is not an error.
func (e *Engine) resolveCaller(ctx context.Context, t Tokens) (*caller, error) {
	if t.AccessToken != "" {
		claims, err := e.tokens.Inspect(t.AccessToken)
		if err == nil {
			return &caller{
				userID:   claims.UserID,
				tenantID: claims.TenantID,
				session:  claims.SessionID,
				access:   t.AccessToken,
			}, nil
		}
	}
	if t.SessionID != "" {
		sess, err := e.sessions.Get(ctx, t.SessionID)
		switch {
		case err == nil:
			return &caller{userID: sess.UserID, tenantID: sess.TenantID, session: sess.SessionID}, nil
		case !errors.Is(err, session.ErrNotFound):
			return nil, fmt.Errorf("%w: session lookup: %v", ErrUnavailable, err)
		}
	}
	return nil, ErrUnauthenticated
}

// Logout blacklists the access token, deletes the session and revokes its refresh
// chain. The blacklist write happens first; if it fails the logout fails.
func (e *Engine) Logout(ctx context.Context, t Tokens) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	c, err := e.resolveCaller(ctx, t)
	if err != nil {
		return err
	}

	if c.access != "" {
		if err := e.tokens.Revoke(ctx, c.access, "logout"); err != nil {
			return fmt.Errorf("%w: blacklist: %v", ErrUnavailable, err)
		}
	}
	if c.session != "" {
		if _, err := e.sessions.Delete(ctx, c.session); err != nil {
			return fmt.Errorf("%w: delete session: %v", ErrUnavailable, err)
		}
		if _, err := e.tokens.RevokeSession(ctx, c.session); err != nil {
			return fmt.Errorf("%w: revoke refresh: %v", ErrUnavailable, err)
		}
	}

	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, audit.Logout, true, auditFields{
		userID:    c.userID,
		tenantID:  c.tenantID,
		sessionID: c.session,
	})
	return nil
}

// LogoutAll revokes every session and refresh token of the caller and blacklists the
// presented access token. A repeated call returns zero counts.
func (e *Engine) LogoutAll(ctx context.Context, t Tokens) (*LogoutAllResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	c, err := e.resolveCaller(ctx, t)
	if err != nil {
		return nil, err
	}
	return e.revokeUser(ctx, c.userID, c.tenantID, c.access)
}

// RevokeUser is LogoutAll for an administrator or a password change, where no token of
// the user is at hand.
func (e *Engine) RevokeUser(ctx context.Context, userID string) (*LogoutAllResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrAccountNotFound
	}
	return e.revokeUser(ctx, userID, "", "")
}

func (e *Engine) revokeUser(ctx context.Context, userID, tenantID, access string) (*LogoutAllResult, error) {
	sessions, err := e.sessions.DeleteAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: delete sessions: %v", ErrUnavailable, err)
	}
	refresh, err := e.tokens.RevokeAll(ctx, userID, access)
	if err != nil {
		return nil, fmt.Errorf("%w: revoke tokens: %v", ErrUnavailable, err)
	}

	res := &LogoutAllResult{Sessions: sessions, RefreshTokens: refresh}
	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, audit.LogoutAll, true, auditFields{
		userID:   userID,
		tenantID: tenantID,
		details:  AuditDetails{Count: sessions + refresh},
	})
	return res, nil
}
