package stayAuth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/stayAuth/internal/audit"
	"github.com/MrEthical07/stayAuth/session"
	"github.com/MrEthical07/stayAuth/token"
)

// Refresh rotates a refresh token. Presenting a token that was already rotated is
// treated as theft: the whole session is revoked and ErrUnauthenticated returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken, csrf string) (*TokenPair, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrUnauthenticated
	}

	pair, claims, err := e.tokens.Rotate(ctx, refreshToken, csrf)
	if err != nil {
		var reuse *token.ReuseError
		switch {
		case errors.As(err, &reuse):
			e.killChain(ctx, reuse)
			return nil, ErrUnauthenticated
		case errors.Is(err, token.ErrUnavailable):
			e.metrics.Inc(MetricRefreshFailure)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			e.metrics.Inc(MetricRefreshFailure)
			e.log.DebugContext(ctx, "refresh rejected", "error", err)
			return nil, ErrUnauthenticated
		}
	}

	if e.config.ValidationMode == ModeStrict {
		if _, err := e.sessions.Get(ctx, claims.SessionID); err != nil {
			if _, rerr := e.tokens.RevokeSession(ctx, claims.SessionID); rerr != nil {
				e.warn.Warn("refresh chain not revoked", "session_id", claims.SessionID, "error", rerr)
			}
			e.metrics.Inc(MetricRefreshFailure)
			if errors.Is(err, session.ErrNotFound) {
				return nil, ErrUnauthenticated
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if err := e.sessions.Touch(ctx, claims.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		e.warn.Warn("session touch failed", "error", err)
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, audit.RefreshRotated, true, auditFields{
		userID:    claims.UserID,
		tenantID:  claims.TenantID,
		sessionID: claims.SessionID,
	})
	return tokenPair(pair), nil
}

// killChain revokes the session whose refresh token was replayed.
func (e *Engine) killChain(ctx context.Context, reuse *token.ReuseError) {
	e.metrics.Inc(MetricRefreshReuseDetected)
	ctx = context.WithoutCancel(ctx)
	revoked, err := e.tokens.RevokeSession(ctx, reuse.SessionID)
	if err != nil {
		e.log.ErrorContext(ctx, "refresh reuse: chain revoke failed", "session_id", reuse.SessionID, "error", err)
	}
	if _, err := e.sessions.Delete(ctx, reuse.SessionID); err != nil {
		e.log.ErrorContext(ctx, "refresh reuse: session delete failed", "session_id", reuse.SessionID, "error", err)
	}
	e.emitAudit(ctx, audit.RefreshReuse, false, auditFields{
		userID:    reuse.UserID,
		sessionID: reuse.SessionID,
		reason:    reasonRefreshReuse,
		details:   AuditDetails{Count: revoked},
	})
}
