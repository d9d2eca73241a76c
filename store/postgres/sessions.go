package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MrEthical07/stayAuth/session"
)

// SaveSession upserts the durable view of a session. Only identity and expiry are
// kept; device data stays in the sealed primary record.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	const query = `
		INSERT INTO sessions (session_id, user_id, tenant_id, role, admin_level, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`
	_, err := s.db.ExecContext(ctx, query,
		sess.SessionID, sess.UserID, sess.TenantID, sess.Role, sess.AdminLevel,
		sess.CreatedAt.UTC(), sess.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*session.DurableSession, error) {
	const query = `
		SELECT session_id, user_id, tenant_id, role, admin_level, created_at, expires_at, logged_out_at
		FROM sessions WHERE session_id = $1`
	var (
		d         session.DurableSession
		loggedOut sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&d.SessionID, &d.UserID, &d.TenantID, &d.Role, &d.AdminLevel, &d.CreatedAt, &d.ExpiresAt, &loggedOut)
	if isNoRows(err) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	d.LoggedOutAt = timeOf(loggedOut)
	return &d, nil
}

func (s *Store) MarkLoggedOut(ctx context.Context, sessionID string, at time.Time) error {
	const query = `UPDATE sessions SET logged_out_at = $2 WHERE session_id = $1 AND logged_out_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, sessionID, at.UTC()); err != nil {
		return fmt.Errorf("mark session logged out: %w", err)
	}
	return nil
}

func (s *Store) MarkUserLoggedOut(ctx context.Context, userID string, at time.Time) (int64, error) {
	const query = `UPDATE sessions SET logged_out_at = $2 WHERE user_id = $1 AND logged_out_at IS NULL`
	return s.execCount(ctx, "mark user logged out", query, userID, at.UTC())
}

func (s *Store) SaveRefresh(ctx context.Context, r *session.RefreshRecord) error {
	const query = `
		INSERT INTO refresh_tokens (token_id, user_id, session_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query, r.TokenID, r.UserID, r.SessionID, r.CreatedAt.UTC(), r.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *Store) MarkRefreshRotated(ctx context.Context, tokenID, replacedBy string, at time.Time) error {
	const query = `
		UPDATE refresh_tokens SET revoked_at = $3, replaced_by = $2
		WHERE token_id = $1 AND revoked_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, tokenID, replacedBy, at.UTC()); err != nil {
		return fmt.Errorf("mark refresh rotated: %w", err)
	}
	return nil
}

func (s *Store) RevokeRefreshForSession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked_at = $2 WHERE session_id = $1 AND revoked_at IS NULL`
	return s.execCount(ctx, "revoke session refresh tokens", query, sessionID, at.UTC())
}

func (s *Store) RevokeRefreshForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
	return s.execCount(ctx, "revoke user refresh tokens", query, userID, at.UTC())
}

func (s *Store) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
