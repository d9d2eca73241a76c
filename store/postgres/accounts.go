package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	stayAuth "github.com/MrEthical07/stayAuth"
	"github.com/MrEthical07/stayAuth/lockout"
)

const accountColumns = `user_id, tenant_id, identifier, password_hash, role, admin_level, disabled,
	failed_attempts, last_failed_at, lockout_until, totp_secret, totp_enabled, totp_last_counter`

// CreateAccount inserts a new account. Used by provisioning and the serve command.
func (s *Store) CreateAccount(ctx context.Context, a stayAuth.Account) error {
	const query = `
		INSERT INTO accounts (user_id, tenant_id, identifier, password_hash, role, admin_level, disabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, query,
		a.UserID, a.TenantID, a.Identifier, a.PasswordHash, a.Role, a.AdminLevel, a.Disabled)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *Store) GetByIdentifier(ctx context.Context, tenantID, identifier string) (*stayAuth.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE tenant_id = $1 AND lower(identifier) = lower($2)`
	return s.loadAccount(ctx, query, tenantID, identifier)
}

func (s *Store) GetByID(ctx context.Context, userID string) (*stayAuth.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1`
	return s.loadAccount(ctx, query, userID)
}

func (s *Store) loadAccount(ctx context.Context, query string, args ...any) (*stayAuth.Account, error) {
	var (
		a                       stayAuth.Account
		lastFailed, lockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&a.UserID, &a.TenantID, &a.Identifier, &a.PasswordHash, &a.Role, &a.AdminLevel, &a.Disabled,
		&a.Lockout.FailedAttempts, &lastFailed, &lockedUntil,
		&a.TwoFactor.Secret, &a.TwoFactor.Enabled, &a.TwoFactor.LastCounter,
	)
	if isNoRows(err) {
		return nil, stayAuth.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	a.Lockout.LastFailedAt = timeOf(lastFailed)
	a.Lockout.LockoutUntil = timeOf(lockedUntil)

	hashes, err := s.backupHashes(ctx, a.UserID)
	if err != nil {
		return nil, err
	}
	a.TwoFactor.BackupCodeHashes = hashes
	return &a, nil
}

func (s *Store) backupHashes(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code_hash FROM backup_codes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("load backup codes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// lockoutRestart mirrors lockout.Tracker.RecordFailure: a quiet window or an expired
// lockout starts the count over. $2 is now, $3 is now minus the reset window.
const lockoutRestart = `(last_failed_at IS NULL OR last_failed_at < $3 OR
	(lockout_until IS NOT NULL AND lockout_until <= $2))`

// RecordLockoutFailure counts one failure in a single UPDATE. Postgres re-evaluates
// the SET expressions against the latest row version, so concurrent failures stack.
func (s *Store) RecordLockoutFailure(ctx context.Context, userID string, t lockout.Tracker, now time.Time) (lockout.Record, error) {
	attempts := `CASE WHEN ` + lockoutRestart + ` THEN 1 ELSE failed_attempts + 1 END`
	query := `
		UPDATE accounts
		SET failed_attempts = ` + attempts + `,
			lockout_until = CASE
				WHEN ` + attempts + ` >= $4 THEN $5
				WHEN ` + lockoutRestart + ` THEN NULL
				ELSE lockout_until END,
			last_failed_at = $2,
			updated_at = NOW()
		WHERE user_id = $1
		RETURNING failed_attempts, last_failed_at, lockout_until`

	var (
		rec                     lockout.Record
		lastFailed, lockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query,
		userID, now, now.Add(-t.ResetWindow), t.MaxAttempts, now.Add(t.LockDuration),
	).Scan(&rec.FailedAttempts, &lastFailed, &lockedUntil)
	if isNoRows(err) {
		return rec, stayAuth.ErrAccountNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("record lockout failure: %w", err)
	}
	rec.LastFailedAt = timeOf(lastFailed)
	rec.LockoutUntil = timeOf(lockedUntil)
	return rec, nil
}

func (s *Store) UpdateLockout(ctx context.Context, userID string, rec lockout.Record) error {
	const query = `
		UPDATE accounts
		SET failed_attempts = $2, last_failed_at = $3, lockout_until = $4, updated_at = NOW()
		WHERE user_id = $1`
	return s.execOne(ctx, "update lockout", query,
		userID, rec.FailedAttempts, nullTime(rec.LastFailedAt), nullTime(rec.LockoutUntil))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	const query = `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE user_id = $1`
	return s.execOne(ctx, "update password hash", query, userID, hash)
}

// SaveTwoFactor replaces the credential and the whole backup code set in one
// transaction.
func (s *Store) SaveTwoFactor(ctx context.Context, userID string, cred stayAuth.TwoFactorCredential) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save two-factor: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET totp_secret = $2, totp_enabled = $3, totp_last_counter = $4, updated_at = NOW()
		WHERE user_id = $1`,
		userID, cred.Secret, cred.Enabled, cred.LastCounter)
	if err != nil {
		return fmt.Errorf("save two-factor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return stayAuth.ErrAccountNotFound
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear backup codes: %w", err)
	}
	for _, h := range cred.BackupCodeHashes {
		if _, err = tx.ExecContext(ctx, `INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)`, userID, h); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("save two-factor: %w", err)
	}
	return nil
}

// AdvanceTOTPCounter is a conditional update: concurrent logins with the same code
// cannot both move the counter.
func (s *Store) AdvanceTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	const query = `
		UPDATE accounts SET totp_last_counter = $2, updated_at = NOW()
		WHERE user_id = $1 AND totp_last_counter < $2`
	res, err := s.db.ExecContext(ctx, query, userID, counter)
	if err != nil {
		return false, fmt.Errorf("advance totp counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance totp counter: %w", err)
	}
	return n == 1, nil
}

// ConsumeBackupCode deletes the code; only the caller whose DELETE removed the row
// gets true.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2`, userID, hash)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return n == 1, nil
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return stayAuth.ErrAccountNotFound
	}
	return nil
}
