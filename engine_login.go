package stayAuth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/stayAuth/internal"
	"github.com/MrEthical07/stayAuth/internal/audit"
	"github.com/MrEthical07/stayAuth/jwt"
	"github.com/MrEthical07/stayAuth/lockout"
	"github.com/MrEthical07/stayAuth/password"
	"github.com/MrEthical07/stayAuth/session"
	"github.com/MrEthical07/stayAuth/token"
	"github.com/MrEthical07/stayAuth/totp"
)

// Login runs lockout check, password, second factor, lockout reset, token issue and
// session creation, strictly in that order. A correct password without the required
// second factor returns LoginResult{TwoFactorRequired: true} and a nil error.
// Rejected credentials return ErrUnauthenticated; a failed dependency returns an
// error wrapping ErrUnavailable.
func (e *Engine) Login(ctx context.Context, cred Credentials, dev Device) (*LoginResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	fields := auditFields{tenantID: cred.TenantID, ip: dev.IP, userAgent: dev.UserAgent}
	fail := func(reason string) (*LoginResult, error) {
		fields.reason = reason
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, audit.LoginFailure, false, fields)
		return nil, ErrUnauthenticated
	}

	if cred.Identifier == "" || cred.Password == "" {
		return fail(reasonUnknownIdentifier)
	}

	acct, err := e.accounts.GetByIdentifier(ctx, cred.TenantID, cred.Identifier)
	if errors.Is(err, ErrAccountNotFound) {
		e.passwords.DummyVerify(cred.Password)
		return fail(reasonUnknownIdentifier)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: account lookup: %v", ErrUnavailable, err)
	}
	fields.userID = acct.UserID
	fields.tenantID = acct.TenantID

	now := e.now()
	// An expired lockout needs no write here; the next failure restarts the count.
	if locked, _, _ := e.lockout.IsLocked(acct.Lockout, now); locked {
		fields.reason = reasonLocked
		e.metrics.Inc(MetricLoginLocked)
		e.emitAudit(ctx, audit.LoginLocked, false, fields)
		return nil, ErrUnauthenticated
	}
	if acct.Disabled {
		e.passwords.DummyVerify(cred.Password)
		return fail(reasonDisabled)
	}

	ok, err := e.passwords.Verify(cred.Password, acct.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrTooLong) {
		e.log.WarnContext(ctx, "stored password hash unusable", "user_id", acct.UserID, "error", err)
	}
	if !ok {
		if err := e.recordFailure(ctx, acct, now); err != nil {
			return nil, err
		}
		return fail(reasonBadPassword)
	}

	if acct.TwoFactor.Enabled {
		if cred.TOTPCode == "" && cred.BackupCode == "" {
			e.metrics.Inc(MetricTwoFactorRequired)
			e.emitAudit(ctx, audit.LoginTwoFactor, true, fields)
			return &LoginResult{TwoFactorRequired: true}, nil
		}
		passed, reason, err := e.secondFactor(ctx, acct, cred.TOTPCode, cred.BackupCode, fields)
		if err != nil {
			return nil, err
		}
		if !passed {
			if err := e.recordFailure(ctx, acct, now); err != nil {
				return nil, err
			}
			return fail(reason)
		}
	}

	if acct.Lockout != (lockout.Record{}) {
		if err := e.accounts.UpdateLockout(ctx, acct.UserID, e.lockout.RecordSuccess(acct.Lockout)); err != nil {
			e.warn.Warn("lockout reset not persisted", "user_id", acct.UserID, "error", err)
		}
	}
	e.upgradePasswordHash(ctx, acct, cred.Password)

	if e.config.Session.SingleSession {
		if err := e.revokeOtherSessions(ctx, acct.UserID); err != nil {
			return nil, err
		}
	}

	pair, sid, err := e.openSession(ctx, acct, dev)
	if err != nil {
		fields.reason = reasonBackendDown
		e.emitAudit(ctx, audit.LoginFailure, false, fields)
		return nil, err
	}

	fields.sessionID = sid
	fields.reason = ""
	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	e.emitAudit(ctx, audit.LoginSuccess, true, fields)

	return &LoginResult{
		Tokens: pair,
		Identity: &Identity{
			UserID:     acct.UserID,
			Role:       acct.Role,
			AdminLevel: acct.AdminLevel,
			TenantID:   acct.TenantID,
			SessionID:  sid,
			Source:     SourceBearer,
		},
	}, nil
}

// openSession issues the token pair, then writes the session bound to the device
// fingerprint. A session write failure revokes the just-issued refresh chain.
func (e *Engine) openSession(ctx context.Context, acct *Account, dev Device) (*TokenPair, string, error) {
	sid, err := internal.NewSessionIDString()
	if err != nil {
		return nil, "", err
	}
	subject := jwt.Subject{
		UserID:     acct.UserID,
		Role:       acct.Role,
		AdminLevel: acct.AdminLevel,
		TenantID:   acct.TenantID,
		SessionID:  sid,
	}
	issued, err := e.tokens.Issue(ctx, subject, dev.DeviceID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: issue tokens: %v", ErrUnavailable, err)
	}

	_, err = e.sessions.Create(ctx, &session.Session{
		SessionID:         sid,
		UserID:            acct.UserID,
		TenantID:          acct.TenantID,
		Role:              acct.Role,
		AdminLevel:        acct.AdminLevel,
		IPAddress:         dev.IP,
		UserAgent:         dev.UserAgent,
		DeviceFingerprint: e.fingerprint(dev.IP, dev.UserAgent),
	})
	if err != nil {
		if _, rerr := e.tokens.RevokeSession(context.WithoutCancel(ctx), sid); rerr != nil {
			e.warn.Warn("orphan refresh chain not revoked", "session_id", sid, "error", rerr)
		}
		return nil, "", fmt.Errorf("%w: create session: %v", ErrUnavailable, err)
	}
	return tokenPair(issued), sid, nil
}

func (e *Engine) revokeOtherSessions(ctx context.Context, userID string) error {
	if _, err := e.sessions.DeleteAll(ctx, userID); err != nil {
		return fmt.Errorf("%w: single-session enforcement: %v", ErrUnavailable, err)
	}
	if _, err := e.tokens.RevokeAll(ctx, userID, ""); err != nil {
		return fmt.Errorf("%w: single-session enforcement: %v", ErrUnavailable, err)
	}
	return nil
}

// recordFailure counts a failure in the store. A store failure fails the login
// closed rather than letting attempts go uncounted.
func (e *Engine) recordFailure(ctx context.Context, acct *Account, now time.Time) error {
	next, err := e.accounts.RecordLockoutFailure(ctx, acct.UserID, e.lockout, now)
	if err != nil {
		return fmt.Errorf("%w: lockout update: %v", ErrUnavailable, err)
	}
	if e.lockout.LockedBy(next) {
		e.metrics.Inc(MetricLoginLocked)
		e.emitAudit(ctx, audit.LoginLocked, false, auditFields{
			userID:   acct.UserID,
			tenantID: acct.TenantID,
			reason:   reasonLocked,
			details:  AuditDetails{Count: next.FailedAttempts},
		})
	}
	acct.Lockout = next
	return nil
}

// HashPassword hashes plain with the engine's Argon2id parameters, for provisioning
// accounts and password changes.
func (e *Engine) HashPassword(plain string) (string, error) {
	if e == nil || e.passwords == nil {
		return "", ErrEngineNotReady
	}
	return e.passwords.Hash(plain)
}

func (e *Engine) upgradePasswordHash(ctx context.Context, acct *Account, plain string) {
	if !e.config.Password.UpgradeOnLogin || !e.passwords.NeedsRehash(acct.PasswordHash) {
		return
	}
	hash, err := e.passwords.Hash(plain)
	if err != nil {
		e.log.WarnContext(ctx, "password rehash failed", "user_id", acct.UserID, "error", err)
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, acct.UserID, hash); err != nil {
		e.warn.Warn("password rehash not persisted", "user_id", acct.UserID, "error", err)
	}
}

// secondFactor checks a TOTP code, or a backup code when no TOTP code is given. Every
// outcome is audited. err is set only for dependency failures.
func (e *Engine) secondFactor(ctx context.Context, acct *Account, code, backup string, fields auditFields) (bool, string, error) {
	if code != "" {
		return e.checkTOTP(ctx, acct, code, fields)
	}

	fields.details = AuditDetails{Method: "backup_code"}
	valid, _ := totp.VerifyBackupCode(backup, acct.TwoFactor.BackupCodeHashes)
	if !valid {
		e.metrics.Inc(MetricBackupCodeFailed)
		fields.reason = reasonBackupInvalid
		e.emitAudit(ctx, audit.TwoFactorVerify, false, fields)
		return false, reasonBackupInvalid, nil
	}
	consumed, err := e.accounts.ConsumeBackupCode(ctx, acct.UserID, totp.HashBackupCode(backup))
	if err != nil {
		return false, "", fmt.Errorf("%w: consume backup code: %v", ErrUnavailable, err)
	}
	if !consumed {
		// Lost a race with a concurrent login using the same code.
		e.metrics.Inc(MetricBackupCodeFailed)
		fields.reason = reasonBackupInvalid
		e.emitAudit(ctx, audit.TwoFactorVerify, false, fields)
		return false, reasonBackupInvalid, nil
	}
	e.metrics.Inc(MetricBackupCodeUsed)
	fields.details.Remaining = len(acct.TwoFactor.BackupCodeHashes) - 1
	e.emitAudit(ctx, audit.BackupCodeUsed, true, fields)
	return true, "", nil
}

func (e *Engine) checkTOTP(ctx context.Context, acct *Account, code string, fields auditFields) (bool, string, error) {
	fields.details = AuditDetails{Method: "totp"}
	reject := func(reason string, id MetricID) (bool, string, error) {
		e.metrics.Inc(id)
		fields.reason = reason
		e.emitAudit(ctx, audit.TwoFactorVerify, false, fields)
		return false, reason, nil
	}

	secret, err := e.openSecret(acct)
	if err != nil {
		return reject(reasonSecretUnreadable, MetricTOTPFailure)
	}
	ok, counter := e.totp.VerifyCounter(secret, code, e.totp.Counter(e.now()), e.config.TOTP.Skew)
	if !ok {
		return reject(reasonTOTPInvalid, MetricTOTPFailure)
	}
	if e.config.TOTP.EnforceReplayProtection {
		if counter <= acct.TwoFactor.LastCounter {
			return reject(reasonTOTPReplay, MetricTOTPReplay)
		}
		advanced, err := e.accounts.AdvanceTOTPCounter(ctx, acct.UserID, counter)
		if err != nil {
			return false, "", fmt.Errorf("%w: totp counter: %v", ErrUnavailable, err)
		}
		if !advanced {
			return reject(reasonTOTPReplay, MetricTOTPReplay)
		}
		acct.TwoFactor.LastCounter = counter
	}
	e.metrics.Inc(MetricTOTPSuccess)
	e.emitAudit(ctx, audit.TwoFactorVerify, true, fields)
	return true, "", nil
}

func (e *Engine) openSecret(acct *Account) (string, error) {
	if acct.TwoFactor.Secret == "" {
		return "", ErrTwoFactorNotConfigured
	}
	return e.secrets.OpenString(acct.TwoFactor.Secret, secretAAD(acct.UserID))
}

func secretAAD(userID string) []byte {
	return []byte("totp:" + userID)
}

func tokenPair(p *token.Pair) *TokenPair {
	return &TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		CSRFToken:        p.CSRFToken,
		SessionID:        p.SessionID,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
