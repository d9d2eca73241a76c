package stayAuth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/stayAuth/internal/audit"
	"github.com/MrEthical07/stayAuth/totp"
)

// Setup2FA generates a secret and backup codes for id. The credential is stored
// disabled; Verify2FA with a first valid code enables it. Calling it again before
// verification replaces the pending secret.
func (e *Engine) Setup2FA(ctx context.Context, id *Identity) (*TwoFactorSetup, error) {
	acct, err := e.accountFor(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := auditFields{userID: acct.UserID, tenantID: acct.TenantID, sessionID: id.SessionID}
	if acct.TwoFactor.Enabled {
		fields.reason = "already_enabled"
		e.emitAudit(ctx, audit.TwoFactorSetup, false, fields)
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	uri, err := e.totp.ProvisioningURI(secret, acct.Identifier)
	if err != nil {
		return nil, err
	}
	codes, hashes, err := e.newBackupCodes()
	if err != nil {
		return nil, err
	}
	sealed, err := e.secrets.SealString(secret, secretAAD(acct.UserID))
	if err != nil {
		return nil, err
	}
	if err := e.accounts.SaveTwoFactor(ctx, acct.UserID, TwoFactorCredential{
		Secret:           sealed,
		BackupCodeHashes: hashes,
	}); err != nil {
		return nil, fmt.Errorf("%w: save 2fa: %v", ErrUnavailable, err)
	}

	fields.details = AuditDetails{Count: len(codes)}
	e.emitAudit(ctx, audit.TwoFactorSetup, true, fields)
	return &TwoFactorSetup{Secret: secret, QRURL: uri, BackupCodes: codes}, nil
}

// Verify2FA checks a TOTP code for id. The first success after Setup2FA enables the
// factor. A wrong code counts toward lockout and returns ErrTwoFactorInvalid.
func (e *Engine) Verify2FA(ctx context.Context, id *Identity, code string) error {
	acct, err := e.accountFor(ctx, id)
	if err != nil {
		return err
	}
	if acct.TwoFactor.Secret == "" {
		return ErrTwoFactorNotConfigured
	}
	if err := e.requireTOTP(ctx, acct, id, code); err != nil {
		return err
	}
	if acct.TwoFactor.Enabled {
		return nil
	}

	acct.TwoFactor.Enabled = true
	if err := e.accounts.SaveTwoFactor(ctx, acct.UserID, acct.TwoFactor); err != nil {
		return fmt.Errorf("%w: save 2fa: %v", ErrUnavailable, err)
	}
	e.emitAudit(ctx, audit.TwoFactorSetup, true, auditFields{
		userID:    acct.UserID,
		tenantID:  acct.TenantID,
		sessionID: id.SessionID,
		details:   AuditDetails{Method: "enabled"},
	})
	return nil
}

// Disable2FA removes the second factor after a valid TOTP or backup code.
func (e *Engine) Disable2FA(ctx context.Context, id *Identity, code string) error {
	acct, err := e.accountFor(ctx, id)
	if err != nil {
		return err
	}
	if !acct.TwoFactor.Enabled {
		return ErrTwoFactorNotConfigured
	}
	fields := auditFields{userID: acct.UserID, tenantID: acct.TenantID, sessionID: id.SessionID}
	if locked, _, _ := e.lockout.IsLocked(acct.Lockout, e.now()); locked {
		fields.reason = reasonLocked
		e.emitAudit(ctx, audit.TwoFactorDisable, false, fields)
		return ErrTwoFactorInvalid
	}

	totpCode, backup := code, ""
	if e.totp.IsBackupCodeShape(code) {
		totpCode, backup = "", code
	}
	ok, reason, err := e.secondFactor(ctx, acct, totpCode, backup, fields)
	if err != nil {
		return err
	}
	if !ok {
		if err := e.recordFailure(ctx, acct, e.now()); err != nil {
			return err
		}
		fields.reason = reason
		e.emitAudit(ctx, audit.TwoFactorDisable, false, fields)
		return ErrTwoFactorInvalid
	}

	if err := e.accounts.SaveTwoFactor(ctx, acct.UserID, TwoFactorCredential{}); err != nil {
		return fmt.Errorf("%w: save 2fa: %v", ErrUnavailable, err)
	}
	e.emitAudit(ctx, audit.TwoFactorDisable, true, fields)
	return nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP code. The old
// codes stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, id *Identity, code string) ([]string, error) {
	acct, err := e.accountFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acct.TwoFactor.Enabled {
		return nil, ErrTwoFactorNotConfigured
	}
	if err := e.requireTOTP(ctx, acct, id, code); err != nil {
		return nil, err
	}

	codes, hashes, err := e.newBackupCodes()
	if err != nil {
		return nil, err
	}
	acct.TwoFactor.BackupCodeHashes = hashes
	if err := e.accounts.SaveTwoFactor(ctx, acct.UserID, acct.TwoFactor); err != nil {
		return nil, fmt.Errorf("%w: save 2fa: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, audit.BackupRegenerated, true, auditFields{
		userID:    acct.UserID,
		tenantID:  acct.TenantID,
		sessionID: id.SessionID,
		details:   AuditDetails{Count: len(codes)},
	})
	return codes, nil
}

// requireTOTP verifies code and records a lockout failure when it is wrong.
func (e *Engine) requireTOTP(ctx context.Context, acct *Account, id *Identity, code string) error {
	fields := auditFields{userID: acct.UserID, tenantID: acct.TenantID, sessionID: id.SessionID}
	now := e.now()
	if locked, _, _ := e.lockout.IsLocked(acct.Lockout, now); locked {
		fields.reason = reasonLocked
		e.emitAudit(ctx, audit.TwoFactorVerify, false, fields)
		return ErrTwoFactorInvalid
	}
	ok, _, err := e.checkTOTP(ctx, acct, code, fields)
	if err != nil {
		return err
	}
	if !ok {
		if err := e.recordFailure(ctx, acct, now); err != nil {
			return err
		}
		return ErrTwoFactorInvalid
	}
	return nil
}

func (e *Engine) accountFor(ctx context.Context, id *Identity) (*Account, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if id == nil || id.UserID == "" {
		return nil, ErrUnauthenticated
	}
	acct, err := e.accounts.GetByID(ctx, id.UserID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("%w: account lookup: %v", ErrUnavailable, err)
	}
	return acct, nil
}

func (e *Engine) newBackupCodes() ([]string, []string, error) {
	codes, err := e.totp.GenerateBackupCodes(0)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = totp.HashBackupCode(c)
	}
	return codes, hashes, nil
}
