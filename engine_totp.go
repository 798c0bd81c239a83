package clockauth

import (
	"context"
	"errors"
	"fmt"
)

// EnableTwoFactor starts TOTP enrollment for a subject. The secret stays
// pending until ConfirmTwoFactorSetup proves the authenticator works;
// starting over replaces the pending secret, and starting enrollment
// cancels any in-flight login challenge for the subject.
func (e *Engine) EnableTwoFactor(ctx context.Context, subjectID string) (*TwoFactorSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.creds.FindByID(ctx, subjectID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if statusErr := accountStatusToError(principal.Status); statusErr != nil {
		return nil, statusErr
	}
	if principal.TwoFactorEnabled {
		return nil, ErrTwoFactorEnabled
	}

	_, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.challenges.SavePendingSecret(ctx, subjectID, secretBase32, e.config.TOTP.PendingSetupTTL); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditTOTPSetupStarted, principal.ID, principal.Email, true, nil, nil)

	return &TwoFactorSetup{
		Secret: secretBase32,
		URI:    e.totp.ProvisionURI(secretBase32, principal.Email),
	}, nil
}

// ConfirmTwoFactorSetup proves possession of the pending secret and turns
// the second factor on. A wrong code leaves the pending secret in place for
// another attempt; a correct one consumes it atomically, persists the
// secret and returns a fresh batch of single-use recovery codes. The codes
// are shown exactly once.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, subjectID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.creds.FindByID(ctx, subjectID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal.TwoFactorEnabled {
		return nil, ErrTwoFactorEnabled
	}

	secretBase32, err := e.challenges.GetPendingSecret(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, ErrNoPendingSetup
	}

	secret, err := decodeTOTPSecret(secretBase32)
	if err != nil {
		return nil, err
	}
	ok, _, err := e.totp.VerifyCode(secret, code, timeNow())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metrics.Inc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditTwoFactorFailure, principal.ID, principal.Email, false, ErrInvalidCode, nil)
		return nil, ErrInvalidCode
	}

	if err := e.challenges.ConsumePendingSecret(ctx, subjectID, secretBase32); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, ErrNoPendingSetup
	}

	if err := e.creds.UpdateTwoFactor(ctx, subjectID, true, secretBase32); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	codes, err := generateBackupCodes(e.config.TOTP.BackupCodeCount, e.config.TOTP.BackupCodeLength)
	if err != nil {
		return nil, err
	}
	if err := e.backupCodes.Replace(ctx, subjectID, codes, e.config.TOTP.BackupCodeTTL); err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditTOTPEnabled, principal.ID, principal.Email, true, nil, nil)

	return codes, nil
}

// DisableTwoFactor turns the second factor off after re-confirming the
// password. The stored secret, any recovery codes and any pending challenge
// are all discarded.
func (e *Engine) DisableTwoFactor(ctx context.Context, subjectID, pwd string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	principal, err := e.creds.FindByID(ctx, subjectID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrPrincipalNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !principal.TwoFactorEnabled {
		return fmt.Errorf("%w: two-factor not enabled", ErrValidation)
	}

	ok, err := e.hasher.Verify(pwd, principal.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditTOTPDisabled, principal.ID, principal.Email, false, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.creds.UpdateTwoFactor(ctx, subjectID, false, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.backupCodes.DeleteAll(ctx, subjectID); err != nil {
		return err
	}
	if err := e.challenges.Delete(ctx, subjectID); err != nil {
		return err
	}

	e.metrics.Inc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditTOTPDisabled, principal.ID, principal.Email, true, nil, nil)
	return nil
}
