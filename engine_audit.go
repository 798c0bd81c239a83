package clockauth

import (
	"context"
	"time"
)

const (
	auditSignupSuccess       = "signup_success"
	auditSignupConflict      = "signup_conflict"
	auditLoginSuccess        = "login_success"
	auditLoginFailure        = "login_failure"
	auditLoginChallenge      = "login_2fa_challenge"
	auditRefreshSuccess      = "refresh_success"
	auditRefreshInvalid      = "refresh_invalid"
	auditLogout              = "logout"
	auditTwoFactorSuccess    = "2fa_success"
	auditTwoFactorFailure    = "2fa_failure"
	auditBackupCodeUsed      = "2fa_backup_code_used"
	auditTOTPSetupStarted    = "totp_setup_started"
	auditTOTPEnabled         = "totp_enabled"
	auditTOTPDisabled        = "totp_disabled"
	auditResetRequested      = "password_reset_requested"
	auditResetConfirmed      = "password_reset_confirmed"
	auditPasswordChanged     = "password_changed"
	auditPasswordHashUpgrade = "password_hash_upgraded"
)

func (e *Engine) emitAudit(ctx context.Context, action, subject, email string, success bool, failure error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Subject:   subject,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if failure != nil {
		event.Error = failure.Error()
	}

	e.audit.Emit(ctx, event)
}
