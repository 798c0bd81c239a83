package clockauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/PheonixOfTesla/clockwork-auth/jwt"
)

// RequestPasswordReset mints a one-time reset token and mails it to the
// account holder. The outcome is identical whether or not the email exists,
// so the endpoint cannot be used to enumerate accounts; for unknown
// addresses nothing is sent and no error is returned.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	principal, err := e.creds.FindByEmail(ctx, email)
	if errors.Is(err, ErrPrincipalNotFound) {
		e.emitAudit(ctx, auditResetRequested, "", email, true, nil, map[string]string{"known": "false"})
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if accountStatusToError(principal.Status) != nil {
		// Same silent outcome as an unknown address.
		e.emitAudit(ctx, auditResetRequested, principal.ID, email, true, nil, map[string]string{"known": "false"})
		return nil
	}

	token, err := e.jwtManager.Create(jwt.TypePasswordReset, principal.ID, principal.Email, e.config.PasswordReset.TokenTTL)
	if err != nil {
		return err
	}
	if err := e.resetStore.Save(ctx, token, principal.ID, e.config.PasswordReset.TokenTTL); err != nil {
		return err
	}

	e.metrics.Inc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditResetRequested, principal.ID, email, true, nil, nil)
	e.notify.Enqueue("password_reset", func(ctx context.Context, n Notifier) error {
		return n.SendPasswordReset(ctx, principal.Email, principal.Name, token)
	})

	return nil
}

// ConfirmPasswordReset spends a reset token and installs the new password.
// The token is consumed atomically, so of any concurrent confirmations with
// the same token exactly one wins; the rest see ErrTokenInvalid, as do
// expired, forged and already-spent tokens. A policy rejection leaves the
// token spendable, as does a locked or disabled account, which reports its
// status error instead. On success the subject's session is torn down.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPwd string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(token, jwt.TypePasswordReset)
	if err != nil {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if err := validatePassword(e.config.Policy, newPwd); err != nil {
		return err
	}

	principal, err := e.creds.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrPrincipalNotFound) {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		return ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if serr := accountStatusToError(principal.Status); serr != nil {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		return serr
	}

	if err := e.resetStore.Consume(ctx, token, claims.Subject); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		return ErrTokenInvalid
	}

	hash, err := e.hasher.Hash(newPwd)
	if err != nil {
		return err
	}
	if err := e.creds.UpdatePassword(ctx, principal.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.sessions.Delete(ctx, principal.ID); err != nil {
		return err
	}

	e.metrics.Inc(MetricPasswordResetConfirmSuccess)
	e.metrics.Inc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditResetConfirmed, principal.ID, principal.Email, true, nil, nil)
	e.notify.Enqueue("password_changed", func(ctx context.Context, n Notifier) error {
		return n.SendPasswordChanged(ctx, principal.Email, principal.Name)
	})

	return nil
}
