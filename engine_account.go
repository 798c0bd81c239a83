package clockauth

import (
	"context"
	"errors"
	"fmt"
)

const (
	auditAccountLocked   = "account_locked"
	auditAccountDisabled = "account_disabled"
	auditAccountActive   = "account_activated"
)

// SetAccountStatus moves a principal between lifecycle states. Leaving the
// active state tears down the live session and any pending two-factor
// challenge, so a locked account cannot keep refreshing.
func (e *Engine) SetAccountStatus(ctx context.Context, subjectID string, status AccountStatus) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if status != AccountActive && status != AccountLocked && status != AccountDisabled {
		return fmt.Errorf("%w: unknown account status", ErrValidation)
	}

	principal, err := e.creds.FindByID(ctx, subjectID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrPrincipalNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.creds.UpdateStatus(ctx, subjectID, status); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	action := auditAccountActive
	if status != AccountActive {
		if err := e.sessions.Delete(ctx, subjectID); err != nil {
			return err
		}
		if err := e.challenges.Delete(ctx, subjectID); err != nil {
			return err
		}
		e.metrics.Inc(MetricSessionInvalidated)
		if status == AccountLocked {
			action = auditAccountLocked
		} else {
			action = auditAccountDisabled
		}
	}

	e.emitAudit(ctx, action, principal.ID, principal.Email, true, nil, nil)
	return nil
}
