package clockauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Signup registers a new principal and logs it straight in. The duplicate
// check and the insert run in one credential-store transaction, so two
// racing signups for the same email cannot both commit.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(req.Roles) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", ErrValidation)
	}
	if err := validatePassword(e.config.Policy, req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	principal := &Principal{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         req.Name,
		Phone:        req.Phone,
		PasswordHash: hash,
		Roles:        req.Roles,
		Status:       AccountActive,
	}

	err = e.creds.Transact(ctx, func(tx CredentialStore) error {
		_, err := tx.FindByEmail(ctx, email)
		if err == nil {
			return ErrEmailTaken
		}
		if !errors.Is(err, ErrPrincipalNotFound) {
			return err
		}
		return tx.Insert(ctx, principal)
	})
	if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrPrincipalExists) {
		e.metrics.Inc(MetricSignupConflict)
		e.emitAudit(ctx, auditSignupConflict, "", email, false, ErrEmailTaken, nil)
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pair, err := e.tokens.Issue(ctx, principal.ID, principal.Email, principal.Roles)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricSignupSuccess)
	e.metrics.Inc(MetricSessionCreated)
	e.emitAudit(ctx, auditSignupSuccess, principal.ID, email, true, nil, nil)
	e.notify.Enqueue("welcome", func(ctx context.Context, n Notifier) error {
		return n.SendWelcome(ctx, principal.Email, principal.Name)
	})

	return &SignupResult{
		SubjectID:    principal.ID,
		Email:        principal.Email,
		Roles:        principal.Roles,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// ChangePassword rotates a password for an authenticated subject. The
// current password must verify, the new one must clear policy and differ
// from the old, and on success the subject's session is torn down so every
// device logs in again.
func (e *Engine) ChangePassword(ctx context.Context, subjectID, currentPwd, newPwd string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	principal, err := e.creds.FindByID(ctx, subjectID)
	if errors.Is(err, ErrPrincipalNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if statusErr := accountStatusToError(principal.Status); statusErr != nil {
		return statusErr
	}

	ok, err := e.hasher.Verify(currentPwd, principal.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.Inc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditPasswordChanged, principal.ID, principal.Email, false, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := validatePassword(e.config.Policy, newPwd); err != nil {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return err
	}
	if same, err := e.hasher.Verify(newPwd, principal.PasswordHash); err != nil {
		return err
	} else if same {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return ErrPasswordReuse
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

	e.metrics.Inc(MetricPasswordChangeSuccess)
	e.metrics.Inc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditPasswordChanged, principal.ID, principal.Email, true, nil, nil)
	e.notify.Enqueue("password_changed", func(ctx context.Context, n Notifier) error {
		return n.SendPasswordChanged(ctx, principal.Email, principal.Name)
	})

	return nil
}
