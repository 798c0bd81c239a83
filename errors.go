package clockauth

import "errors"

var (
	// ErrValidation is returned for malformed input rejected before any
	// storage mutation (bad email shape, empty fields, missing roles).
	ErrValidation = errors.New("invalid input")
	// ErrEmailTaken is returned when signup hits an already registered
	// email, compared case-insensitively.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The two cases are never distinguished to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordPolicy is returned when a password fails the configured
	// strength policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a password change supplies the
	// current password as the new one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrInvalidCode covers every two-factor verification failure: wrong
	// code, expired or superseded challenge, replayed code, and a subject
	// without a usable secret. Callers cannot tell these apart.
	ErrInvalidCode = errors.New("invalid two-factor code")
	// ErrTokenInvalid covers malformed, expired, and superseded refresh or
	// reset tokens uniformly.
	ErrTokenInvalid = errors.New("invalid or expired token")
	// ErrTokenRevoked is returned for an access token that verifies but
	// appears on the revocation list.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTwoFactorEnabled is returned by EnableTwoFactor when the subject
	// already has a confirmed second factor.
	ErrTwoFactorEnabled = errors.New("two-factor already enabled")
	// ErrNoPendingSetup is returned by ConfirmTwoFactorSetup when no
	// enrollment is pending or the pending entry expired.
	ErrNoPendingSetup = errors.New("no pending two-factor setup")
	// ErrAccountLocked is an exported account-status error surfaced on
	// login and refresh.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is an exported account-status error surfaced on
	// login and refresh.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrPrincipalNotFound is returned by CredentialStore lookups when no
	// record matches.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalExists is returned by CredentialStore.Insert on a
	// duplicate email.
	ErrPrincipalExists = errors.New("principal already exists")
	// ErrStoreUnavailable wraps Redis and CredentialStore transport
	// failures. It is always surfaced, never silently swallowed.
	ErrStoreUnavailable = errors.New("backing store unavailable")
	// ErrEngineNotReady is returned when an Engine method is called on a
	// nil or incompletely built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
