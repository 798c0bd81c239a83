package clockauth

import "context"

// AccountStatus represents the lifecycle state of a principal.
type AccountStatus uint8

const (
	// AccountActive is the normal state.
	AccountActive AccountStatus = iota
	// AccountLocked blocks authentication until an operator clears it.
	AccountLocked
	// AccountDisabled blocks authentication permanently.
	AccountDisabled
)

// Principal is the credential-store record for one user. It is owned by the
// CredentialStore and mutated only through explicit engine operations
// (signup, password change/reset, two-factor enable/disable).
type Principal struct {
	ID           string
	Email        string // normalized lowercase
	Name         string
	Phone        string
	PasswordHash string
	Roles        []string
	Status       AccountStatus
	// TwoFactorSecret is the base32 TOTP secret, present only while
	// TwoFactorEnabled is true.
	TwoFactorEnabled bool
	TwoFactorSecret  string
}

// CredentialStore is the relational side of the subsystem: durable principal
// records. Implementations must treat email comparisons case-insensitively
// and return [ErrPrincipalNotFound] / [ErrPrincipalExists] for the absence
// and duplicate cases so the engine can collapse them safely.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)
	Insert(ctx context.Context, p *Principal) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateTwoFactor(ctx context.Context, id string, enabled bool, secret string) error
	UpdateStatus(ctx context.Context, id string, status AccountStatus) error

	// Transact runs fn against a store view bound to a single transaction.
	// Signup uses it so the duplicate check, the principal insert, and any
	// dependent domain defaults commit or roll back as one unit.
	Transact(ctx context.Context, fn func(tx CredentialStore) error) error
}

// Notifier delivers outbound user notifications. Calls are dispatched
// asynchronously and are strictly fire-and-forget: a Notifier error is
// logged and never turns into an authentication failure.
type Notifier interface {
	SendWelcome(ctx context.Context, email, name string) error
	SendPasswordReset(ctx context.Context, email, name, token string) error
	SendPasswordChanged(ctx context.Context, email, name string) error
}

// SignupRequest is the input to [Engine.Signup].
type SignupRequest struct {
	Email    string
	Password string
	Name     string
	Roles    []string
	Phone    string
}

// TokenPair is an access/refresh pair minted together.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is returned by [Engine.Login], [Engine.VerifyTwoFactor], and
// [Engine.VerifyTwoFactorBackup]. When TwoFactorRequired is set the tokens
// are empty and ChallengeToken must be presented to VerifyTwoFactor.
type LoginResult struct {
	SubjectID    string
	Email        string
	Roles        []string
	AccessToken  string
	RefreshToken string

	TwoFactorRequired bool
	ChallengeToken    string
}

// SignupResult is returned by [Engine.Signup].
type SignupResult struct {
	SubjectID    string
	Email        string
	Roles        []string
	AccessToken  string
	RefreshToken string
}

// TwoFactorSetup is returned by [Engine.EnableTwoFactor]. URI is an
// otpauth:// provisioning URI; rendering it as a QR code is the caller's
// concern.
type TwoFactorSetup struct {
	Secret string
	URI    string
}

func accountStatusToError(status AccountStatus) error {
	switch status {
	case AccountLocked:
		return ErrAccountLocked
	case AccountDisabled:
		return ErrAccountDisabled
	default:
		return nil
	}
}
