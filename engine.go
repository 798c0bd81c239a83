package clockauth

import (
	"context"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PheonixOfTesla/clockwork-auth/jwt"
	"github.com/PheonixOfTesla/clockwork-auth/password"
	"github.com/PheonixOfTesla/clockwork-auth/session"
)

// Swapped in tests to pin the TOTP clock.
var timeNow = time.Now

// Engine is the authentication core. Construct one with a Builder, share it
// across goroutines, and Close it on shutdown to flush the audit and
// notification queues.
type Engine struct {
	config Config

	creds  CredentialStore
	hasher *password.Hasher

	jwtManager *jwt.Manager
	sessions   *session.Store
	tokens     *tokenService

	totp        *totpManager
	challenges  *twoFactorChallengeStore
	resetStore  *passwordResetStore
	backupCodes *backupCodeStore

	audit   *auditDispatcher
	notify  *notifyDispatcher
	metrics *Metrics

	dummyHash string
}

// Close flushes and stops the background dispatchers.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	e.notify.Close()
}

// MetricsSnapshot returns the current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded due to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Login verifies an email/password pair. Unknown emails, wrong passwords
// and malformed input all report ErrInvalidCredentials so callers cannot
// probe which addresses exist. When the account has a second factor the
// result carries a challenge token instead of a session.
func (e *Engine) Login(ctx context.Context, email, pwd string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || pwd == "" {
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	principal, err := e.creds.FindByEmail(ctx, email)
	if errors.Is(err, ErrPrincipalNotFound) {
		// Burn the same hashing cost as a real verification.
		_, _ = e.hasher.Verify(pwd, e.dummyHash)
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, "", email, false, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := e.hasher.Verify(pwd, principal.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, principal.ID, email, false, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if statusErr := accountStatusToError(principal.Status); statusErr != nil {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, principal.ID, email, false, statusErr, nil)
		return nil, statusErr
	}

	e.maybeUpgradeHash(ctx, principal, pwd)

	if principal.TwoFactorEnabled {
		return e.issueLoginChallenge(ctx, principal)
	}

	pair, err := e.tokens.Issue(ctx, principal.ID, principal.Email, principal.Roles)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	e.emitAudit(ctx, auditLoginSuccess, principal.ID, principal.Email, true, nil, nil)

	return &LoginResult{
		SubjectID:    principal.ID,
		Email:        principal.Email,
		Roles:        principal.Roles,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

func (e *Engine) issueLoginChallenge(ctx context.Context, principal *Principal) (*LoginResult, error) {
	challenge, err := e.jwtManager.Create(jwt.TypeTwoFactorChallenge, principal.ID, principal.Email, e.config.TOTP.ChallengeTTL)
	if err != nil {
		return nil, err
	}
	if err := e.challenges.SaveLoginChallenge(ctx, principal.ID, challenge, e.config.TOTP.ChallengeTTL); err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditLoginChallenge, principal.ID, principal.Email, true, nil, nil)

	return &LoginResult{
		SubjectID:         principal.ID,
		Email:             principal.Email,
		Roles:             principal.Roles,
		TwoFactorRequired: true,
		ChallengeToken:    challenge,
	}, nil
}

// maybeUpgradeHash re-hashes the password with current parameters when the
// stored hash uses weaker ones. Failure here never fails the login.
func (e *Engine) maybeUpgradeHash(ctx context.Context, principal *Principal, pwd string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(principal.PasswordHash)
	if err != nil || !needs {
		return
	}

	rehashed, err := e.hasher.Hash(pwd)
	if err != nil {
		log.Printf("clockauth: hash upgrade for %s failed: %v", principal.ID, err)
		return
	}
	if err := e.creds.UpdatePassword(ctx, principal.ID, rehashed); err != nil {
		log.Printf("clockauth: hash upgrade for %s failed: %v", principal.ID, err)
		return
	}

	principal.PasswordHash = rehashed
	e.metrics.Inc(MetricPasswordHashUpgrade)
	e.emitAudit(ctx, auditPasswordHashUpgrade, principal.ID, principal.Email, true, nil, nil)
}

// VerifyTwoFactor completes a challenged login with a TOTP code. The
// challenge survives wrong codes until its TTL; a correct code consumes it
// atomically, so a replayed challenge loses the race. All failures report
// ErrInvalidCode.
func (e *Engine) VerifyTwoFactor(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.verifyChallenge(ctx, challengeToken)
	if err != nil {
		return nil, err
	}

	secret, err := decodeTOTPSecret(principal.TwoFactorSecret)
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

	if err := e.challenges.ConsumeLoginChallenge(ctx, principal.ID, challengeToken); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		e.metrics.Inc(MetricTwoFactorFailure)
		return nil, ErrInvalidCode
	}

	return e.completeChallengedLogin(ctx, principal, auditTwoFactorSuccess, MetricTwoFactorSuccess)
}

// VerifyTwoFactorBackup completes a challenged login with a recovery code.
// The code is single-use; spending it does not touch the remaining codes.
func (e *Engine) VerifyTwoFactorBackup(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.verifyChallenge(ctx, challengeToken)
	if err != nil {
		return nil, err
	}

	if err := e.backupCodes.Consume(ctx, principal.ID, code); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		e.metrics.Inc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditTwoFactorFailure, principal.ID, principal.Email, false, ErrInvalidCode, nil)
		return nil, ErrInvalidCode
	}

	if err := e.challenges.ConsumeLoginChallenge(ctx, principal.ID, challengeToken); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, ErrInvalidCode
	}

	e.metrics.Inc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditBackupCodeUsed, principal.ID, principal.Email, true, nil, nil)

	return e.completeChallengedLogin(ctx, principal, auditTwoFactorSuccess, MetricTwoFactorSuccess)
}

// verifyChallenge checks the challenge token against the stored pending
// challenge without consuming it and loads the principal it belongs to.
func (e *Engine) verifyChallenge(ctx context.Context, challengeToken string) (*Principal, error) {
	claims, err := e.jwtManager.Parse(challengeToken, jwt.TypeTwoFactorChallenge)
	if err != nil {
		e.metrics.Inc(MetricTwoFactorFailure)
		return nil, ErrInvalidCode
	}

	stored, err := e.challenges.GetLoginChallenge(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		e.metrics.Inc(MetricTwoFactorFailure)
		return nil, ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(challengeToken)) != 1 {
		e.metrics.Inc(MetricTwoFactorFailure)
		return nil, ErrInvalidCode
	}

	principal, err := e.creds.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrPrincipalNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if statusErr := accountStatusToError(principal.Status); statusErr != nil {
		return nil, statusErr
	}
	return principal, nil
}

func (e *Engine) completeChallengedLogin(ctx context.Context, principal *Principal, action string, metric MetricID) (*LoginResult, error) {
	pair, err := e.tokens.Issue(ctx, principal.ID, principal.Email, principal.Roles)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(metric)
	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	e.emitAudit(ctx, action, principal.ID, principal.Email, true, nil, nil)

	return &LoginResult{
		SubjectID:    principal.ID,
		Email:        principal.Email,
		Roles:        principal.Roles,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Refresh exchanges a refresh token for a new pair, invalidating the old
// one. Stale, forged and replayed tokens are indistinguishable to the
// caller; all report ErrTokenInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	pair, rec, err := e.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			e.metrics.Inc(MetricRefreshFailure)
			e.emitAudit(ctx, auditRefreshInvalid, "", "", false, err, nil)
		}
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditRefreshSuccess, "", rec.Email, true, nil, nil)

	return &pair, nil
}

// ValidateAccess checks an access token and returns the subject it was
// issued to. Revoked tokens report ErrTokenRevoked, everything else wrong
// reports ErrTokenInvalid.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	claims, err := e.tokens.ValidateAccess(ctx, accessToken)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Logout ends the session behind the access token and blocks the token for
// its remaining lifetime. Logging out twice with the same token succeeds.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	subject, err := e.tokens.Revoke(ctx, accessToken)
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricLogout)
	e.metrics.Inc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditLogout, subject, "", true, nil, nil)
	return nil
}

func decodeTOTPSecret(secretBase32 string) ([]byte, error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return enc.DecodeString(secretBase32)
}
