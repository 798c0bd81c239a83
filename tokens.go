package clockauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PheonixOfTesla/clockwork-auth/jwt"
	"github.com/PheonixOfTesla/clockwork-auth/session"
)

// tokenService issues, validates, rotates and revokes token pairs. Issuing
// overwrites the subject's session record; rotation goes through the
// store's compare-and-swap so a stale refresh token can never win.
type tokenService struct {
	jwt      *jwt.Manager
	sessions *session.Store
	rdb      redis.UniversalClient
	prefix   string
	config   JWTConfig
}

func newTokenService(mgr *jwt.Manager, sessions *session.Store, rdb redis.UniversalClient, prefix string, cfg JWTConfig) *tokenService {
	return &tokenService{jwt: mgr, sessions: sessions, rdb: rdb, prefix: prefix, config: cfg}
}

func (t *tokenService) blacklistKey(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return t.prefix + ":blk:" + hex.EncodeToString(sum[:])
}

// Issue mints a fresh access/refresh pair for subject and installs the
// session record, replacing any existing session.
func (t *tokenService) Issue(ctx context.Context, subject, email string, roles []string) (TokenPair, error) {
	access, err := t.jwt.Create(jwt.TypeAccess, subject, email, t.config.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.jwt.Create(jwt.TypeRefresh, subject, email, t.config.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now()
	rec := &session.Record{
		RefreshToken: refresh,
		Email:        email,
		Roles:        roles,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(t.config.RefreshTTL).Unix(),
	}
	if err := t.sessions.Save(ctx, subject, rec, t.config.RefreshTTL); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// ValidateAccess checks signature, expiry and the revocation list. A
// structurally valid but revoked token reports ErrTokenRevoked; anything
// else wrong reports ErrTokenInvalid.
func (t *tokenService) ValidateAccess(ctx context.Context, accessToken string) (*jwt.Claims, error) {
	claims, err := t.jwt.Parse(accessToken, jwt.TypeAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	n, err := t.rdb.Exists(ctx, t.blacklistKey(accessToken)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n > 0 {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token must
// match the session record exactly; on success the old token is dead. Every
// failure mode except store outage collapses to ErrTokenInvalid so callers
// cannot distinguish a forged token from a stale or replayed one.
func (t *tokenService) Rotate(ctx context.Context, refreshToken string) (TokenPair, *session.Record, error) {
	claims, err := t.jwt.Parse(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	subject := claims.Subject

	access, err := t.jwt.Create(jwt.TypeAccess, subject, claims.Email, t.config.AccessTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}
	nextRefresh, err := t.jwt.Create(jwt.TypeRefresh, subject, claims.Email, t.config.RefreshTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}

	rec, err := t.sessions.Rotate(ctx, subject, refreshToken, nextRefresh, t.config.RefreshTTL)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrUnavailable):
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	return TokenPair{AccessToken: access, RefreshToken: nextRefresh}, rec, nil
}

// Revoke ends the subject's session and blocks the presented access token
// for whatever lifetime it has left. An already-expired token still tears
// down the session record and just skips the blacklist write, so a session
// stays terminable after its access token lapses. Revoking twice is not
// an error.
func (t *tokenService) Revoke(ctx context.Context, accessToken string) (string, error) {
	claims, err := t.jwt.ParseAllowExpired(accessToken, jwt.TypeAccess)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	subject := claims.Subject

	if remaining := time.Until(claims.Expiry()); remaining > 0 {
		if err := t.rdb.Set(ctx, t.blacklistKey(accessToken), "1", remaining).Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if err := t.sessions.Delete(ctx, subject); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return subject, nil
}
