package clockauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PheonixOfTesla/clockwork-auth/jwt"
)

func TestLoginSuccess(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	signup := mustSignup(t, h, "ada@example.com", testPassword)

	res, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.TwoFactorRequired {
		t.Fatal("unexpected two-factor challenge")
	}
	if res.SubjectID != signup.SubjectID {
		t.Fatalf("subject mismatch: %q vs %q", res.SubjectID, signup.SubjectID)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("missing tokens")
	}

	// Email lookup is case-insensitive.
	if _, err := h.engine.Login(ctx, "ADA@Example.COM", testPassword); err != nil {
		t.Fatalf("case-variant login: %v", err)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	mustSignup(t, h, "ada@example.com", testPassword)

	if _, err := h.engine.Login(ctx, "ada@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := h.engine.Login(ctx, "ghost@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
	if _, err := h.engine.Login(ctx, "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty input: %v", err)
	}
}

func TestLoginReplacesPreviousSession(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	mustSignup(t, h, "ada@example.com", testPassword)

	first, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}

	// Only the latest session's refresh token works.
	if _, err := h.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("stale refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("current refresh: %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)

	pair, err := h.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("missing rotated tokens")
	}
	if pair.RefreshToken == res.RefreshToken {
		t.Fatal("refresh token not rotated")
	}

	// The consumed token is dead; the new one rotates again.
	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replayed refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second rotation: %v", err)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	if _, err := h.engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: %v", err)
	}

	// An access token is not a refresh token.
	res := mustSignup(t, h, "ada@example.com", testPassword)
	if _, err := h.engine.Refresh(ctx, res.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token as refresh: %v", err)
	}
}

func TestLogoutRevokesAccess(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)

	if err := h.engine.Logout(ctx, res.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := h.engine.ValidateAccess(ctx, res.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("want ErrTokenRevoked, got %v", err)
	}
	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh after logout: %v", err)
	}

	// A second logout with the same token still succeeds.
	if err := h.engine.Logout(ctx, res.AccessToken); err != nil {
		t.Fatalf("repeated logout: %v", err)
	}
}

func TestLogoutAcceptsExpiredAccessToken(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)

	expired, err := h.engine.jwtManager.Create(jwt.TypeAccess, res.SubjectID, "ada@example.com", -2*time.Minute)
	if err != nil {
		t.Fatalf("mint expired token: %v", err)
	}

	// The lapsed token no longer authenticates but still ends the session.
	if _, err := h.engine.ValidateAccess(ctx, expired); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired token validated: %v", err)
	}
	if err := h.engine.Logout(ctx, expired); err != nil {
		t.Fatalf("Logout with expired token: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh after expired-token logout: %v", err)
	}
}

func TestValidateAccessRejectsInvalid(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	if _, err := h.engine.ValidateAccess(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: %v", err)
	}

	res := mustSignup(t, h, "ada@example.com", testPassword)
	if _, err := h.engine.ValidateAccess(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token as access: %v", err)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	h := newTestEngine(t, func(cfg *Config) {
		cfg.Password.Time = 2
		cfg.Password.UpgradeOnLogin = true
	})
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)

	// Plant a hash produced with weaker parameters.
	weak := newTestEngine(t)
	weakHash, err := weak.engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.creds.UpdatePassword(ctx, res.SubjectID, weakHash); err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.Login(ctx, "ada@example.com", testPassword); err != nil {
		t.Fatalf("login with legacy hash: %v", err)
	}

	stored, err := h.creds.FindByID(ctx, res.SubjectID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PasswordHash == weakHash {
		t.Fatal("hash not upgraded on login")
	}
	if _, err := h.engine.Login(ctx, "ada@example.com", testPassword); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
}

func TestLoginMetrics(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	mustSignup(t, h, "ada@example.com", testPassword)
	_, _ = h.engine.Login(ctx, "ada@example.com", testPassword)
	_, _ = h.engine.Login(ctx, "ada@example.com", "wrong")

	snap := h.engine.MetricsSnapshot()
	if got := snap.Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("login success counter: %d", got)
	}
	if got := snap.Counters[MetricLoginFailure]; got != 1 {
		t.Fatalf("login failure counter: %d", got)
	}
}
