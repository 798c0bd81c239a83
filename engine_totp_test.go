package clockauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func codeForSecret(t *testing.T, secretBase32 string, cfg TOTPConfig) string {
	t.Helper()
	secret, err := decodeTOTPSecret(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := time.Now().Unix() / int64(cfg.Period)
	code, err := hotpCode(secret, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	return code
}

func enrollTwoFactor(t *testing.T, h *testHarness, subjectID string) (secret string, backupCodes []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := h.engine.EnableTwoFactor(ctx, subjectID)
	if err != nil {
		t.Fatalf("EnableTwoFactor: %v", err)
	}
	codes, err := h.engine.ConfirmTwoFactorSetup(ctx, subjectID, codeForSecret(t, setup.Secret, h.engine.config.TOTP))
	if err != nil {
		t.Fatalf("ConfirmTwoFactorSetup: %v", err)
	}
	return setup.Secret, codes
}

func TestTwoFactorEnrollment(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)

	setup, err := h.engine.EnableTwoFactor(ctx, res.SubjectID)
	if err != nil {
		t.Fatalf("EnableTwoFactor: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("empty secret")
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") || !strings.Contains(setup.URI, setup.Secret) {
		t.Fatalf("bad provisioning URI: %s", setup.URI)
	}

	// Wrong code leaves the pending secret in place.
	if _, err := h.engine.ConfirmTwoFactorSetup(ctx, res.SubjectID, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code: %v", err)
	}

	codes, err := h.engine.ConfirmTwoFactorSetup(ctx, res.SubjectID, codeForSecret(t, setup.Secret, h.engine.config.TOTP))
	if err != nil {
		t.Fatalf("ConfirmTwoFactorSetup: %v", err)
	}
	if len(codes) != h.engine.config.TOTP.BackupCodeCount {
		t.Fatalf("want %d backup codes, got %d", h.engine.config.TOTP.BackupCodeCount, len(codes))
	}

	// Confirming again has nothing to confirm.
	if _, err := h.engine.ConfirmTwoFactorSetup(ctx, res.SubjectID, "123456"); !errors.Is(err, ErrTwoFactorEnabled) {
		t.Fatalf("second confirm: %v", err)
	}
	if _, err := h.engine.EnableTwoFactor(ctx, res.SubjectID); !errors.Is(err, ErrTwoFactorEnabled) {
		t.Fatalf("enable while enabled: %v", err)
	}
}

func TestConfirmWithoutPendingSetup(t *testing.T) {
	h := newTestEngine(t)
	res := mustSignup(t, h, "ada@example.com", testPassword)

	_, err := h.engine.ConfirmTwoFactorSetup(context.Background(), res.SubjectID, "123456")
	if !errors.Is(err, ErrNoPendingSetup) {
		t.Fatalf("want ErrNoPendingSetup, got %v", err)
	}
}

func TestChallengedLogin(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)
	secret, _ := enrollTwoFactor(t, h, res.SubjectID)

	login, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !login.TwoFactorRequired || login.ChallengeToken == "" {
		t.Fatalf("expected challenge, got %+v", login)
	}
	if login.AccessToken != "" || login.RefreshToken != "" {
		t.Fatal("tokens issued before second factor")
	}

	// The wrong code fails but keeps the challenge alive.
	if _, err := h.engine.VerifyTwoFactor(ctx, login.ChallengeToken, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("wrong code: %v", err)
	}

	final, err := h.engine.VerifyTwoFactor(ctx, login.ChallengeToken, codeForSecret(t, secret, h.engine.config.TOTP))
	if err != nil {
		t.Fatalf("VerifyTwoFactor: %v", err)
	}
	if final.AccessToken == "" || final.RefreshToken == "" {
		t.Fatal("missing tokens after second factor")
	}
	if subject, err := h.engine.ValidateAccess(ctx, final.AccessToken); err != nil || subject != res.SubjectID {
		t.Fatalf("ValidateAccess: %q %v", subject, err)
	}

	// The challenge was consumed; replaying it fails even with a good code.
	if _, err := h.engine.VerifyTwoFactor(ctx, login.ChallengeToken, codeForSecret(t, secret, h.engine.config.TOTP)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("replayed challenge: %v", err)
	}
}

func TestChallengeRejectsForgedToken(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)
	secret, _ := enrollTwoFactor(t, h, res.SubjectID)

	code := codeForSecret(t, secret, h.engine.config.TOTP)
	if _, err := h.engine.VerifyTwoFactor(ctx, "garbage", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("garbage challenge: %v", err)
	}

	// An access token is not a challenge token.
	if _, err := h.engine.VerifyTwoFactor(ctx, res.AccessToken, code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("access token as challenge: %v", err)
	}
}

func TestBackupCodeLogin(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)
	_, codes := enrollTwoFactor(t, h, res.SubjectID)

	login, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}

	final, err := h.engine.VerifyTwoFactorBackup(ctx, login.ChallengeToken, codes[0])
	if err != nil {
		t.Fatalf("VerifyTwoFactorBackup: %v", err)
	}
	if final.AccessToken == "" {
		t.Fatal("missing tokens after backup code")
	}

	// The spent code is dead, the rest still work.
	login2, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.VerifyTwoFactorBackup(ctx, login2.ChallengeToken, codes[0]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("reused backup code: %v", err)
	}
	if _, err := h.engine.VerifyTwoFactorBackup(ctx, login2.ChallengeToken, codes[1]); err != nil {
		t.Fatalf("second backup code: %v", err)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)
	_, codes := enrollTwoFactor(t, h, res.SubjectID)

	if err := h.engine.DisableTwoFactor(ctx, res.SubjectID, "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, res.SubjectID, testPassword); err != nil {
		t.Fatalf("DisableTwoFactor: %v", err)
	}

	// Login goes straight through again.
	login, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if login.TwoFactorRequired {
		t.Fatal("challenge after disable")
	}

	// Recovery codes died with the enrollment.
	if err := h.engine.backupCodes.Consume(ctx, res.SubjectID, codes[0]); err == nil {
		t.Fatal("backup codes survived disable")
	}

	if err := h.engine.DisableTwoFactor(ctx, res.SubjectID, testPassword); !errors.Is(err, ErrValidation) {
		t.Fatalf("disable while disabled: %v", err)
	}
}

func TestEnrollmentCancelsLoginChallenge(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	res := mustSignup(t, h, "ada@example.com", testPassword)
	secret, _ := enrollTwoFactor(t, h, res.SubjectID)

	login, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}

	// A locked account invalidates the outstanding challenge.
	if err := h.engine.SetAccountStatus(ctx, res.SubjectID, AccountLocked); err != nil {
		t.Fatal(err)
	}
	code := codeForSecret(t, secret, h.engine.config.TOTP)
	if _, err := h.engine.VerifyTwoFactor(ctx, login.ChallengeToken, code); err == nil {
		t.Fatal("challenge survived account lock")
	}
}
