package clockauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the full engine configuration. Instances are validated and
// deep-copied at Build time and treated as immutable afterwards.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Password      PasswordConfig
	Policy        PasswordPolicyConfig
	TOTP          TOTPConfig
	PasswordReset PasswordResetConfig
	Audit         AuditConfig
	Notify        NotifyConfig
	Metrics       MetricsConfig
}

// JWTConfig controls token minting for every signed token the engine
// issues: access, refresh, password-reset, and two-factor challenge.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration // clock-skew tolerance applied on parse
}

// SessionConfig controls the Redis key namespace for session records and
// the other transient security entries.
type SessionConfig struct {
	RedisPrefix string
}

// PasswordConfig carries the Argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin rehashes a verified password when the configured
	// parameters are stronger than those of the stored hash.
	UpgradeOnLogin bool
}

// PasswordPolicyConfig is the strength policy applied at signup, password
// change, and reset confirmation. Each character-class requirement is
// enforced independently.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSymbol    bool
}

// TOTPConfig controls the second-factor subsystem.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // SHA1 (default), SHA256, SHA512
	// Skew is the tolerance window in time steps applied on both sides
	// of the current step.
	Skew int
	// ChallengeTTL bounds the window between a verified password and the
	// second-factor code during login.
	ChallengeTTL time.Duration
	// PendingSetupTTL bounds the window between secret provisioning and
	// enrollment confirmation.
	PendingSetupTTL  time.Duration
	BackupCodeCount  int
	BackupCodeLength int
	BackupCodeTTL    time.Duration
}

// PasswordResetConfig controls the one-time reset-token flow.
type PasswordResetConfig struct {
	TokenTTL time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// NotifyConfig controls the async notification dispatcher.
type NotifyConfig struct {
	BufferSize int
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "clockwork",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "ca",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Policy: PasswordPolicyConfig{
			MinLength:        10,
			RequireUppercase: true,
			RequireLowercase: true,
			RequireDigit:     true,
			RequireSymbol:    false,
		},
		TOTP: TOTPConfig{
			Issuer:           "Clockwork",
			Digits:           6,
			Period:           30,
			Algorithm:        "SHA1",
			Skew:             2,
			ChallengeTTL:     5 * time.Minute,
			PendingSetupTTL:  10 * time.Minute,
			BackupCodeCount:  8,
			BackupCodeLength: 10,
			BackupCodeTTL:    365 * 24 * time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Notify: NotifyConfig{
			BufferSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency. Build calls
// it before constructing any component; a failure here is a deployment
// error, not a runtime condition.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && (len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0) {
		return errors.New("ed25519 requires PrivateKey and PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires PrivateKey of at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2 minutes")
	}

	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	if c.Policy.MinLength < 8 {
		return errors.New("Policy MinLength must be >= 8")
	}

	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// empty is treated as SHA1
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}
	if c.TOTP.ChallengeTTL <= 0 {
		return errors.New("TOTP ChallengeTTL must be > 0")
	}
	if c.TOTP.PendingSetupTTL <= 0 {
		return errors.New("TOTP PendingSetupTTL must be > 0")
	}
	if c.TOTP.BackupCodeCount <= 0 {
		return errors.New("TOTP BackupCodeCount must be > 0")
	}
	if c.TOTP.BackupCodeLength < 8 {
		return errors.New("TOTP BackupCodeLength must be >= 8")
	}
	if c.TOTP.BackupCodeTTL <= 0 {
		return errors.New("TOTP BackupCodeTTL must be > 0")
	}

	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Notify.BufferSize <= 0 {
		return errors.New("Notify BufferSize must be > 0")
	}

	return nil
}
