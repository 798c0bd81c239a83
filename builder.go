package clockauth

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/PheonixOfTesla/clockwork-auth/jwt"
	"github.com/PheonixOfTesla/clockwork-auth/password"
	"github.com/PheonixOfTesla/clockwork-auth/session"
)

// Builder assembles an Engine. A builder is single-use; Build returns an
// error on reuse.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	creds     CredentialStore
	notifier  Notifier
	auditSink AuditSink

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.creds = store
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.creds == nil {
		return nil, errors.New("credential store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	// Verified against on login when the email is unknown, so a miss costs
	// the same as a wrong password.
	dummyHash, err := hasher.Hash("decoy-password-for-timing")
	if err != nil {
		return nil, err
	}

	prefix := cfg.Session.RedisPrefix
	sessions := session.NewStore(b.redis, prefix)

	engine := &Engine{
		config:      cfg,
		creds:       b.creds,
		hasher:      hasher,
		jwtManager:  jm,
		sessions:    sessions,
		totp:        newTOTPManager(cfg.TOTP),
		challenges:  newTwoFactorChallengeStore(b.redis, prefix),
		resetStore:  newPasswordResetStore(b.redis, prefix),
		backupCodes: newBackupCodeStore(b.redis, prefix),
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		notify:      newNotifyDispatcher(cfg.Notify, b.notifier),
		metrics:     NewMetrics(cfg.Metrics),
		dummyHash:   dummyHash,
	}
	engine.tokens = newTokenService(jm, sessions, b.redis, prefix, cfg.JWT)

	b.built = true

	return engine, nil
}
