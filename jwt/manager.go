package jwt

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType tags the kind of signed token. The tag is embedded in the typ
// claim and verified on parse, so an access token can never be replayed as
// a refresh token and a challenge token can never be exchanged directly.
type TokenType string

const (
	// TypeAccess is the short-lived bearer credential.
	TypeAccess TokenType = "access"
	// TypeRefresh is the long-lived rotation credential.
	TypeRefresh TokenType = "refresh"
	// TypePasswordReset is the one-time reset credential.
	TypePasswordReset TokenType = "password_reset"
	// TypeTwoFactorChallenge binds a verified password to a pending
	// second-factor step.
	TypeTwoFactorChallenge TokenType = "twofactor_challenge"
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256.
	MethodHS256 SigningMethod = "hs256"
)

// Config holds the signing material and issuer identity.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Claims is the claim set of every engine token.
type Claims struct {
	TokenType string `json:"typ"`
	Email     string `json:"eml,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens. It is immutable after NewManager and
// safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates the signing material up front. A failure here is a
// startup-time misconfiguration, the only error path token minting has.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg}, nil
}

// Create mints a token of the given kind for subject. email is carried only
// when non-empty (the reset flow binds the token to the address it was
// requested for).
func (m *Manager) Create(kind TokenType, subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenType: string(kind),
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(m.method(), claims)
	signKey, err := m.signKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// Parse verifies signature, expiry, issuer, and token kind. Every failure
// mode collapses into a single error; the caller maps it onto its own
// uniform sentinel.
func (m *Manager) Parse(tokenStr string, want TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.TokenType != string(want) {
		return nil, errors.New("unexpected token type")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject claim")
	}
	return claims, nil
}

// ParseAllowExpired verifies everything Parse does except the expiry claim.
// Revocation accepts a lapsed access token so the session behind it can
// still be terminated after the bearer credential has aged out.
func (m *Manager) ParseAllowExpired(tokenStr string, want TokenType) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		return nil, errors.New("unexpected issuer")
	}
	if claims.ExpiresAt == nil {
		return nil, errors.New("missing expiry claim")
	}
	if claims.TokenType != string(want) {
		return nil, errors.New("unexpected token type")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject claim")
	}
	return claims, nil
}

// Expiry returns the expiry of a token that already passed Parse.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
