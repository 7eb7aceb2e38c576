package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm used for both token kinds.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// TokenType distinguishes access tokens from refresh tokens. Both kinds share
// a signing key, so every call site must check the type explicitly.
type TokenType string

const (
	TypeAccess  TokenType = "ACCESS"
	TypeRefresh TokenType = "REFRESH"
)

var (
	// ErrInvalidToken covers malformed, badly signed, expired or foreign tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenType is returned when a refresh token is presented where an
	// access token is expected, or the other way round.
	ErrWrongTokenType = errors.New("unexpected token type")
)

// Config configures a [Manager].
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Claims is the payload carried by both access and refresh tokens.
type Claims struct {
	UserID   string    `json:"userId"`
	UserUUID string    `json:"userUuid"`
	Channel  string    `json:"channel"`
	Role     string    `json:"role"`
	Type     TokenType `json:"type"`
	jwt.RegisteredClaims
}

// TokenID returns the jti claim.
func (c *Claims) TokenID() string {
	return c.ID
}

// RemainingTTL returns the time left until exp, clamped at zero.
func (c *Claims) RemainingTTL(now time.Time) time.Duration {
	if c == nil || c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Manager signs and verifies tokens. It is stateless and safe for
// concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// WithClock returns a copy of m that reads time from now. Intended for tests
// and replay tooling.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

// AccessTTL reports the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// CreateAccessToken signs a new access token with a fresh token id.
func (m *Manager) CreateAccessToken(userID, userUUID, channel, role string) (string, error) {
	return m.create(TypeAccess, m.config.AccessTTL, userID, userUUID, channel, role)
}

// CreateRefreshToken signs a new refresh token with a fresh token id.
func (m *Manager) CreateRefreshToken(userID, userUUID, channel, role string) (string, error) {
	return m.create(TypeRefresh, m.config.RefreshTTL, userID, userUUID, channel, role)
}

func (m *Manager) create(kind TokenType, ttl time.Duration, userID, userUUID, channel, role string) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}

	now := m.now()
	claims := Claims{
		UserID:   userID,
		UserUUID: userUUID,
		Channel:  channel,
		Role:     role,
		Type:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(m.getMethod(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signKey, err := m.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// ValidateToken reports whether token has a valid signature, issuer and
// expiry. It never returns an error; any failure yields false.
func (m *Manager) ValidateToken(token string) bool {
	if m == nil || token == "" {
		return false
	}
	_, err := m.Parse(token)
	return err == nil
}

// Parse verifies token and returns its claims regardless of type.
func (m *Manager) Parse(token string) (*Claims, error) {
	return m.parse(token, true)
}

// ParseAccess verifies token and requires type ACCESS.
func (m *Manager) ParseAccess(token string) (*Claims, error) {
	return m.parseTyped(token, TypeAccess)
}

// ParseRefresh verifies token and requires type REFRESH.
func (m *Manager) ParseRefresh(token string) (*Claims, error) {
	return m.parseTyped(token, TypeRefresh)
}

func (m *Manager) parseTyped(token string, want TokenType) (*Claims, error) {
	claims, err := m.parse(token, true)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// Inspect verifies the signature of token but skips time-based checks. The
// accessors below are built on it and are meant for tokens the caller has
// already validated.
func (m *Manager) Inspect(token string) (*Claims, error) {
	return m.parse(token, false)
}

// UserID extracts the userId claim.
func (m *Manager) UserID(token string) (string, error) {
	c, err := m.Inspect(token)
	if err != nil {
		return "", err
	}
	return c.UserID, nil
}

// UserUUID extracts the userUuid claim.
func (m *Manager) UserUUID(token string) (string, error) {
	c, err := m.Inspect(token)
	if err != nil {
		return "", err
	}
	return c.UserUUID, nil
}

// Channel extracts the login channel claim.
func (m *Manager) Channel(token string) (string, error) {
	c, err := m.Inspect(token)
	if err != nil {
		return "", err
	}
	return c.Channel, nil
}

// Role extracts the role claim.
func (m *Manager) Role(token string) (string, error) {
	c, err := m.Inspect(token)
	if err != nil {
		return "", err
	}
	return c.Role, nil
}

// TokenID extracts the jti claim.
func (m *Manager) TokenID(token string) (string, error) {
	c, err := m.Inspect(token)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// TokenType extracts the type claim.
func (m *Manager) TokenType(token string) (TokenType, error) {
	c, err := m.Inspect(token)
	if err != nil {
		return "", err
	}
	return c.Type, nil
}

// RemainingTTL returns the time left before token expires, or zero.
func (m *Manager) RemainingTTL(token string) (time.Duration, error) {
	c, err := m.Inspect(token)
	if err != nil {
		return 0, err
	}
	return c.RemainingTTL(m.now()), nil
}

func (m *Manager) parse(tokenStr string, checkTime bool) (*Claims, error) {
	if m == nil || tokenStr == "" {
		return nil, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.getMethod().Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if checkTime {
		options = append(options, jwt.WithExpirationRequired())
		if m.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(m.config.Leeway))
		}
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !checkTime && m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing identity claims", ErrInvalidToken)
	}
	if checkTime && claims.IssuedAt != nil && m.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(m.now().Add(m.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalidToken)
		}
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.keyBytesToVerifyKey(key)
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return m.getVerifyKey()
}

func (m *Manager) getMethod() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (m *Manager) getSignKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(m.config.PrivateKey)
	default:
		return m.config.PrivateKey, nil
	}
}

func (m *Manager) getVerifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(m.config.PublicKey)
	default:
		return m.config.PrivateKey, nil
	}
}

func (m *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(key)
	default:
		return key, nil
	}
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
