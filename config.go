package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the full engine configuration. Build copies it, so later
// mutation of the caller's value has no effect on a running Engine.
type Config struct {
	JWT       JWTConfig       `mapstructure:"jwt"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Lockout   LockoutConfig   `mapstructure:"lockout"`
	IPAccess  IPAccessConfig  `mapstructure:"ip_access"`
	TOTP      TOTPConfig      `mapstructure:"totp"`
	Passkey   PasskeyConfig   `mapstructure:"passkey"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Async     AsyncConfig     `mapstructure:"async"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing.
//
// For "hs256" PrivateKey is the shared secret (at least 32 bytes). For
// "ed25519" PrivateKey and PublicKey hold raw or PEM encoded keys.
type JWTConfig struct {
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	SigningMethod string        `mapstructure:"signing_method"`
	PrivateKey    []byte        `mapstructure:"-"`
	PublicKey     []byte        `mapstructure:"-"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
	KeyID         string        `mapstructure:"key_id"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session side effects.
type SessionConfig struct {
	// NotifyNewDevice sends Notifier.NewDevice when a session-aware login
	// comes from a device fingerprint the user has no live session for.
	NotifyNewDevice bool `mapstructure:"notify_new_device"`
	// RevokeOnLock revokes every session when an account is locked.
	RevokeOnLock bool `mapstructure:"revoke_on_lock"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds fixed-window thresholds. Login scopes are exhausted
// once failures reach the max; API tiers once requests exceed it.
type RateLimitConfig struct {
	LoginEmailMax int           `mapstructure:"login_email_max"`
	LoginIPMax    int           `mapstructure:"login_ip_max"`
	LoginWindow   time.Duration `mapstructure:"login_window"`

	APIMax    int           `mapstructure:"api_max"`
	AuthMax   int           `mapstructure:"auth_max"`
	UserMax   int           `mapstructure:"user_max"`
	APIWindow time.Duration `mapstructure:"api_window"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

type LockoutConfig struct {
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	Window            time.Duration `mapstructure:"window"`
}

/*
====================================
IP ACCESS CONFIG
====================================
*/

type IPAccessConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig configures the second factor. EncryptionKey (at least 32
// bytes) and EncryptionSalt derive the key that seals secrets at rest; they
// are only required when no Encryptor is supplied to the Builder.
type TOTPConfig struct {
	Issuer             string        `mapstructure:"issuer"`
	Skew               uint          `mapstructure:"skew"`
	BackupCodeCount    int           `mapstructure:"backup_code_count"`
	BackupCodeDigits   int           `mapstructure:"backup_code_digits"`
	QRSize             int           `mapstructure:"qr_size"`
	MaxVerifyAttempts  int           `mapstructure:"max_verify_attempts"`
	VerifyAttemptReset time.Duration `mapstructure:"verify_attempt_reset"`
	EncryptionKey      []byte        `mapstructure:"-"`
	EncryptionSalt     []byte        `mapstructure:"-"`
}

/*
====================================
PASSKEY CONFIG
====================================
*/

type PasskeyConfig struct {
	RPID         string        `mapstructure:"rp_id"`
	RPName       string        `mapstructure:"rp_name"`
	Origins      []string      `mapstructure:"origins"`
	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`
	MaxPerUser   int           `mapstructure:"max_per_user"`
	// TokenChannel is the channel claim of tokens issued for passkey logins.
	TokenChannel string `mapstructure:"token_channel"`
}

/*
====================================
AUDIT / METRICS / ASYNC
====================================
*/

// AuditConfig enables audit emission. The sink itself is set with
// Builder.WithAuditSink.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// AsyncConfig sizes the background runner used for notifications and
// audit delivery.
type AsyncConfig struct {
	Workers     int           `mapstructure:"workers"`
	BufferSize  int           `mapstructure:"buffer_size"`
	DropIfFull  bool          `mapstructure:"drop_if_full"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

/*
====================================
LOGGING / STORAGE
====================================
*/

// LoggingConfig is consumed by NewLogger. An empty OutputPath logs to
// stderr; anything else is a file rotated by size.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	JSON       bool   `mapstructure:"json"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DatabaseConfig describes the durable store used by the CLI. The engine
// itself only sees the store interfaces.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DefaultConfig returns the production defaults. Signing and encryption
// secrets are left empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    14 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			NotifyNewDevice: true,
			RevokeOnLock:    true,
		},
		RateLimit: RateLimitConfig{
			LoginEmailMax: 5,
			LoginIPMax:    20,
			LoginWindow:   15 * time.Minute,
			APIMax:        60,
			AuthMax:       10,
			UserMax:       200,
			APIWindow:     time.Minute,
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 10,
			Window:            time.Hour,
		},
		IPAccess: IPAccessConfig{
			CacheTTL: 5 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:             "AuthService",
			Skew:               1,
			BackupCodeCount:    8,
			BackupCodeDigits:   8,
			QRSize:             200,
			MaxVerifyAttempts:  5,
			VerifyAttemptReset: time.Minute,
		},
		Passkey: PasskeyConfig{
			RPID:         "localhost",
			RPName:       "Authly",
			Origins:      []string{"http://localhost:3000"},
			ChallengeTTL: 300 * time.Second,
			MaxPerUser:   10,
			TokenChannel: "EMAIL",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Async: AsyncConfig{
			Workers:     2,
			BufferSize:  256,
			DropIfFull:  true,
			TaskTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			JSON:       true,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "authcore.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.TOTP.EncryptionKey = cloneBytes(cfg.TOTP.EncryptionKey)
	out.TOTP.EncryptionSalt = cloneBytes(cfg.TOTP.EncryptionSalt)
	if cfg.Passkey.Origins != nil {
		out.Passkey.Origins = append([]string(nil), cfg.Passkey.Origins...)
	}
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

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting. Signing keys are checked
// again, in depth, when the token manager is built.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return errors.New("JWT Issuer must not be empty")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Rate limits
	r := c.RateLimit
	if r.LoginEmailMax <= 0 || r.LoginIPMax <= 0 || r.LoginWindow <= 0 {
		return errors.New("RateLimit login thresholds must be > 0")
	}
	if r.APIMax <= 0 || r.AuthMax <= 0 || r.UserMax <= 0 || r.APIWindow <= 0 {
		return errors.New("RateLimit API thresholds must be > 0")
	}

	// Lockout
	if c.Lockout.MaxFailedAttempts <= 0 {
		return errors.New("Lockout MaxFailedAttempts must be > 0")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}

	if c.IPAccess.CacheTTL <= 0 {
		return errors.New("IPAccess CacheTTL must be > 0")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer must not be empty")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}
	if c.TOTP.BackupCodeCount <= 0 || c.TOTP.BackupCodeDigits < 6 {
		return errors.New("TOTP backup codes need count > 0 and at least 6 digits")
	}
	if c.TOTP.MaxVerifyAttempts <= 0 || c.TOTP.VerifyAttemptReset <= 0 {
		return errors.New("TOTP verify throttle must be > 0")
	}
	if len(c.TOTP.EncryptionKey) > 0 && len(c.TOTP.EncryptionKey) < 32 {
		return errors.New("TOTP EncryptionKey must be at least 32 bytes")
	}

	// Passkey
	if c.Passkey.RPID == "" {
		return errors.New("Passkey RPID must not be empty")
	}
	if len(c.Passkey.Origins) == 0 {
		return errors.New("Passkey Origins must not be empty")
	}
	if c.Passkey.ChallengeTTL <= 0 {
		return errors.New("Passkey ChallengeTTL must be > 0")
	}
	if c.Passkey.MaxPerUser <= 0 {
		return errors.New("Passkey MaxPerUser must be > 0")
	}
	if c.Passkey.TokenChannel == "" {
		return errors.New("Passkey TokenChannel must not be empty")
	}

	// Async
	if c.Async.Workers <= 0 || c.Async.BufferSize <= 0 {
		return errors.New("Async Workers and BufferSize must be > 0")
	}
	if c.Async.TaskTimeout < 0 {
		return errors.New("Async TaskTimeout must be >= 0")
	}

	// Logging
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("Logging Level: %w", err)
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics latency histograms require Metrics.Enabled")
	}

	return nil
}
