package authcore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, for example
// AUTHCORE_JWT_ACCESS_TTL or AUTHCORE_REDIS_ADDR.
const EnvPrefix = "AUTHCORE"

// LoadConfig reads configuration from path (any format viper understands)
// layered over the defaults, then applies AUTHCORE_* environment overrides.
// An empty path searches for authcore.{yaml,json,toml} in the working
// directory and /etc/authcore; a missing file is not an error.
//
// Secrets are read as strings: jwt.secret (hs256), jwt.private_key and
// jwt.public_key (ed25519, PEM or raw), totp.encryption_key and
// totp.encryption_salt.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("authcore")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/authcore/")
	}

	setDefaults(v, defaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	switch cfg.JWT.SigningMethod {
	case "ed25519":
		cfg.JWT.PrivateKey = secretBytes(v, "jwt.private_key")
		cfg.JWT.PublicKey = secretBytes(v, "jwt.public_key")
	default:
		cfg.JWT.PrivateKey = secretBytes(v, "jwt.secret")
	}
	cfg.TOTP.EncryptionKey = secretBytes(v, "totp.encryption_key")
	cfg.TOTP.EncryptionSalt = secretBytes(v, "totp.encryption_salt")

	return cfg, nil
}

func secretBytes(v *viper.Viper, key string) []byte {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return nil
	}
	return []byte(s)
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the config file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("jwt.access_ttl", d.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", d.JWT.RefreshTTL)
	v.SetDefault("jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.leeway", d.JWT.Leeway)
	v.SetDefault("jwt.key_id", d.JWT.KeyID)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.private_key", "")
	v.SetDefault("jwt.public_key", "")

	v.SetDefault("session.notify_new_device", d.Session.NotifyNewDevice)
	v.SetDefault("session.revoke_on_lock", d.Session.RevokeOnLock)

	v.SetDefault("rate_limit.login_email_max", d.RateLimit.LoginEmailMax)
	v.SetDefault("rate_limit.login_ip_max", d.RateLimit.LoginIPMax)
	v.SetDefault("rate_limit.login_window", d.RateLimit.LoginWindow)
	v.SetDefault("rate_limit.api_max", d.RateLimit.APIMax)
	v.SetDefault("rate_limit.auth_max", d.RateLimit.AuthMax)
	v.SetDefault("rate_limit.user_max", d.RateLimit.UserMax)
	v.SetDefault("rate_limit.api_window", d.RateLimit.APIWindow)

	v.SetDefault("lockout.max_failed_attempts", d.Lockout.MaxFailedAttempts)
	v.SetDefault("lockout.window", d.Lockout.Window)

	v.SetDefault("ip_access.cache_ttl", d.IPAccess.CacheTTL)

	v.SetDefault("totp.issuer", d.TOTP.Issuer)
	v.SetDefault("totp.skew", d.TOTP.Skew)
	v.SetDefault("totp.backup_code_count", d.TOTP.BackupCodeCount)
	v.SetDefault("totp.backup_code_digits", d.TOTP.BackupCodeDigits)
	v.SetDefault("totp.qr_size", d.TOTP.QRSize)
	v.SetDefault("totp.max_verify_attempts", d.TOTP.MaxVerifyAttempts)
	v.SetDefault("totp.verify_attempt_reset", d.TOTP.VerifyAttemptReset)
	v.SetDefault("totp.encryption_key", "")
	v.SetDefault("totp.encryption_salt", "")

	v.SetDefault("passkey.rp_id", d.Passkey.RPID)
	v.SetDefault("passkey.rp_name", d.Passkey.RPName)
	v.SetDefault("passkey.origins", d.Passkey.Origins)
	v.SetDefault("passkey.challenge_ttl", d.Passkey.ChallengeTTL)
	v.SetDefault("passkey.max_per_user", d.Passkey.MaxPerUser)
	v.SetDefault("passkey.token_channel", d.Passkey.TokenChannel)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("async.workers", d.Async.Workers)
	v.SetDefault("async.buffer_size", d.Async.BufferSize)
	v.SetDefault("async.drop_if_full", d.Async.DropIfFull)
	v.SetDefault("async.task_timeout", d.Async.TaskTimeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.json", d.Logging.JSON)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
}
