package authcore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero access ttl", mutate: func(c *Config) { c.JWT.AccessTTL = 0 }, wantErr: "AccessTTL"},
		{name: "refresh shorter than access", mutate: func(c *Config) { c.JWT.RefreshTTL = time.Minute }, wantErr: "RefreshTTL must be >="},
		{name: "hs256 without secret", mutate: func(c *Config) { c.JWT.PrivateKey = nil }, wantErr: "hs256"},
		{name: "ed25519 without public key", mutate: func(c *Config) { c.JWT.SigningMethod = "ed25519" }, wantErr: "PublicKey"},
		{name: "unknown signing method", mutate: func(c *Config) { c.JWT.SigningMethod = "rs256" }, wantErr: "unsupported"},
		{name: "leeway too large", mutate: func(c *Config) { c.JWT.Leeway = time.Hour }, wantErr: "Leeway"},
		{name: "login window", mutate: func(c *Config) { c.RateLimit.LoginWindow = 0 }, wantErr: "login thresholds"},
		{name: "api max", mutate: func(c *Config) { c.RateLimit.UserMax = 0 }, wantErr: "API thresholds"},
		{name: "lockout attempts", mutate: func(c *Config) { c.Lockout.MaxFailedAttempts = 0 }, wantErr: "MaxFailedAttempts"},
		{name: "cache ttl", mutate: func(c *Config) { c.IPAccess.CacheTTL = 0 }, wantErr: "CacheTTL"},
		{name: "totp skew", mutate: func(c *Config) { c.TOTP.Skew = 3 }, wantErr: "Skew"},
		{name: "short backup codes", mutate: func(c *Config) { c.TOTP.BackupCodeDigits = 4 }, wantErr: "backup codes"},
		{name: "short encryption key", mutate: func(c *Config) { c.TOTP.EncryptionKey = []byte("short") }, wantErr: "EncryptionKey"},
		{name: "passkey origins", mutate: func(c *Config) { c.Passkey.Origins = nil }, wantErr: "Origins"},
		{name: "async workers", mutate: func(c *Config) { c.Async.Workers = 0 }, wantErr: "Async"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "Logging Level"},
		{name: "histograms without metrics", mutate: func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.EnableLatencyHistograms = true
		}, wantErr: "latency histograms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	cfg := testConfig()
	cfg.JWT.PrivateKey = nil
	if _, err := New().WithConfig(cfg).WithRedis(env.rdb).WithUserStatusStore(env.users).Build(); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := New().WithConfig(testConfig()).WithUserStatusStore(env.users).Build(); err == nil {
		t.Fatal("expected missing redis error")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(env.rdb).Build(); err == nil {
		t.Fatal("expected missing user store error")
	}

	b := New().WithConfig(testConfig()).WithRedis(env.rdb).WithUserStatusStore(env.users)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("builder must not be reusable")
	}
}

func TestBuildCopiesConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	cfg := testConfig()
	engine, err := New().WithConfig(cfg).WithRedis(env.rdb).WithUserStatusStore(env.users).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	cfg.JWT.PrivateKey[0] = 'X'
	cfg.RateLimit.LoginEmailMax = 1
	if engine.config.JWT.PrivateKey[0] == 'X' || engine.config.RateLimit.LoginEmailMax != 5 {
		t.Fatal("engine config aliases the caller's value")
	}
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authcore.yaml")
	yaml := `
jwt:
  access_ttl: 10m
  issuer: example
  secret: 0123456789abcdef0123456789abcdef
rate_limit:
  login_email_max: 3
passkey:
  origins:
    - https://app.example.com
    - https://admin.example.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUTHCORE_LOCKOUT_MAX_FAILED_ATTEMPTS", "4")
	t.Setenv("AUTHCORE_REDIS_ADDR", "redis.internal:6380")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWT.AccessTTL != 10*time.Minute || cfg.JWT.Issuer != "example" {
		t.Fatalf("jwt = %+v", cfg.JWT)
	}
	if string(cfg.JWT.PrivateKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("secret not loaded")
	}
	if cfg.JWT.RefreshTTL != 14*24*time.Hour {
		t.Fatalf("default refresh ttl lost: %v", cfg.JWT.RefreshTTL)
	}
	if cfg.RateLimit.LoginEmailMax != 3 || cfg.RateLimit.LoginIPMax != 20 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if len(cfg.Passkey.Origins) != 2 || cfg.Passkey.Origins[1] != "https://admin.example.com" {
		t.Fatalf("origins = %v", cfg.Passkey.Origins)
	}
	if cfg.Lockout.MaxFailedAttempts != 4 {
		t.Fatalf("env override ignored: %d", cfg.Lockout.MaxFailedAttempts)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}
