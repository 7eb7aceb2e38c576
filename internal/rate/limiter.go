package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"
)

const (
	loginEmailPrefix = "login:email:"
	loginIPPrefix    = "login:ip:"
	apiPrefix        = "rate:api:"
	authPrefix       = "rate:auth:"
	userPrefix       = "rate:user:"

	defaultRetryAfter = 60 * time.Second
)

// Tier selects an API limiter policy.
type Tier int

const (
	// TierAPI is the coarse per-IP limit applied to all API traffic.
	TierAPI Tier = iota
	// TierAuth is the stricter per-IP limit for authentication endpoints.
	TierAuth
	// TierUser is the per-user limit for authenticated traffic.
	TierUser
)

func (t Tier) String() string {
	switch t {
	case TierAuth:
		return "auth"
	case TierUser:
		return "user"
	default:
		return "api"
	}
}

// Config holds limiter thresholds.
type Config struct {
	LoginEmailMax int
	LoginIPMax    int
	LoginWindow   time.Duration

	APIMax    int
	AuthMax   int
	UserMax   int
	APIWindow time.Duration
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	// Scope names the counter that denied the request ("email", "ip", tier name).
	Scope string
}

// Limiter enforces login and API limits with Redis counters.
type Limiter struct {
	redis    redis.UniversalClient
	config   Config
	logger   *zap.Logger
	warnOnce xrate.Sometimes
	failOpen atomic.Uint64
}

// New creates a [Limiter]. A nil logger disables logging.
func New(redisClient redis.UniversalClient, cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		redis:    redisClient,
		config:   cfg,
		logger:   logger.Named("ratelimit"),
		warnOnce: xrate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

// FailOpenCount reports how many checks were allowed because Redis failed.
func (l *Limiter) FailOpenCount() uint64 {
	return l.failOpen.Load()
}

// IsLoginAllowed checks the email and IP failure counters. A scope is
// exhausted once its failures reach the configured maximum.
func (l *Limiter) IsLoginAllowed(ctx context.Context, email, ip string) Decision {
	email = normalizeEmail(email)
	if email != "" {
		d, err := l.checkAtLeast(ctx, loginEmailPrefix+email, l.config.LoginEmailMax, l.config.LoginWindow, "email")
		if err != nil {
			return l.allowOnError("login_email", err)
		}
		if !d.Allowed {
			return d
		}
	}
	if ip != "" {
		d, err := l.checkAtLeast(ctx, loginIPPrefix+ip, l.config.LoginIPMax, l.config.LoginWindow, "ip")
		if err != nil {
			return l.allowOnError("login_ip", err)
		}
		if !d.Allowed {
			return d
		}
	}
	return Decision{Allowed: true, Limit: l.config.LoginEmailMax, Remaining: l.RemainingAttempts(ctx, email)}
}

// RecordFailedLogin increments both login counters.
func (l *Limiter) RecordFailedLogin(ctx context.Context, email, ip string) {
	email = normalizeEmail(email)
	if email != "" {
		if _, err := l.incrementWithTTL(ctx, loginEmailPrefix+email, l.config.LoginWindow); err != nil {
			l.allowOnError("record_email", err)
		}
	}
	if ip != "" {
		if _, err := l.incrementWithTTL(ctx, loginIPPrefix+ip, l.config.LoginWindow); err != nil {
			l.allowOnError("record_ip", err)
		}
	}
}

// ClearFailedLogins resets the email counter after a successful login. The
// IP counter is left to expire on its own.
func (l *Limiter) ClearFailedLogins(ctx context.Context, email string) {
	email = normalizeEmail(email)
	if email == "" {
		return
	}
	if err := l.redis.Del(ctx, loginEmailPrefix+email).Err(); err != nil {
		l.allowOnError("clear_email", fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
	}
}

// RemainingAttempts returns how many failures email may still record in the
// current window.
func (l *Limiter) RemainingAttempts(ctx context.Context, email string) int {
	email = normalizeEmail(email)
	if email == "" {
		return l.config.LoginEmailMax
	}
	count, err := l.get(ctx, loginEmailPrefix+email)
	if err != nil {
		l.allowOnError("remaining", err)
		return l.config.LoginEmailMax
	}
	remaining := l.config.LoginEmailMax - int(count)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AllowAPI counts one request for key under tier. The request is limited
// once the window count exceeds the tier maximum.
func (l *Limiter) AllowAPI(ctx context.Context, tier Tier, key string) Decision {
	if key == "" {
		return Decision{Allowed: true}
	}
	prefix, max := l.tierPolicy(tier)

	count, err := l.incrementWithTTL(ctx, prefix+key, l.config.APIWindow)
	if err != nil {
		return l.allowOnError("api_"+tier.String(), err)
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if count <= int64(max) {
		return Decision{Allowed: true, Limit: max, Remaining: remaining, Scope: tier.String()}
	}

	retry, err := l.retryAfter(ctx, prefix+key, defaultRetryAfter)
	if err != nil {
		retry = defaultRetryAfter
	}
	return Decision{Allowed: false, Limit: max, Remaining: 0, RetryAfter: retry, Scope: tier.String()}
}

func (l *Limiter) tierPolicy(tier Tier) (string, int) {
	switch tier {
	case TierAuth:
		return authPrefix, l.config.AuthMax
	case TierUser:
		return userPrefix, l.config.UserMax
	default:
		return apiPrefix, l.config.APIMax
	}
}

func (l *Limiter) checkAtLeast(ctx context.Context, key string, max int, window time.Duration, scope string) (Decision, error) {
	count, err := l.get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if count < int64(max) {
		return Decision{Allowed: true, Limit: max, Remaining: max - int(count), Scope: scope}, nil
	}
	retry, err := l.retryAfter(ctx, key, window)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: false, Limit: max, RetryAfter: retry, Scope: scope}, nil
}

func (l *Limiter) get(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

func (l *Limiter) retryAfter(ctx context.Context, key string, fallback time.Duration) (time.Duration, error) {
	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		return fallback, nil
	}
	return ttl, nil
}

// fixedWindowScript increments KEYS[1] and sets its TTL only for the first
// hit in the window, so a crash between the two never leaves a counter
// without expiry.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := fixedWindowScript.Run(ctx, l.redis, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

func (l *Limiter) allowOnError(op string, err error) Decision {
	l.failOpen.Add(1)
	l.warnOnce.Do(func() {
		l.logger.Warn("rate limiter failing open",
			zap.String("op", op),
			zap.Error(err),
			zap.Uint64("fail_open_total", l.failOpen.Load()),
		)
	})
	return Decision{Allowed: true}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
