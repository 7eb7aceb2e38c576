package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mfaAttemptsPrefix = "mfa:attempts:"

	defaultMFAMaxAttempts = 5
	defaultMFACooldown    = time.Minute
)

var (
	// ErrMFAThrottled is returned once a user has used up their code attempts.
	ErrMFAThrottled = errors.New("mfa attempts throttled")
	// ErrMFAThrottleUnavailable indicates the counter backend is unreachable.
	ErrMFAThrottleUnavailable = errors.New("mfa throttle unavailable")
)

// MFAConfig holds the code-attempt policy.
type MFAConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// MFAAttempts throttles wrong second-factor codes per user.
type MFAAttempts struct {
	redis       redis.UniversalClient
	maxAttempts int64
	cooldown    time.Duration
}

// NewMFAAttempts creates a code-attempt limiter. Zero-value fields fall back
// to 5 attempts per minute.
func NewMFAAttempts(redisClient redis.UniversalClient, cfg MFAConfig) *MFAAttempts {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMFAMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultMFACooldown
	}
	return &MFAAttempts{redis: redisClient, maxAttempts: int64(max), cooldown: cd}
}

// Check returns [ErrMFAThrottled] when userID has no attempts left.
func (l *MFAAttempts) Check(ctx context.Context, userID string) error {
	count, err := l.redis.Get(ctx, mfaAttemptsPrefix+userID).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrMFAThrottleUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrMFAThrottled
	}
	return nil
}

// RecordFailure counts one wrong code.
func (l *MFAAttempts) RecordFailure(ctx context.Context, userID string) error {
	err := incrWindowScript.Run(ctx, l.redis, []string{mfaAttemptsPrefix + userID}, l.cooldown.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFAThrottleUnavailable, err)
	}
	return nil
}

// Reset clears the counter after a correct code.
func (l *MFAAttempts) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, mfaAttemptsPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMFAThrottleUnavailable, err)
	}
	return nil
}
