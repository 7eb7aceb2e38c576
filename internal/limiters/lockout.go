package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockAttemptsPrefix = "lock:attempts:"
	lockReasonPrefix   = "lock:reason:"
	lockClaimPrefix    = "lock:claim:"

	defaultLockThreshold = 10
	defaultLockWindow    = time.Hour

	// lockClaimTTL bounds how long a crashed locker can block the next one.
	lockClaimTTL = 30 * time.Second
)

// incrWindowScript increments KEYS[1] and starts its window of ARGV[1]
// milliseconds on the first hit.
var incrWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutConfig holds the automatic lockout policy.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

// Lockout tracks failed login attempts per user and the reason of the
// current lock.
type Lockout struct {
	redis     redis.UniversalClient
	threshold int64
	window    time.Duration
}

// NewLockout creates a lockout counter. Zero-value fields fall back to
// 10 attempts per hour.
func NewLockout(redisClient redis.UniversalClient, cfg LockoutConfig) *Lockout {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultLockThreshold
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultLockWindow
	}
	return &Lockout{redis: redisClient, threshold: int64(threshold), window: window}
}

// Threshold returns the failure count that triggers a lock.
func (l *Lockout) Threshold() int {
	return int(l.threshold)
}

// RecordFailure increments the failure counter of userID and returns the new
// count and whether the threshold was reached.
func (l *Lockout) RecordFailure(ctx context.Context, userID string) (int, bool, error) {
	count, err := incrWindowScript.Run(ctx, l.redis, []string{lockAttemptsPrefix + userID}, l.window.Milliseconds()).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), count >= l.threshold, nil
}

// Reset clears the failure counter of userID.
func (l *Lockout) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, lockAttemptsPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure count of userID. A missing or
// malformed counter reads as zero.
func (l *Lockout) FailureCount(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, lockAttemptsPrefix+userID).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}

// Claim reserves the right to lock userID. Only one of several concurrent
// callers gets true; the claim lapses after 30 seconds or on Clear.
func (l *Lockout) Claim(ctx context.Context, userID string) (bool, error) {
	ok, err := l.redis.SetNX(ctx, lockClaimPrefix+userID, 1, lockClaimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return ok, nil
}

// Release drops a claim taken by Claim.
func (l *Lockout) Release(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, lockClaimPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// SetReason stores the lock reason and clears the failure counter in one
// transaction.
func (l *Lockout) SetReason(ctx context.Context, userID, reason string) error {
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, lockReasonPrefix+userID, reason, 0)
		pipe.Del(ctx, lockAttemptsPrefix+userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Reason returns the stored lock reason, or "" when none is set.
func (l *Lockout) Reason(ctx context.Context, userID string) (string, error) {
	reason, err := l.redis.Get(ctx, lockReasonPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return reason, nil
}

// Clear removes the lock reason, the failure counter and any claim.
func (l *Lockout) Clear(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, lockReasonPrefix+userID, lockAttemptsPrefix+userID, lockClaimPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
