package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/ipaccess"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/twofactor"
)

var (
	// ErrInvalidToken covers bad signatures, malformed or expired tokens and
	// tokens of the wrong type.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrTokenNotFound is returned when a refresh token has no live server
	// record: already rotated, revoked or replayed.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrBlacklisted is returned for a revoked access token.
	ErrBlacklisted = errors.New("token blacklisted")
	// ErrRateLimited matches any *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountLocked matches any *AccountLockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnavailable is returned when the account is deleted or
	// pending deletion.
	ErrAccountUnavailable = errors.New("account unavailable")
	// ErrIPBlocked is returned when an active BLOCK rule covers the client IP.
	ErrIPBlocked = errors.New("ip blocked")
	// ErrMFARequired signals that a second factor must be verified first.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAInvalidCode is returned for a wrong TOTP or backup code.
	ErrMFAInvalidCode = errors.New("invalid mfa code")
	// ErrMFAThrottled is returned when too many codes were tried.
	ErrMFAThrottled = limiters.ErrMFAThrottled
	// ErrChallengeExpiredOrMissing means a passkey ceremony must restart.
	ErrChallengeExpiredOrMissing = passkey.ErrChallengeExpiredOrMissing
	// ErrSignatureVerification covers forged assertions and stale counters.
	ErrSignatureVerification = passkey.ErrSignatureVerification
	// ErrUserNotFound is returned by user stores for unknown ids.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionNotFound is returned when revoking an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEngineNotReady is returned by nil or closed engines.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrNotConfigured is returned by operations whose store was not set on
	// the Builder.
	ErrNotConfigured = errors.New("component not configured")

	// ErrSessionStoreUnavailable wraps Redis failures of the session store.
	ErrSessionStoreUnavailable = session.ErrStoreUnavailable
	// ErrLockoutUnavailable wraps lockout counter and user-status failures.
	ErrLockoutUnavailable = limiters.ErrLockoutUnavailable
	// ErrIPRuleStoreUnavailable wraps IP rule store failures.
	ErrIPRuleStoreUnavailable = ipaccess.ErrStoreUnavailable
	// ErrMFAStoreUnavailable wraps two-factor and passkey store failures.
	ErrMFAStoreUnavailable = errors.New("mfa backend unavailable")
)

// RateLimitedError carries the time until the exhausted window resets.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// Is reports whether target is [ErrRateLimited].
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// AccountLockedError carries the stored lock reason.
type AccountLockedError struct {
	Reason string
}

func (e *AccountLockedError) Error() string {
	if e.Reason == "" {
		return ErrAccountLocked.Error()
	}
	return ErrAccountLocked.Error() + ": " + e.Reason
}

// Is reports whether target is [ErrAccountLocked].
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// mfaStoreErr folds the store-unavailable errors of twofactor and passkey
// into ErrMFAStoreUnavailable and leaves other errors untouched.
func mfaStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, twofactor.ErrStoreUnavailable) || errors.Is(err, passkey.ErrStoreUnavailable) ||
		errors.Is(err, limiters.ErrMFAThrottleUnavailable) {
		return fmt.Errorf("%w: %v", ErrMFAStoreUnavailable, err)
	}
	return err
}
