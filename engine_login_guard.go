package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/internal/rate"
)

// RateTier selects an API rate-limit policy.
type RateTier int

const (
	// TierAPI is the per-IP limit for general API traffic.
	TierAPI RateTier = iota
	// TierAuth is the stricter per-IP limit for login, signup and reset.
	TierAuth
	// TierUser is the limit for authenticated traffic.
	TierUser
)

// RateDecision is the outcome of [Engine.AllowRequest].
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Scope      string
}

// CheckLogin runs the abuse guard before credentials are verified, in
// order: IP block, login rate limit, account lock. email and userID may be
// empty when unknown; ip defaults to [ClientIPFromContext].
//
// Errors: [ErrIPBlocked], *[RateLimitedError], *[AccountLockedError],
// [ErrAccountUnavailable], or a store-unavailable error. Rate limiting
// fails open; the IP and lock checks fail closed.
func (e *Engine) CheckLogin(ctx context.Context, email, ip, userID string) (*LoginDecision, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if ip == "" {
		ip = ClientIPFromContext(ctx)
	}

	blocked, err := e.IsIPBlocked(ctx, ip)
	if err != nil {
		return nil, err
	}
	if blocked {
		e.emitAudit(ctx, auditEventLoginBlocked, false, userID, "", ErrIPBlocked, nil)
		return nil, ErrIPBlocked
	}

	d := e.limiter.IsLoginAllowed(ctx, email, ip)
	if !d.Allowed {
		e.metricInc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, "login_"+d.Scope, d.RetryAfter)
		return nil, &RateLimitedError{Scope: "login_" + d.Scope, RetryAfter: d.RetryAfter}
	}

	if userID != "" {
		if err := e.checkAccount(ctx, userID); err != nil {
			e.emitAudit(ctx, auditEventLoginBlocked, false, userID, "", err, nil)
			return nil, err
		}
	}

	return &LoginDecision{RemainingAttempts: e.limiter.RemainingAttempts(ctx, email)}, nil
}

// RecordLoginFailure records a failed credential check against the email
// and IP rate limits and, when the user is known, the lockout counter. It
// reports whether the account is locked after the call.
func (e *Engine) RecordLoginFailure(ctx context.Context, email, ip, userID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if ip == "" {
		ip = ClientIPFromContext(ctx)
	}

	e.limiter.RecordFailedLogin(ctx, email, ip)
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", nil, nil)

	if userID == "" {
		return false, nil
	}
	return e.RecordFailedAttempt(ctx, userID)
}

// RecordLoginSuccess clears the email rate-limit counter and the lockout
// counter. The IP counter is left to expire.
func (e *Engine) RecordLoginSuccess(ctx context.Context, email, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	e.limiter.ClearFailedLogins(ctx, email)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, userID, "", nil, nil)

	if userID == "" {
		return nil
	}
	return e.lockout.Reset(ctx, userID)
}

// RemainingLoginAttempts returns how many failures email may still record
// in the current window.
func (e *Engine) RemainingLoginAttempts(ctx context.Context, email string) int {
	if e == nil {
		return 0
	}
	return e.limiter.RemainingAttempts(ctx, email)
}

// AllowRequest counts one request against the tier limit of key (the
// client IP, or the user id for TierUser). IPs with an active ALLOW rule
// bypass the per-IP tiers. Limiter failures allow the request.
func (e *Engine) AllowRequest(ctx context.Context, tier RateTier, key string) RateDecision {
	if e == nil {
		return RateDecision{Allowed: true}
	}

	if tier != TierUser && e.ipRules != nil && key != "" {
		allowed, err := e.ipRules.IsAllowed(ctx, key)
		if err != nil {
			e.logger.Debug("ip allow lookup failed", zap.String("ip", key), zap.Error(err))
		} else if allowed {
			return RateDecision{Allowed: true, Scope: "allowlist"}
		}
	}

	d := e.limiter.AllowAPI(ctx, rateTier(tier), key)
	if !d.Allowed {
		e.metricInc(MetricAPIRateLimited)
		e.emitRateLimit(ctx, d.Scope, d.RetryAfter)
	}
	return RateDecision{
		Allowed:    d.Allowed,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		RetryAfter: d.RetryAfter,
		Scope:      d.Scope,
	}
}

func rateTier(t RateTier) rate.Tier {
	switch t {
	case TierAuth:
		return rate.TierAuth
	case TierUser:
		return rate.TierUser
	default:
		return rate.TierAPI
	}
}
