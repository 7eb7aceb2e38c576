package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
)

// RequestLimiter is implemented by *authcore.Engine.
type RequestLimiter interface {
	AllowRequest(ctx context.Context, tier authcore.RateTier, key string) authcore.RateDecision
}

// DefaultAuthPaths are the path prefixes counted against the auth tier.
var DefaultAuthPaths = []string{
	"/api/v1/auth/email/login",
	"/api/v1/auth/email/signup",
	"/api/v1/auth/password/reset",
	"/api/v1/auth/passkey/login",
}

// RateLimit counts each request against the client IP. Paths under one of
// authPaths use the auth tier, everything else the API tier. A nil
// authPaths means [DefaultAuthPaths].
func RateLimit(limiter RequestLimiter, authPaths []string) func(http.Handler) http.Handler {
	if authPaths == nil {
		authPaths = DefaultAuthPaths
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := authcore.TierAPI
			if hasAnyPrefix(r.URL.Path, authPaths) {
				tier = authcore.TierAuth
			}
			if !allow(w, r, limiter, tier, requestIP(r)) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserRateLimit counts each request against the user of the claims stored
// by [Guard]. Requests without claims pass through.
func UserRateLimit(limiter RequestLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if ok && !allow(w, r, limiter, authcore.TierUser, claims.UserID) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allow(w http.ResponseWriter, r *http.Request, limiter RequestLimiter, tier authcore.RateTier, key string) bool {
	d := limiter.AllowRequest(r.Context(), tier, key)
	if d.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	}
	if d.Allowed {
		return true
	}

	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
	return false
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
