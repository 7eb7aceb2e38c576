package middleware

import (
	"context"
	"net/http"
)

// IPChecker is implemented by *authcore.Engine.
type IPChecker interface {
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

// IPFilter answers 403 IP_BLOCKED for addresses covered by an active BLOCK
// rule. A rule store failure answers 503.
func IPFilter(checker IPChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			blocked, err := checker.IsIPBlocked(r.Context(), requestIP(r))
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "ip rules unavailable")
				return
			}
			if blocked {
				writeError(w, http.StatusForbidden, CodeIPBlocked, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
