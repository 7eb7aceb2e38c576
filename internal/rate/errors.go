package rate

import "errors"

// ErrRedisUnavailable wraps counter store failures before they are logged
// and swallowed by the fail-open policy.
var ErrRedisUnavailable = errors.New("rate limit store unavailable")
