// Package rate implements the Redis-backed fixed-window limiters that guard
// login and API traffic.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE only when the counter moves from 0 to
// 1. Key prefixes:
//   - login:email: failed logins per email (limited at >= max)
//   - login:ip:    failed logins per client IP (limited at >= max)
//   - rate:api:    all API requests per client IP (limited at > max)
//   - rate:auth:   authentication endpoint requests per client IP
//   - rate:user:   API requests per authenticated user
//
// # Failure policy
//
// Every method fails open: a Redis error is logged (sampled) and the request
// is allowed.
package rate
