// Package middleware adapts the authcore Engine to net/http.
//
// # Pipeline
//
// The handlers are meant to be chained in this order:
//
//   - [RequestContext] records the client IP and User-Agent on the context.
//   - [IPFilter] rejects requests from blocked addresses (403 IP_BLOCKED).
//   - [RateLimit] applies the per-IP API and auth tiers (429 RATE_LIMITED).
//   - [Guard] verifies the bearer access token and stores its claims.
//   - [UserRateLimit] applies the per-user tier to authenticated traffic.
//
// Rate limiting fails open. The IP filter and the guard fail closed with 503
// when their backing store is unavailable.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or touch Redis itself.
package middleware
