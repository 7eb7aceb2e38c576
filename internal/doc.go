// Package internal contains helpers private to authcore: secure random
// generation and device fingerprints.
//
// # Sub-packages
//
//   - async: bounded fire-and-forget task runner
//   - limiters: lockout and MFA attempt counters
//   - rate: fail-open login and API rate limiting
package internal
