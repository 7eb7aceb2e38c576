// Package authcore is the authentication core of a multi-channel identity
// service. It turns a successful primary login signal into a bounded-lifetime
// session and protects that process against credential stuffing and abuse.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. The token codec lives in jwt/, Redis session persistence
// in session/, IP rules in ipaccess/, and the second factors in twofactor/
// and passkey/. Counters and background work live under internal/.
//
// Control flow for a login is: IP block, rate limit, lockout check (see
// [Engine.CheckLogin]), then the caller validates the primary credential,
// then the MFA gate, then token issuance.
//
// # What this package must NOT do
//
//   - Validate passwords or parse OAuth2 provider payloads. Callers do that.
//   - Hold ephemeral security state in process memory. Redis is the only
//     source of truth.
//   - Import storage/sqlstore (it imports this package).
//
// # Failure policy
//
// The rate limiter fails open. Token, session, lockout, IP-rule and MFA
// operations fail closed with a distinct infrastructure error.
package authcore
