// Package limiters holds the per-user Redis counters behind account lockout
// and MFA code throttling.
//
//   - [Lockout] counts failed logins under lock:attempts:{userId} in a fixed
//     window and stores the lock reason under lock:reason:{userId}.
//   - [MFAAttempts] caps wrong TOTP/backup codes per user in a short window.
//
// Both fail closed: Redis errors are returned wrapped in the package sentinel
// and the caller refuses the operation.
//
// The package only counts. The root engine decides what a reached threshold
// means (status change, notification, session revocation).
package limiters
