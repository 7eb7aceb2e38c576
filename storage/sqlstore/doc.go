// Package sqlstore implements the durable stores of authcore on top of sqlx.
//
// Two dialects are supported: SQLite through the pure-Go modernc.org/sqlite
// driver (driver name "sqlite") and Postgres through github.com/lib/pq
// (driver name "postgres"). Queries are written with '?' placeholders and
// rebound for the active driver.
//
// The package provides:
//   - [RuleStore] for ipaccess.RuleStore
//   - [TwoFactorStore] for twofactor.Store
//   - [PasskeyStore] for passkey.CredentialStore
//   - [UserStore] for the root UserStatusStore and UserDirectory
package sqlstore
