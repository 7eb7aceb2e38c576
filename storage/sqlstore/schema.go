package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	version  int
	sqlite   string
	postgres string
}

var migrations = []migration{
	{
		version: 1,
		sqlite: `
CREATE TABLE IF NOT EXISTS users (
	user_id    TEXT PRIMARY KEY,
	user_uuid  TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT 'USER',
	status     TEXT NOT NULL DEFAULT 'ACTIVE',
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS ip_rules (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ip_address TEXT NOT NULL,
	rule_type  TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_by TEXT,
	expires_at TIMESTAMP,
	is_active  BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ip_rules_one_active ON ip_rules (ip_address, rule_type) WHERE is_active;
CREATE INDEX IF NOT EXISTS ip_rules_expiry ON ip_rules (expires_at) WHERE is_active;
CREATE TABLE IF NOT EXISTS two_factor (
	user_id          TEXT PRIMARY KEY,
	secret_enc       TEXT NOT NULL DEFAULT '',
	enabled          BOOLEAN NOT NULL DEFAULT 0,
	backup_codes_enc TEXT NOT NULL DEFAULT '',
	last_used_at     TIMESTAMP,
	updated_at       TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS passkeys (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       TEXT NOT NULL,
	credential_id TEXT NOT NULL UNIQUE,
	public_key    BLOB NOT NULL,
	algorithm     INTEGER NOT NULL,
	sign_count    INTEGER NOT NULL DEFAULT 0,
	transports    TEXT NOT NULL DEFAULT '',
	device_name   TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	last_used_at  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS passkeys_user ON passkeys (user_id);
`,
		postgres: `
CREATE TABLE IF NOT EXISTS users (
	user_id    TEXT PRIMARY KEY,
	user_uuid  TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT 'USER',
	status     TEXT NOT NULL DEFAULT 'ACTIVE',
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ip_rules (
	id         BIGSERIAL PRIMARY KEY,
	ip_address TEXT NOT NULL,
	rule_type  TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_by TEXT,
	expires_at TIMESTAMPTZ,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ip_rules_one_active ON ip_rules (ip_address, rule_type) WHERE is_active;
CREATE INDEX IF NOT EXISTS ip_rules_expiry ON ip_rules (expires_at) WHERE is_active;
CREATE TABLE IF NOT EXISTS two_factor (
	user_id          TEXT PRIMARY KEY,
	secret_enc       TEXT NOT NULL DEFAULT '',
	enabled          BOOLEAN NOT NULL DEFAULT FALSE,
	backup_codes_enc TEXT NOT NULL DEFAULT '',
	last_used_at     TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS passkeys (
	id            BIGSERIAL PRIMARY KEY,
	user_id       TEXT NOT NULL,
	credential_id TEXT NOT NULL UNIQUE,
	public_key    BYTEA NOT NULL,
	algorithm     BIGINT NOT NULL,
	sign_count    BIGINT NOT NULL DEFAULT 0,
	transports    TEXT NOT NULL DEFAULT '',
	device_name   TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	last_used_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS passkeys_user ON passkeys (user_id);
`,
	},
	{
		version: 2,
		sqlite: `
ALTER TABLE two_factor ADD COLUMN last_used_counter INTEGER NOT NULL DEFAULT 0;
ALTER TABLE passkeys ADD COLUMN user_handle TEXT NOT NULL DEFAULT '';
ALTER TABLE passkeys ADD COLUMN backup_eligible BOOLEAN NOT NULL DEFAULT 0;
ALTER TABLE passkeys ADD COLUMN attestation_type TEXT NOT NULL DEFAULT 'none';
`,
		postgres: `
ALTER TABLE two_factor ADD COLUMN IF NOT EXISTS last_used_counter BIGINT NOT NULL DEFAULT 0;
ALTER TABLE passkeys ADD COLUMN IF NOT EXISTS user_handle TEXT NOT NULL DEFAULT '';
ALTER TABLE passkeys ADD COLUMN IF NOT EXISTS backup_eligible BOOLEAN NOT NULL DEFAULT FALSE;
ALTER TABLE passkeys ADD COLUMN IF NOT EXISTS attestation_type TEXT NOT NULL DEFAULT 'none';
`,
	},
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`

// Migrate applies pending migrations and returns the resulting schema
// version. It is safe to call on every start.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	if _, err := db.x.ExecContext(ctx, createVersionTable); err != nil {
		return 0, fmt.Errorf("sqlstore: create version table: %w", err)
	}

	var current int
	if err := db.x.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return 0, fmt.Errorf("sqlstore: read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		stmt := m.sqlite
		if db.driver == DriverPostgres {
			stmt = m.postgres
		}
		err := db.withTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, db.rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version)
			return err
		})
		if err != nil {
			return current, fmt.Errorf("sqlstore: migration %d: %w", m.version, err)
		}
		current = m.version
	}
	return current, nil
}
