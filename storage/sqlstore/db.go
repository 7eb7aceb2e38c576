package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrUnsupportedDriver is returned by Open for drivers other than sqlite
	// and postgres.
	ErrUnsupportedDriver = errors.New("sqlstore: unsupported driver")
)

// Config selects the database.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB is a migrated database handle shared by the stores.
type DB struct {
	x      *sqlx.DB
	driver string
}

// Open connects to the database described by cfg. SQLite handles are
// limited to one open connection.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	x, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		x.SetMaxOpenConns(1)
		if _, err := x.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = x.Close()
			return nil, fmt.Errorf("sqlstore: enable foreign keys: %w", err)
		}
	} else {
		if cfg.MaxOpenConns > 0 {
			x.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			x.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		x.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &DB{x: x, driver: cfg.Driver}, nil
}

// Driver returns the driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the underlying pool.
func (db *DB) Close() error {
	return db.x.Close()
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.x.PingContext(ctx)
}

func (db *DB) rebind(query string) string {
	return db.x.Rebind(query)
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (db *DB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
