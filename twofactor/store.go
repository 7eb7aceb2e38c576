package twofactor

import (
	"context"
	"time"
)

// Record is the persisted two-factor state of one user. Secret and backup
// codes are stored encrypted.
type Record struct {
	UserID         string     `db:"user_id"`
	SecretEnc      string     `db:"secret_enc"`
	Enabled        bool       `db:"enabled"`
	BackupCodesEnc string     `db:"backup_codes_enc"`
	LastUsedAt     *time.Time `db:"last_used_at"`
	// LastUsedCounter is the RFC 6238 time step of the last accepted TOTP
	// code. Codes at or below it are rejected.
	LastUsedCounter int64     `db:"last_used_counter"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Store persists two-factor records. Get returns [ErrNotFound] when the
// user never started setup.
type Store interface {
	Get(ctx context.Context, userID string) (*Record, error)
	// SaveSecret upserts an unconfirmed secret and clears backup codes.
	SaveSecret(ctx context.Context, userID, secretEnc string, at time.Time) error
	// Enable marks the record enabled with the given backup codes.
	Enable(ctx context.Context, userID, backupCodesEnc string, at time.Time) error
	// Disable clears the secret and backup codes.
	Disable(ctx context.Context, userID string, at time.Time) error
	// SwapBackupCodes replaces the backup codes only if the stored value
	// still equals oldEnc. It reports whether the swap happened.
	SwapBackupCodes(ctx context.Context, userID, oldEnc, newEnc string, at time.Time) (bool, error)
	// RecordUsage sets lastUsedAt.
	RecordUsage(ctx context.Context, userID string, at time.Time) error
	// UpdateLastUsedCounter raises the last used TOTP counter to counter
	// and sets lastUsedAt, only while the stored counter is lower. It
	// reports whether the update happened.
	UpdateLastUsedCounter(ctx context.Context, userID string, counter int64, at time.Time) (bool, error)
	IsEnabled(ctx context.Context, userID string) (bool, error)
}
