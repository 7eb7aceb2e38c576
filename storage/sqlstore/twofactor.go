package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/twofactor"
)

// TwoFactorStore implements [twofactor.Store].
type TwoFactorStore struct {
	db *DB
}

func NewTwoFactorStore(db *DB) *TwoFactorStore {
	return &TwoFactorStore{db: db}
}

var _ twofactor.Store = (*TwoFactorStore)(nil)

func (s *TwoFactorStore) Get(ctx context.Context, userID string) (*twofactor.Record, error) {
	var rec twofactor.Record
	err := s.db.x.GetContext(ctx, &rec,
		s.db.rebind(`SELECT user_id, secret_enc, enabled, backup_codes_enc, last_used_at, last_used_counter, updated_at
			FROM two_factor WHERE user_id = ?`),
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, twofactor.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveSecret upserts an unconfirmed secret. Existing backup codes and the
// enabled flag are reset.
func (s *TwoFactorStore) SaveSecret(ctx context.Context, userID, secretEnc string, at time.Time) error {
	_, err := s.db.x.ExecContext(ctx,
		s.db.rebind(`INSERT INTO two_factor (user_id, secret_enc, enabled, backup_codes_enc, updated_at)
			VALUES (?, ?, ?, '', ?)
			ON CONFLICT (user_id) DO UPDATE SET
				secret_enc = excluded.secret_enc,
				enabled = excluded.enabled,
				backup_codes_enc = '',
				updated_at = excluded.updated_at`),
		userID, secretEnc, false, at.UTC(),
	)
	return err
}

func (s *TwoFactorStore) Enable(ctx context.Context, userID, backupCodesEnc string, at time.Time) error {
	return s.update(ctx,
		`UPDATE two_factor SET enabled = ?, backup_codes_enc = ?, updated_at = ? WHERE user_id = ?`,
		true, backupCodesEnc, at.UTC(), userID,
	)
}

func (s *TwoFactorStore) Disable(ctx context.Context, userID string, at time.Time) error {
	return s.update(ctx,
		`UPDATE two_factor SET enabled = ?, secret_enc = '', backup_codes_enc = '', updated_at = ? WHERE user_id = ?`,
		false, at.UTC(), userID,
	)
}

// SwapBackupCodes is a compare-and-swap on backup_codes_enc.
func (s *TwoFactorStore) SwapBackupCodes(ctx context.Context, userID, oldEnc, newEnc string, at time.Time) (bool, error) {
	res, err := s.db.x.ExecContext(ctx,
		s.db.rebind(`UPDATE two_factor SET backup_codes_enc = ?, updated_at = ?
			WHERE user_id = ? AND backup_codes_enc = ?`),
		newEnc, at.UTC(), userID, oldEnc,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *TwoFactorStore) RecordUsage(ctx context.Context, userID string, at time.Time) error {
	at = at.UTC()
	return s.update(ctx,
		`UPDATE two_factor SET last_used_at = ?, updated_at = ? WHERE user_id = ?`,
		at, at, userID,
	)
}

// UpdateLastUsedCounter is a conditional update on last_used_counter, so
// one of two concurrent uses of the same code wins.
func (s *TwoFactorStore) UpdateLastUsedCounter(ctx context.Context, userID string, counter int64, at time.Time) (bool, error) {
	at = at.UTC()
	res, err := s.db.x.ExecContext(ctx,
		s.db.rebind(`UPDATE two_factor SET last_used_counter = ?, last_used_at = ?, updated_at = ?
			WHERE user_id = ? AND last_used_counter < ?`),
		counter, at, at, userID, counter,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *TwoFactorStore) IsEnabled(ctx context.Context, userID string) (bool, error) {
	var enabled bool
	err := s.db.x.GetContext(ctx, &enabled,
		s.db.rebind(`SELECT enabled FROM two_factor WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return enabled, err
}

func (s *TwoFactorStore) update(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.x.ExecContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return twofactor.ErrNotFound
	}
	return nil
}
