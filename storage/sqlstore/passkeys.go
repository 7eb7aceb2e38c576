package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/passkey"
)

const passkeyColumns = `id, user_id, credential_id, user_handle, public_key, algorithm, sign_count, backup_eligible, attestation_type, transports, device_name, created_at, last_used_at`

// PasskeyStore implements [passkey.CredentialStore].
type PasskeyStore struct {
	db *DB
}

func NewPasskeyStore(db *DB) *PasskeyStore {
	return &PasskeyStore{db: db}
}

var _ passkey.CredentialStore = (*PasskeyStore)(nil)

func (s *PasskeyStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.x.GetContext(ctx, &n, s.db.rebind(`SELECT COUNT(*) FROM passkeys WHERE user_id = ?`), userID)
	return n, err
}

func (s *PasskeyStore) ListByUser(ctx context.Context, userID string) ([]passkey.Credential, error) {
	creds := []passkey.Credential{}
	err := s.db.x.SelectContext(ctx, &creds,
		s.db.rebind(`SELECT `+passkeyColumns+` FROM passkeys WHERE user_id = ? ORDER BY created_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *PasskeyStore) ExistsForUser(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.x.GetContext(ctx, &one, s.db.rebind(`SELECT 1 FROM passkeys WHERE user_id = ? LIMIT 1`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PasskeyStore) FindByCredentialID(ctx context.Context, credentialID string) (*passkey.Credential, error) {
	var cred passkey.Credential
	err := s.db.x.GetContext(ctx, &cred,
		s.db.rebind(`SELECT `+passkeyColumns+` FROM passkeys WHERE credential_id = ?`), credentialID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, passkey.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// Insert stores cred and sets its ID. A taken credential id returns
// [passkey.ErrCredentialExists].
func (s *PasskeyStore) Insert(ctx context.Context, cred *passkey.Credential) error {
	err := s.db.x.QueryRowxContext(ctx,
		s.db.rebind(`INSERT INTO passkeys (user_id, credential_id, user_handle, public_key, algorithm, sign_count,
				backup_eligible, attestation_type, transports, device_name, created_at, last_used_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		cred.UserID, cred.CredentialID, cred.UserHandle, cred.PublicKey, cred.Algorithm, int64(cred.SignCount),
		cred.BackupEligible, attestationType(cred.AttestationType), cred.Transports, cred.DeviceName,
		cred.CreatedAt.UTC(), utcPtr(cred.LastUsedAt),
	).Scan(&cred.ID)
	if isUniqueViolation(err) {
		return passkey.ErrCredentialExists
	}
	return err
}

// UpdateSignCount is a compare-and-swap on sign_count.
func (s *PasskeyStore) UpdateSignCount(ctx context.Context, id int64, oldCount, newCount uint32, usedAt time.Time) (bool, error) {
	res, err := s.db.x.ExecContext(ctx,
		s.db.rebind(`UPDATE passkeys SET sign_count = ?, last_used_at = ? WHERE id = ? AND sign_count = ?`),
		int64(newCount), usedAt.UTC(), id, int64(oldCount),
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

func (s *PasskeyStore) Rename(ctx context.Context, userID string, id int64, name string) error {
	return s.affectOne(ctx, `UPDATE passkeys SET device_name = ? WHERE id = ? AND user_id = ?`, name, id, userID)
}

func (s *PasskeyStore) Delete(ctx context.Context, userID string, id int64) error {
	return s.affectOne(ctx, `DELETE FROM passkeys WHERE id = ? AND user_id = ?`, id, userID)
}

func (s *PasskeyStore) affectOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.x.ExecContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return passkey.ErrCredentialNotFound
	}
	return nil
}

func attestationType(t string) string {
	if t == "" {
		return "none"
	}
	return t
}
