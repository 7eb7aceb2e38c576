package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/MrEthical07/authcore"
)

// UserStore keeps the account status, uuid and role the auth core needs.
// It implements [authcore.UserStatusStore] and [authcore.UserDirectory].
type UserStore struct {
	db  *DB
	now func() time.Time
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db, now: time.Now}
}

var (
	_ authcore.UserStatusStore = (*UserStore)(nil)
	_ authcore.UserDirectory   = (*UserStore)(nil)
)

type userRow struct {
	UserID   string `db:"user_id"`
	UserUUID string `db:"user_uuid"`
	Role     string `db:"role"`
	Status   string `db:"status"`
}

// Upsert creates or updates the account row of ref.
func (s *UserStore) Upsert(ctx context.Context, ref authcore.UserRef, status authcore.AccountStatus) error {
	_, err := s.db.x.ExecContext(ctx,
		s.db.rebind(`INSERT INTO users (user_id, user_uuid, role, status, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				user_uuid = excluded.user_uuid,
				role = excluded.role,
				status = excluded.status,
				updated_at = excluded.updated_at`),
		ref.UserID, ref.UserUUID, ref.Role, string(status), s.now().UTC(),
	)
	return err
}

func (s *UserStore) UserStatus(ctx context.Context, userID string) (authcore.AccountStatus, error) {
	var status string
	err := s.db.x.GetContext(ctx, &status, s.db.rebind(`SELECT status FROM users WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", authcore.ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return authcore.AccountStatus(status), nil
}

func (s *UserStore) SetUserStatus(ctx context.Context, userID string, status authcore.AccountStatus) error {
	res, err := s.db.x.ExecContext(ctx,
		s.db.rebind(`UPDATE users SET status = ?, updated_at = ? WHERE user_id = ?`),
		string(status), s.now().UTC(), userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *UserStore) LookupUser(ctx context.Context, userID string) (authcore.UserRef, error) {
	var row userRow
	err := s.db.x.GetContext(ctx, &row,
		s.db.rebind(`SELECT user_id, user_uuid, role, status FROM users WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.UserRef{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.UserRef{}, err
	}
	return authcore.UserRef{
		UserID:   row.UserID,
		UserUUID: row.UserUUID,
		Role:     row.Role,
		Status:   authcore.AccountStatus(row.Status),
	}, nil
}
