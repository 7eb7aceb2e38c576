package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/authcore/ipaccess"
)

const ruleColumns = `id, ip_address, rule_type, reason, created_by, expires_at, is_active, created_at`

// RuleStore implements [ipaccess.RuleStore].
type RuleStore struct {
	db *DB
}

// NewRuleStore returns a RuleStore over db.
func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db}
}

var _ ipaccess.RuleStore = (*RuleStore)(nil)

func (s *RuleStore) FindActive(ctx context.Context, ip string) ([]ipaccess.Rule, error) {
	var rules []ipaccess.Rule
	err := s.db.x.SelectContext(ctx, &rules,
		s.db.rebind(`SELECT `+ruleColumns+` FROM ip_rules WHERE ip_address = ? AND is_active = ?`),
		ip, true,
	)
	return rules, err
}

// Replace deactivates the active rule of the same ip and type and inserts
// rule in one transaction.
func (s *RuleStore) Replace(ctx context.Context, rule ipaccess.Rule) (ipaccess.Rule, error) {
	err := s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.db.rebind(`UPDATE ip_rules SET is_active = ? WHERE ip_address = ? AND rule_type = ? AND is_active = ?`),
			false, rule.IPAddress, rule.Type, true,
		); err != nil {
			return err
		}
		return s.insert(ctx, tx, &rule)
	})
	if err != nil {
		return ipaccess.Rule{}, err
	}
	return rule, nil
}

// InsertIfAbsent inserts rule unless an active rule of the same ip and type
// exists, in which case that rule is returned with false.
func (s *RuleStore) InsertIfAbsent(ctx context.Context, rule ipaccess.Rule) (ipaccess.Rule, bool, error) {
	var (
		out     ipaccess.Rule
		created bool
	)
	err := s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &out,
			s.db.rebind(`SELECT `+ruleColumns+` FROM ip_rules WHERE ip_address = ? AND rule_type = ? AND is_active = ?`),
			rule.IPAddress, rule.Type, true,
		)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := s.insert(ctx, tx, &rule); err != nil {
			return err
		}
		out, created = rule, true
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent insert of the same rule.
			existing, findErr := s.findActiveOfType(ctx, rule.IPAddress, rule.Type)
			if findErr != nil {
				return ipaccess.Rule{}, false, findErr
			}
			return existing, false, nil
		}
		return ipaccess.Rule{}, false, err
	}
	return out, created, nil
}

func (s *RuleStore) findActiveOfType(ctx context.Context, ip string, t ipaccess.RuleType) (ipaccess.Rule, error) {
	var rule ipaccess.Rule
	err := s.db.x.GetContext(ctx, &rule,
		s.db.rebind(`SELECT `+ruleColumns+` FROM ip_rules WHERE ip_address = ? AND rule_type = ? AND is_active = ?`),
		ip, t, true,
	)
	return rule, err
}

func (s *RuleStore) insert(ctx context.Context, tx *sqlx.Tx, rule *ipaccess.Rule) error {
	rule.Active = true
	return tx.QueryRowxContext(ctx,
		s.db.rebind(`INSERT INTO ip_rules (ip_address, rule_type, reason, created_by, expires_at, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		rule.IPAddress, rule.Type, rule.Reason, rule.CreatedBy, utcPtr(rule.ExpiresAt), true, rule.CreatedAt.UTC(),
	).Scan(&rule.ID)
}

// Deactivate marks rule id inactive. Unknown ids return
// [ipaccess.ErrRuleNotFound].
func (s *RuleStore) Deactivate(ctx context.Context, id int64) (ipaccess.Rule, error) {
	var rule ipaccess.Rule
	err := s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &rule, s.db.rebind(`SELECT `+ruleColumns+` FROM ip_rules WHERE id = ?`), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ipaccess.ErrRuleNotFound
			}
			return err
		}
		_, err := tx.ExecContext(ctx, s.db.rebind(`UPDATE ip_rules SET is_active = ? WHERE id = ?`), false, id)
		return err
	})
	if err != nil {
		return ipaccess.Rule{}, err
	}
	rule.Active = false
	return rule, nil
}

func (s *RuleStore) List(ctx context.Context, filter ipaccess.Filter) ([]ipaccess.Rule, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Type != "" {
		where = append(where, "rule_type = ?")
		args = append(args, filter.Type)
	}
	if filter.IPAddress != "" {
		where = append(where, "ip_address = ?")
		args = append(args, filter.IPAddress)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = ?")
		args = append(args, true)
	}

	query := `SELECT ` + ruleColumns + ` FROM ip_rules`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rules := []ipaccess.Rule{}
	if err := s.db.x.SelectContext(ctx, &rules, s.db.rebind(query), args...); err != nil {
		return nil, err
	}
	return rules, nil
}

// DeactivateExpired deactivates the active rules expired at now and returns
// their distinct IP addresses.
func (s *RuleStore) DeactivateExpired(ctx context.Context, now time.Time) ([]string, error) {
	now = now.UTC()
	var ips []string
	err := s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &ips,
			s.db.rebind(`SELECT DISTINCT ip_address FROM ip_rules
				WHERE is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?`),
			true, now,
		); err != nil {
			return err
		}
		if len(ips) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			s.db.rebind(`UPDATE ip_rules SET is_active = ?
				WHERE is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?`),
			false, true, now,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ips, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
